// Package feed ingests market events from the message bus and hands them to
// the pipeline.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Consumer subscribes to the market-events channel and decodes events into a
// typed stream. Undecodable payloads are logged and skipped; the feed never
// stops on bad input.
type Consumer struct {
	bus    domain.Bus
	logger *slog.Logger
}

// NewConsumer creates a market-event consumer over the given bus.
func NewConsumer(bus domain.Bus, logger *slog.Logger) *Consumer {
	return &Consumer{
		bus:    bus,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Run subscribes and forwards decoded events to out until the context ends.
// Sends block when out is full, propagating backpressure to bus consumption.
func (c *Consumer) Run(ctx context.Context, out chan<- domain.MarketEvent) error {
	msgs, err := c.bus.Subscribe(ctx, domain.ChannelMarketEvents)
	if err != nil {
		return err
	}
	c.logger.Info("subscribed", slog.String("channel", domain.ChannelMarketEvents))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var event domain.MarketEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				c.logger.Warn("skipping undecodable event", slog.String("error", err.Error()))
				continue
			}
			if event.Symbol == "" || event.Price <= 0 {
				c.logger.Debug("skipping malformed event", slog.String("symbol", event.Symbol))
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
