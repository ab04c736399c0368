package strategy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Router fans one market event out to every registered strategy and merges
// the resulting signals into a deterministic order. Events for the same
// symbol must be fed by a single goroutine; distinct symbols may be routed
// concurrently.
type Router struct {
	registry    *Registry
	tracker     *Tracker
	maxEventAge time.Duration
	logger      *slog.Logger
}

// NewRouter creates a router over the given registry and shared tracker.
func NewRouter(registry *Registry, tracker *Tracker, maxEventAge time.Duration, logger *slog.Logger) *Router {
	return &Router{
		registry:    registry,
		tracker:     tracker,
		maxEventAge: maxEventAge,
		logger:      logger.With(slog.String("component", "strategy_router")),
	}
}

// Route evaluates one event against all strategies and returns the merged
// signals, oldest first, ties broken by strategy priority. Stale events are
// dropped without evaluation.
func (r *Router) Route(ctx context.Context, event domain.MarketEvent) ([]domain.TradingSignal, error) {
	if event.Stale(time.Now().UTC(), r.maxEventAge) {
		r.logger.Debug("dropping stale event",
			slog.String("symbol", event.Symbol),
			slog.Time("timestamp", event.Timestamp),
		)
		return nil, nil
	}

	// The window update happens once per event, before fan-out, so every
	// strategy sees the same statistics.
	r.tracker.Observe(event.Symbol, event.Price)

	strategies := r.registry.List()
	results := make([]*domain.TradingSignal, len(strategies))

	var wg sync.WaitGroup
	for i, s := range strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			sig, err := s.GenerateSignal(ctx, event)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("strategy failed",
						slog.String("strategy", string(s.Type())),
						slog.String("symbol", event.Symbol),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			results[i] = sig
		}(i, s)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var signals []domain.TradingSignal
	for _, sig := range results {
		if sig == nil || sig.Action == domain.ActionHold {
			continue
		}
		if err := sig.Validate(); err != nil {
			r.logger.Warn("discarding invalid signal",
				slog.String("strategy", string(sig.Strategy)),
				slog.String("error", err.Error()),
			)
			continue
		}
		signals = append(signals, *sig)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if !signals[i].CreatedAt.Equal(signals[j].CreatedAt) {
			return signals[i].CreatedAt.Before(signals[j].CreatedAt)
		}
		return signals[i].Strategy.Priority() < signals[j].Strategy.Priority()
	})
	return signals, nil
}
