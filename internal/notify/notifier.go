// Package notify delivers operator alerts for trade outcomes and safety
// events. Alerts fan out to every configured channel and are filtered by
// event type so operators receive only what they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Event types emitted by the engine.
const (
	EventTradeConfirmed = "trade_confirmed"
	EventTradeFailed    = "trade_failed"
	EventCircuitBreaker = "circuit_breaker"
	EventModeChange     = "mode_change"
	EventError          = "error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to its senders, filtered by the allowed event
// set. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeResult formats and delivers an alert for one settled execution.
func (n *Notifier) TradeResult(ctx context.Context, res domain.ExecutionResult) error {
	event := EventTradeFailed
	title := fmt.Sprintf("Trade %s: %s", res.Status, res.Symbol)
	if res.Status == domain.ExecutionConfirmed {
		event = EventTradeConfirmed
	}

	msg := fmt.Sprintf("signal %s\nwallet %s\nmode %s\nqty %.4f @ %.4f, fees %.4f (%d attempts)",
		res.SignalID, res.WalletID, res.Mode,
		res.ExecutedQuantity, res.ExecutedPrice, res.Fees, res.Attempts,
	)
	if res.ErrorMessage != "" {
		msg += "\nerror: " + res.ErrorMessage
	}
	return n.Notify(ctx, event, title, msg)
}

// CircuitBreaker delivers the daily-loss breaker alert.
func (n *Notifier) CircuitBreaker(ctx context.Context, loss, limit float64) error {
	return n.Notify(ctx, EventCircuitBreaker,
		"Circuit breaker tripped",
		fmt.Sprintf("daily loss %.2f reached limit %.2f; trading halted until UTC midnight", loss, limit),
	)
}

// ModeChange delivers the paper/live transition alert.
func (n *Notifier) ModeChange(ctx context.Context, from, to domain.ExecutionMode) error {
	return n.Notify(ctx, EventModeChange,
		"Execution mode changed",
		fmt.Sprintf("%s -> %s", from, to),
	)
}

// dispatch delivers to every sender. One sender failing does not stop the
// rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
