package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// tradingCommand is the wire form of one AI trade instruction read from the
// trading-commands stream.
type tradingCommand struct {
	Symbol            string             `json:"symbol"`
	Action            string             `json:"action"`
	Quantity          float64            `json:"quantity"`
	TargetPrice       float64            `json:"target_price"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning"`
	RecommendedParams map[string]float64 `json:"recommended_params"`
}

// AIDriven turns externally produced trade commands into signals. An
// out-of-process model appends commands to a durable stream; Run drains the
// stream into a per-symbol buffer, and signal generation consumes the newest
// buffered command for the event's symbol. The stream hop keeps GenerateSignal
// free of network calls like every other variant.
type AIDriven struct {
	cfg    Config
	bus    domain.Bus
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]tradingCommand
	lastID  string
}

// NewAIDriven creates an AI-driven strategy reading from the given bus.
func NewAIDriven(cfg Config, bus domain.Bus, logger *slog.Logger) *AIDriven {
	return &AIDriven{
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With(slog.String("component", "strategy_ai_driven")),
		pending: make(map[string]tradingCommand),
		lastID:  "0",
	}
}

func (a *AIDriven) Type() domain.StrategyType { return domain.StrategyAIDriven }

// Run polls the trading-commands stream until the context ends. A newer
// command for a symbol replaces the older one; stale advice is worthless.
func (a *AIDriven) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, err := a.bus.StreamRead(ctx, domain.StreamTradingCommands, a.lastID, 64)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("stream read failed", slog.String("error", err.Error()))
			continue
		}

		for _, msg := range msgs {
			a.lastID = msg.ID
			var cmd tradingCommand
			if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
				a.logger.Debug("skipping undecodable command", slog.String("error", err.Error()))
				continue
			}
			if cmd.Symbol == "" || cmd.Confidence < 0 || cmd.Confidence > 1 {
				continue
			}
			a.mu.Lock()
			a.pending[cmd.Symbol] = cmd
			a.mu.Unlock()
		}
	}
}

// GenerateSignal consumes the buffered command for the event's symbol, if any.
func (a *AIDriven) GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	cmd, ok := a.pending[event.Symbol]
	if ok {
		delete(a.pending, event.Symbol)
	}
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}

	action := domain.Action(cmd.Action)
	if action != domain.ActionBuy && action != domain.ActionSell {
		return nil, nil
	}

	quantity := cmd.Quantity
	if quantity <= 0 {
		quantity = a.cfg.OrderSize
	}
	target := cmd.TargetPrice
	if target <= 0 {
		target = event.Price
	}

	now := time.Now().UTC()
	sig := &domain.TradingSignal{
		ID:             uuid.NewString(),
		Symbol:         event.Symbol,
		Strategy:       domain.StrategyAIDriven,
		Action:         action,
		TargetPrice:    target,
		Quantity:       quantity,
		BaseConfidence: cmd.Confidence,
		SlippageEst:    EstimateSlippage(quantity*target, event.Liquidity),
		Market: domain.MarketContext{
			Price:      event.Price,
			Volume:     event.Volume,
			Volatility: event.Volatility,
			Trend:      event.Trend,
		},
		AIDecision: &domain.AIDecision{
			Action:            action,
			Confidence:        cmd.Confidence,
			Reasoning:         cmd.Reasoning,
			RecommendedParams: cmd.RecommendedParams,
			ReceivedAt:        now,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.SignalTTL),
	}

	a.logger.Info("command converted to signal",
		slog.String("symbol", event.Symbol),
		slog.String("action", string(action)),
		slog.Float64("confidence", cmd.Confidence),
	)
	return sig, nil
}

// Compile-time interface check.
var _ Strategy = (*AIDriven)(nil)
