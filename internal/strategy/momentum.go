package strategy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Momentum trades in the direction of the short-horizon trend. It enters only
// when |trend| clears the configured minimum and the rolling window is warm.
type Momentum struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
}

// NewMomentum creates a momentum strategy sharing the given price tracker.
func NewMomentum(cfg Config, tracker *Tracker, logger *slog.Logger) *Momentum {
	return &Momentum{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "strategy_momentum")),
	}
}

func (m *Momentum) Type() domain.StrategyType { return domain.StrategyMomentum }

// GenerateSignal emits a trend-following signal, or nil when the trend is
// inside the entry band.
func (m *Momentum) GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, ok := m.tracker.Stats(event.Symbol)
	if !ok || !stats.Ready {
		return nil, nil
	}
	if math.Abs(event.Trend) < m.cfg.MomentumMin {
		return nil, nil
	}

	action := domain.ActionBuy
	if event.Trend < 0 {
		action = domain.ActionSell
	}

	// Confidence scales with trend strength and decays with volatility: a
	// strong move in a quiet market is more trustworthy than the same move
	// in a choppy one.
	strength := math.Abs(event.Trend) / m.cfg.MomentumMin
	confidence := clamp01(0.5 + 0.1*strength - volPenalty(event, stats))

	now := time.Now().UTC()
	sig := &domain.TradingSignal{
		ID:             uuid.NewString(),
		Symbol:         event.Symbol,
		Strategy:       domain.StrategyMomentum,
		Action:         action,
		TargetPrice:    event.Price,
		Quantity:       m.cfg.OrderSize,
		BaseConfidence: confidence,
		SlippageEst:    EstimateSlippage(m.cfg.OrderSize*event.Price, event.Liquidity),
		Market:         marketContext(event, stats),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.SignalTTL),
	}

	m.logger.Debug("signal generated",
		slog.String("symbol", event.Symbol),
		slog.String("action", string(action)),
		slog.Float64("trend", event.Trend),
		slog.Float64("confidence", confidence),
	)
	return sig, nil
}

// observedVol is the feed-reported volatility, falling back to the window
// stddev relative to the mean price when the feed omits it.
func observedVol(event domain.MarketEvent, stats WindowStats) float64 {
	if event.Volatility != 0 {
		return event.Volatility
	}
	if stats.Mean > 0 {
		return stats.StdDev / stats.Mean
	}
	return 0
}

// marketContext snapshots the event (and window-derived volatility) onto the
// signal for downstream scoring and the AI consult.
func marketContext(event domain.MarketEvent, stats WindowStats) domain.MarketContext {
	return domain.MarketContext{
		Price:      event.Price,
		Volume:     event.Volume,
		Volatility: observedVol(event, stats),
		Trend:      event.Trend,
	}
}

// volPenalty converts observed volatility into a confidence discount in
// [0, 0.3].
func volPenalty(event domain.MarketEvent, stats WindowStats) float64 {
	p := observedVol(event, stats) * 10
	if p > 0.3 {
		p = 0.3
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Compile-time interface check.
var _ Strategy = (*Momentum)(nil)
