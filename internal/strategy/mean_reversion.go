package strategy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// MeanReversion fades deviations from the rolling mean: it sells when price
// stretches above the band and buys when it drops below.
type MeanReversion struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
}

// NewMeanReversion creates a mean-reversion strategy sharing the given price
// tracker.
func NewMeanReversion(cfg Config, tracker *Tracker, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "strategy_mean_reversion")),
	}
}

func (m *MeanReversion) Type() domain.StrategyType { return domain.StrategyMeanReversion }

// GenerateSignal emits a counter-trend signal when the deviation from the
// window mean exceeds the reversion band.
func (m *MeanReversion) GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, ok := m.tracker.Stats(event.Symbol)
	if !ok || !stats.Ready || stats.Mean <= 0 {
		return nil, nil
	}

	deviation := (event.Price - stats.Mean) / stats.Mean
	if math.Abs(deviation) < m.cfg.ReversionBand {
		return nil, nil
	}

	// Price above the band is expected to revert down, so we sell into it.
	action := domain.ActionSell
	if deviation < 0 {
		action = domain.ActionBuy
	}

	stretch := math.Abs(deviation) / m.cfg.ReversionBand
	confidence := clamp01(0.45 + 0.1*stretch)

	now := time.Now().UTC()
	sig := &domain.TradingSignal{
		ID:             uuid.NewString(),
		Symbol:         event.Symbol,
		Strategy:       domain.StrategyMeanReversion,
		Action:         action,
		TargetPrice:    stats.Mean,
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
		slog.Float64("deviation", deviation),
		slog.Float64("confidence", confidence),
	)
	return sig, nil
}

// Compile-time interface check.
var _ Strategy = (*MeanReversion)(nil)
