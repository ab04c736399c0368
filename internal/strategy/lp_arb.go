package strategy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// LPArbitrage trades the gap between the observed pool price and the rolling
// fair value, entering only when the edge survives the slippage estimate. It
// is the most slippage-sensitive variant: thin pools kill the edge before the
// confidence check does.
type LPArbitrage struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
}

// NewLPArbitrage creates an LP-arbitrage strategy sharing the given price
// tracker.
func NewLPArbitrage(cfg Config, tracker *Tracker, logger *slog.Logger) *LPArbitrage {
	return &LPArbitrage{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "strategy_lp_arbitrage")),
	}
}

func (l *LPArbitrage) Type() domain.StrategyType { return domain.StrategyLPArbitrage }

// GenerateSignal emits an arbitrage signal when the pool price diverges from
// fair value by more than the slippage-adjusted minimum edge.
func (l *LPArbitrage) GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, ok := l.tracker.Stats(event.Symbol)
	if !ok || !stats.Ready || stats.Mean <= 0 {
		return nil, nil
	}

	slippage := EstimateSlippage(l.cfg.OrderSize*event.Price, event.Liquidity)
	if slippage >= 1.0 {
		// No liquidity: any order consumes the pool.
		return nil, nil
	}

	edgeBps := (event.Price - stats.Mean) / stats.Mean * 10_000
	netEdgeBps := math.Abs(edgeBps) - slippage*10_000
	if netEdgeBps < l.cfg.MinEdgeBps {
		return nil, nil
	}

	// Pool priced above fair value: sell into the pool, and vice versa.
	action := domain.ActionSell
	if edgeBps < 0 {
		action = domain.ActionBuy
	}

	confidence := clamp01(0.5 + netEdgeBps/l.cfg.MinEdgeBps*0.1)

	now := time.Now().UTC()
	sig := &domain.TradingSignal{
		ID:             uuid.NewString(),
		Symbol:         event.Symbol,
		Strategy:       domain.StrategyLPArbitrage,
		Action:         action,
		TargetPrice:    event.Price,
		Quantity:       l.cfg.OrderSize,
		BaseConfidence: confidence,
		SlippageEst:    slippage,
		Market:         marketContext(event, stats),
		CreatedAt:      now,
		ExpiresAt:      now.Add(l.cfg.SignalTTL),
	}

	l.logger.Debug("signal generated",
		slog.String("symbol", event.Symbol),
		slog.String("action", string(action)),
		slog.Float64("edge_bps", edgeBps),
		slog.Float64("slippage", slippage),
		slog.Float64("confidence", confidence),
	)
	return sig, nil
}

// Compile-time interface check.
var _ Strategy = (*LPArbitrage)(nil)
