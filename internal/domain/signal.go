package domain

import (
	"fmt"
	"time"
)

// StrategyType identifies the strategy variant that produced a signal. It is
// a closed set: the risk manager keys its weight table on it, and startup
// validation requires an entry for every variant.
type StrategyType string

const (
	StrategyMomentum      StrategyType = "momentum"
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyLPArbitrage   StrategyType = "lp_arbitrage"
	StrategyAIDriven      StrategyType = "ai_driven"
)

// AllStrategyTypes lists every StrategyType. Used to verify the risk-weight
// table is complete at startup.
var AllStrategyTypes = []StrategyType{
	StrategyMomentum,
	StrategyMeanReversion,
	StrategyLPArbitrage,
	StrategyAIDriven,
}

// Priority returns the merge tie-break rank for signals created at the same
// instant. Lower is higher priority: ai_driven > lp_arbitrage > momentum >
// mean_reversion.
func (t StrategyType) Priority() int {
	switch t {
	case StrategyAIDriven:
		return 0
	case StrategyLPArbitrage:
		return 1
	case StrategyMomentum:
		return 2
	case StrategyMeanReversion:
		return 3
	default:
		return 4
	}
}

// Action is the trade direction requested by a signal.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// MarketContext is the market state a signal was generated against. It rides
// on the signal so risk scoring and the AI consult see the same context the
// strategy saw, not a later observation.
type MarketContext struct {
	Price      float64
	Volume     float64
	Volatility float64 // relative, e.g. window stddev / mean
	Trend      float64
}

// TradingSignal is emitted by a strategy for admission control. Confidence is
// strategy-derived and not yet risk-adjusted.
type TradingSignal struct {
	ID             string // UUID, dedup key
	Symbol         string
	Strategy       StrategyType
	Action         Action
	TargetPrice    float64
	Quantity       float64
	BaseConfidence float64     // [0,1]
	SlippageEst    float64     // [0,1] estimated fraction of target price
	Market         MarketContext
	AIDecision     *AIDecision // attached by ai_driven strategies, nil otherwise
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Validate checks the structural invariants of a signal before it enters the
// pipeline.
func (s TradingSignal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSignal)
	}
	if s.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidSignal)
	}
	if (s.Action == ActionBuy || s.Action == ActionSell) && s.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0 for %s", ErrInvalidSignal, s.Action)
	}
	if s.BaseConfidence < 0 || s.BaseConfidence > 1 {
		return fmt.Errorf("%w: base confidence %v out of [0,1]", ErrInvalidSignal, s.BaseConfidence)
	}
	return nil
}

// ApprovedSignal wraps a TradingSignal that passed admission control. Only the
// risk manager constructs these; a rejected signal never becomes one.
type ApprovedSignal struct {
	Signal           TradingSignal
	ApprovedQuantity float64 // <= Signal.Quantity, possibly clamped
	RiskScore        float64 // [0,1]
	ApprovalReason   string
	ApprovedAt       time.Time
}

// RoutedSignal binds an ApprovedSignal to the wallet funding it. Only the
// capital allocator constructs these; AllocatedCapital never exceeds the
// wallet's available risk budget at creation time.
type RoutedSignal struct {
	Approved         ApprovedSignal
	WalletID         string
	AllocatedCapital float64
	RoutedAt         time.Time
}
