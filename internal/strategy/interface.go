// Package strategy converts market events into trading signals. Strategies
// are pure: signal generation reads only the event and the strategy's own
// accumulated state, never the network.
package strategy

import (
	"context"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Strategy is the contract every variant implements. GenerateSignal returns
// nil when the event does not warrant a trade.
type Strategy interface {
	Type() domain.StrategyType
	GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error)
}

// Config holds the parameters shared by all strategy variants.
type Config struct {
	OrderSize     float64
	WindowSize    int
	SignalTTL     time.Duration
	MomentumMin   float64
	ReversionBand float64
	MinEdgeBps    float64
}
