package domain

import "time"

// Wallet is an isolated funding source. Budget state is exclusively owned by
// the capital allocator; other components see read-only snapshots.
type Wallet struct {
	ID              string
	Address         string
	Balance         float64
	Reserved        float64 // capital currently held by optimistic reservations
	DailyLossSoFar  float64
	MaxPositionSize float64
	MaxDailyLoss    float64
	IsDefault       bool
	Symbols         []string // symbols this wallet is the preferred default for
	Disabled        bool
}

// AvailableRiskBudget is the capital still open for new allocations.
func (w Wallet) AvailableRiskBudget() float64 {
	budget := w.MaxPositionSize - w.Reserved
	if budget > w.Balance-w.Reserved {
		budget = w.Balance - w.Reserved
	}
	if budget < 0 {
		return 0
	}
	return budget
}

// PrefersSymbol reports whether the wallet is tagged as the default funding
// source for the given symbol.
func (w Wallet) PrefersSymbol(symbol string) bool {
	for _, s := range w.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// PortfolioSnapshot is a read-only view of aggregate exposure used by the
// risk manager. Snapshots are taken per symbol shard, so evaluation for a
// symbol never races settlement for the same symbol.
type PortfolioSnapshot struct {
	PositionSize   map[string]float64 // open position per symbol
	DailyLossSoFar float64
	TakenAt        time.Time
}

// Position returns the open position for symbol, 0 if none.
func (p PortfolioSnapshot) Position(symbol string) float64 {
	if p.PositionSize == nil {
		return 0
	}
	return p.PositionSize[symbol]
}
