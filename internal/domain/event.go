package domain

import "time"

// MarketEvent is one normalized observation of market state for a symbol.
// Events are immutable once constructed; strategies read them and never
// write them back.
type MarketEvent struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Liquidity  float64   `json:"liquidity"`  // on-chain pool depth in quote units
	Trend      float64   `json:"trend"`      // short-horizon return, signed
	Volatility float64   `json:"volatility"` // recent return stddev
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stale reports whether the event is older than maxAge. Stale events are
// dropped before strategy evaluation rather than acted on.
func (e MarketEvent) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > maxAge
}
