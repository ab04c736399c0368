package domain

import "time"

// AIDecision is the advisory response from the external AI gateway. The
// pipeline must behave correctly when it is absent: the AI step degrades,
// it never fails a trade.
type AIDecision struct {
	Action            Action
	Confidence        float64 // [0,1]
	Reasoning         string
	RecommendedParams map[string]float64 // e.g. "quantity", "limit_price"
	ReceivedAt        time.Time
}

// AdjustedQuantity returns the AI-recommended quantity when present and
// sane, otherwise the fallback. The recommendation can only shrink an
// order, never grow it past what risk approved.
func (d *AIDecision) AdjustedQuantity(fallback float64) float64 {
	if d == nil {
		return fallback
	}
	q, ok := d.RecommendedParams["quantity"]
	if !ok || q <= 0 || q >= fallback {
		return fallback
	}
	return q
}
