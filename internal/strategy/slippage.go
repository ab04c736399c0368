package strategy

// EstimateSlippage models expected price impact as a function of order size
// relative to pool liquidity. The estimate grows monotonically with the
// size/liquidity ratio and saturates at 1.0; a pool with no measurable
// liquidity cannot absorb any order, so the estimate is exactly 1.0.
func EstimateSlippage(orderSize, liquidity float64) float64 {
	if orderSize <= 0 {
		return 0
	}
	if liquidity <= 0 {
		return 1.0
	}
	ratio := orderSize / liquidity
	est := ratio / (1 + ratio)
	if est > 1.0 {
		est = 1.0
	}
	return est
}
