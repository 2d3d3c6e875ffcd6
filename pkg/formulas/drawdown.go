package formulas

// MaxDrawdown calculates the maximum peak-to-trough decline of the cumulative
// portfolio value implied by a periodic return series.
//
// Drawdown at time t is (value_t / peak_t) - 1, where peak_t is the running
// maximum of the cumulative value. The result is <= 0 (0 when the series
// never declines from a peak).
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	value := 1.0
	peak := 1.0
	maxDD := 0.0

	for _, r := range returns {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		dd := value/peak - 1
		if dd < maxDD {
			maxDD = dd
		}
	}

	return maxDD
}
