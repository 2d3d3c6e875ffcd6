package formulas

import (
	"math"
	"sort"
)

// HistoricalVaR calculates Value at Risk at the specified confidence level
// from a historical return series. For 95% confidence this is the return at
// the 5th percentile (negative for losses).
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	idx := int(math.Ceil(float64(len(sorted))*tailProbability)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// CVaR calculates Conditional Value at Risk (expected shortfall) at the
// specified confidence level. CVaR is the average of the returns in the tail
// beyond the VaR threshold.
//
// Args:
//   - returns: historical returns (negative values are losses)
//   - confidence: confidence level (e.g., 0.95 for 95%)
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	if len(returns) == 1 {
		return returns[0]
	}

	// Sort returns in ascending order (worst first)
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	tailCount := int(math.Ceil(float64(len(sorted)) * tailProbability))

	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	tailReturns := sorted[:tailCount]
	sum := 0.0
	for _, r := range tailReturns {
		sum += r
	}

	return sum / float64(len(tailReturns))
}
