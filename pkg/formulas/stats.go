package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the sample covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// AnnualizedReturn annualizes a periodic return series by arithmetic scaling.
// Formula: mean(returns) * periodsPerYear
//
// The engine uses the arithmetic convention throughout (see
// performance.Analyzer); geometric compounding is intentionally not used.
func AnnualizedReturn(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 || periodsPerYear <= 0 {
		return 0
	}
	return Mean(returns) * periodsPerYear
}

// AnnualizedVolatility annualizes the standard deviation of a periodic
// return series.
// Formula: stddev(returns) * sqrt(periodsPerYear)
func AnnualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 || periodsPerYear <= 0 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(periodsPerYear)
}

// SharpeRatio calculates the periodic Sharpe ratio of a return series against
// a periodic risk-free rate. Returns 0 when volatility is zero.
func SharpeRatio(returns []float64, riskFreePeriodic float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	return (Mean(returns) - riskFreePeriodic) / sd
}

// Turnover calculates the one-way portfolio turnover between two weight
// vectors over the same asset universe.
// Formula: 0.5 * sum(|curr_i - prev_i|)
//
// A value of 1 means the entire portfolio was replaced. Mismatched vector
// lengths return 0.
func Turnover(prev, curr []float64) float64 {
	if len(prev) == 0 || len(prev) != len(curr) {
		return 0
	}
	var sum float64
	for i := range curr {
		sum += math.Abs(curr[i] - prev[i])
	}
	return 0.5 * sum
}

// CumulativeValue builds the cumulative portfolio value series from periodic
// returns, starting from an initial value of 1.0.
// Value[i] = (1+r_1)*(1+r_2)*...*(1+r_{i+1})
func CumulativeValue(returns []float64) []float64 {
	values := make([]float64, len(returns))
	v := 1.0
	for i, r := range returns {
		v *= 1 + r
		values[i] = v
	}
	return values
}
