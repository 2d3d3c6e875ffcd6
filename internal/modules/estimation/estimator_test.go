package estimation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-bench/internal/modules/returns"
)

func buildMatrix(t *testing.T, symbols []string, data [][]float64) *returns.Matrix {
	t.Helper()
	dates := make([]time.Time, len(data))
	base := time.Date(2016, 1, 31, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, i, 0)
	}
	m, err := returns.NewMatrix(symbols, dates, data)
	require.NoError(t, err)
	return m
}

func TestEstimate_InsufficientData(t *testing.T) {
	data := make([][]float64, MinObservations-1)
	for i := range data {
		data[i] = []float64{0.01}
	}
	m := buildMatrix(t, []string{"A"}, data)

	_, err := NewEstimator(12).Estimate(m)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimate_AnnualizedMoments(t *testing.T) {
	// Alternating returns with known sample moments.
	data := make([][]float64, 12)
	for i := range data {
		if i%2 == 0 {
			data[i] = []float64{0.02, 0.01}
		} else {
			data[i] = []float64{0.0, 0.01}
		}
	}
	m := buildMatrix(t, []string{"A", "B"}, data)

	params, err := NewEstimator(12).Estimate(m)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, params.Symbols)
	assert.Equal(t, 12, params.Observations)

	// Asset A: mean 0.01 -> 12% annualized
	assert.InDelta(t, 0.12, params.ExpectedReturns[0], 1e-12)
	// Asset B: constant 1% -> 12% annualized, zero variance
	assert.InDelta(t, 0.12, params.ExpectedReturns[1], 1e-12)
	assert.InDelta(t, 0.0, params.Volatilities[1], 1e-12)

	// Asset A sample variance: values split evenly between 0.02 and 0.00
	// around mean 0.01 -> var = (12 * 0.0001) / 11, annualized x12.
	wantVarA := 12.0 * 0.0001 / 11.0 * 12.0
	assert.InDelta(t, wantVarA, params.CovMatrix.At(0, 0), 1e-12)
	assert.InDelta(t, math.Sqrt(wantVarA), params.Volatilities[0], 1e-12)

	// Constant column makes the covariance row zero, not dropped.
	assert.InDelta(t, 0.0, params.CovMatrix.At(0, 1), 1e-12)
	assert.InDelta(t, 0.0, params.CovMatrix.At(1, 1), 1e-12)
}

func TestEstimate_CovarianceSymmetry(t *testing.T) {
	data := [][]float64{
		{0.01, 0.03, -0.01}, {0.02, -0.02, 0.00}, {-0.01, 0.01, 0.02},
		{0.00, 0.02, -0.02}, {0.03, -0.01, 0.01}, {-0.02, 0.00, 0.03},
		{0.01, 0.01, -0.01}, {0.02, 0.02, 0.00}, {-0.01, -0.03, 0.02},
		{0.00, 0.01, 0.01}, {0.01, -0.01, -0.02}, {0.02, 0.03, 0.00},
	}
	m := buildMatrix(t, []string{"A", "B", "C"}, data)

	params, err := NewEstimator(12).Estimate(m)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, params.CovMatrix.At(i, j), params.CovMatrix.At(j, i))
		}
		// Diagonal equals squared annualized volatility
		assert.InDelta(t, params.Volatilities[i]*params.Volatilities[i],
			params.CovMatrix.At(i, i), 1e-12)
	}
}

func TestEstimate_IsPure(t *testing.T) {
	data := make([][]float64, 12)
	for i := range data {
		data[i] = []float64{0.01 * float64(i%3), -0.005 * float64(i%2)}
	}
	m := buildMatrix(t, []string{"A", "B"}, data)

	e := NewEstimator(12)
	p1, err := e.Estimate(m)
	require.NoError(t, err)
	p2, err := e.Estimate(m)
	require.NoError(t, err)

	assert.Equal(t, p1.ExpectedReturns, p2.ExpectedReturns)
	assert.True(t, mat64Equal(p1, p2))
}

func mat64Equal(a, b *Parameters) bool {
	n := len(a.Symbols)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if a.CovMatrix.At(i, j) != b.CovMatrix.At(i, j) {
				return false
			}
		}
	}
	return true
}
