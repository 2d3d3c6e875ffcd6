package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	// Sample std dev of {1,2,3} is 1
	assert.InDelta(t, 1.0, StdDev([]float64{1, 2, 3}), 1e-12)
}

func TestAnnualizedReturn(t *testing.T) {
	tests := []struct {
		name           string
		returns        []float64
		periodsPerYear float64
		expected       float64
	}{
		{
			name:           "empty returns",
			returns:        []float64{},
			periodsPerYear: 12,
			expected:       0.0,
		},
		{
			name:           "constant monthly return",
			returns:        []float64{0.01, 0.01, 0.01, 0.01},
			periodsPerYear: 12,
			expected:       0.12, // 1% per month, arithmetic annualization
		},
		{
			name:           "mixed monthly returns",
			returns:        []float64{0.02, -0.01, 0.03, 0.0},
			periodsPerYear: 12,
			expected:       0.12, // mean 1% x 12
		},
		{
			name:           "invalid periods per year",
			returns:        []float64{0.01},
			periodsPerYear: 0,
			expected:       0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnnualizedReturn(tt.returns, tt.periodsPerYear)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, 0.0, 0.01}
	want := StdDev(returns) * math.Sqrt(12)
	assert.InDelta(t, want, AnnualizedVolatility(returns, 12), 1e-12)
	assert.Equal(t, 0.0, AnnualizedVolatility(nil, 12))
}

func TestSharpeRatio(t *testing.T) {
	returns := []float64{0.02, 0.01, 0.03, 0.0}
	rf := 0.005
	want := (Mean(returns) - rf) / StdDev(returns)
	assert.InDelta(t, want, SharpeRatio(returns, rf), 1e-12)

	// Zero-volatility series must not divide by zero
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0.0))
}

func TestCorrelation(t *testing.T) {
	x := []float64{0.01, 0.02, 0.03, 0.04}
	assert.InDelta(t, 1.0, Correlation(x, x), 1e-12)

	y := []float64{0.04, 0.03, 0.02, 0.01}
	assert.InDelta(t, -1.0, Correlation(x, y), 1e-12)

	// Mismatched lengths
	assert.Equal(t, 0.0, Correlation(x, y[:2]))
}

func TestCumulativeValue(t *testing.T) {
	values := CumulativeValue([]float64{0.10, -0.05})
	assert.InDelta(t, 1.10, values[0], 1e-12)
	assert.InDelta(t, 1.10*0.95, values[1], 1e-12)
	assert.Empty(t, CumulativeValue(nil))
}

func TestTurnover(t *testing.T) {
	testCases := []struct {
		name     string
		prev     []float64
		curr     []float64
		expected float64
	}{
		{"unchanged weights", []float64{0.5, 0.5}, []float64{0.5, 0.5}, 0},
		{"full swap", []float64{1, 0}, []float64{0, 1}, 1},
		{"partial shift", []float64{0.6, 0.4}, []float64{0.4, 0.6}, 0.2},
		{"three assets", []float64{0.5, 0.3, 0.2}, []float64{0.3, 0.3, 0.4}, 0.2},
		{"mismatched lengths", []float64{0.5, 0.5}, []float64{1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Turnover(tc.prev, tc.curr), 1e-12)
		})
	}
}
