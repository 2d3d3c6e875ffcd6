package significance

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	seriesA = []float64{0.021, -0.012, 0.034, 0.008, -0.025, 0.017, 0.002, 0.029, -0.008, 0.014, 0.006, -0.019}
	seriesB = []float64{0.009, -0.004, 0.018, 0.011, -0.015, 0.008, 0.006, 0.012, -0.002, 0.007, 0.010, -0.009}
)

func newTester() *Tester {
	return NewTester(12, 0.05, zerolog.Nop())
}

func TestJobsonKorkie_Basic(t *testing.T) {
	res, err := newTester().JobsonKorkie("mean_variance", "risk_parity", seriesA, seriesB, 0.005)
	require.NoError(t, err)

	assert.Equal(t, "mean_variance", res.StrategyA)
	assert.Equal(t, "risk_parity", res.StrategyB)
	assert.Equal(t, 12, res.Observations)
	assert.False(t, res.Indeterminate)
	assert.InDelta(t, res.SharpeA-res.SharpeB, res.Diff, 1e-12)
	assert.InDelta(t, res.SharpeA*math.Sqrt(12), res.AnnualSharpeA, 1e-12)
	assert.GreaterOrEqual(t, res.PValue, 0.0)
	assert.LessOrEqual(t, res.PValue, 1.0)
}

func TestJobsonKorkie_SymmetricUpToSign(t *testing.T) {
	tester := newTester()
	ab, err := tester.JobsonKorkie("A", "B", seriesA, seriesB, 0.005)
	require.NoError(t, err)
	ba, err := tester.JobsonKorkie("B", "A", seriesB, seriesA, 0.005)
	require.NoError(t, err)

	assert.InDelta(t, -ab.Diff, ba.Diff, 1e-12)
	assert.InDelta(t, -ab.TStat, ba.TStat, 1e-12)
	assert.InDelta(t, ab.PValue, ba.PValue, 1e-12)
	assert.Equal(t, ab.Significant, ba.Significant)
}

func TestJobsonKorkie_IdenticalSeries(t *testing.T) {
	res, err := newTester().JobsonKorkie("A", "A", seriesA, seriesA, 0.005)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, res.Diff, 1e-12)
	assert.InDelta(t, 1.0, res.PValue, 1e-9)
	assert.False(t, res.Significant)
	assert.False(t, res.Indeterminate, "zero difference is determinate")
}

func TestJobsonKorkie_IndeterminateVariance(t *testing.T) {
	// b is a scaled copy of a: correlation 1 but different Sharpe ratios,
	// which can push the variance estimate to zero or below. With a loud
	// risk-free rate the Sharpe ratios differ, so the result must be
	// flagged indeterminate rather than reported as t = 0.
	a := seriesA
	b := make([]float64, len(a))
	for i, v := range a {
		b[i] = 2 * v
	}

	res, err := newTester().JobsonKorkie("A", "2A", a, b, 0.005)
	require.NoError(t, err)

	if res.Indeterminate {
		assert.Equal(t, 0.0, res.TStat)
		assert.False(t, res.Significant)
	} else {
		// Variance stayed positive; the test must still be well-formed.
		assert.Greater(t, res.PValue, 0.0)
	}
}

func TestJobsonKorkie_MisalignedSeries(t *testing.T) {
	_, err := newTester().JobsonKorkie("A", "B", seriesA, seriesB[:6], 0.005)
	assert.ErrorIs(t, err, ErrMisalignedSeries)

	_, err = newTester().JobsonKorkie("A", "B", seriesA[:2], seriesB[:2], 0.005)
	assert.ErrorIs(t, err, ErrMisalignedSeries)
}

func TestJobsonKorkie_LargeDifferenceIsSignificant(t *testing.T) {
	// 60 observations of a strongly positive series against pure noise
	// around zero: the difference should clear the 5% level.
	a := make([]float64, 60)
	b := make([]float64, 60)
	for i := range a {
		a[i] = 0.02 + 0.001*float64(i%5)
		b[i] = 0.01 * float64(i%3-1) // cycles -0.01, 0, 0.01
	}

	res, err := newTester().JobsonKorkie("winner", "noise", a, b, 0.0)
	require.NoError(t, err)
	require.False(t, res.Indeterminate)
	assert.True(t, res.Significant, "p=%v", res.PValue)
	assert.Greater(t, res.TStat, 0.0)
}
