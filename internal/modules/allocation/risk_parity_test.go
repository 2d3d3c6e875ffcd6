package allocation

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskParity_UncorrelatedHomoskedasticIsEqualWeight(t *testing.T) {
	// Equal variances, zero covariances: the ERC solution is 1/n.
	params := newParams(
		[]string{"A", "B", "C", "D"},
		[]float64{0.10, 0.08, 0.12, 0.09},
		[][]float64{
			{0.04, 0, 0, 0},
			{0, 0.04, 0, 0},
			{0, 0, 0.04, 0},
			{0, 0, 0, 0.04},
		},
	)

	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, DefaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.False(t, res.Degraded())
	assertValidWeights(t, res.Weights, 0.0, 1.0)
	for _, w := range res.Weights {
		assert.InDelta(t, 0.25, w, 1e-6)
	}
}

func TestRiskParity_DiagonalClosedForm(t *testing.T) {
	// For a diagonal covariance the ERC weights are proportional to 1/sigma_i.
	// Variances [0.04, 0.09, 0.16] -> vols [0.2, 0.3, 0.4] ->
	// weights ~ [5, 10/3, 2.5] -> normalized ~ [0.4615, 0.3077, 0.2308].
	params := newParams(
		[]string{"A", "B", "C"},
		[]float64{0.10, 0.10, 0.10},
		[][]float64{
			{0.04, 0, 0},
			{0, 0.09, 0},
			{0, 0, 0.16},
		},
	)

	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, DefaultConfig())
	require.NoError(t, err)
	require.True(t, res.Converged)

	invVolSum := 1/0.2 + 1/0.3 + 1/0.4
	want := []float64{(1 / 0.2) / invVolSum, (1 / 0.3) / invVolSum, (1 / 0.4) / invVolSum}

	for i, w := range res.Weights {
		assert.InEpsilon(t, want[i], w, 0.01, "weight %d within 1%% relative tolerance", i)
	}
}

func TestRiskParity_RiskContributionEquality(t *testing.T) {
	// Correlated, heteroskedastic case: the converged iterate must equalize
	// risk contributions within the configured tolerance (pre-clipping).
	params := newParams(
		[]string{"A", "B", "C"},
		[]float64{0.12, 0.08, 0.10},
		[][]float64{
			{0.0400, 0.0120, 0.0060},
			{0.0120, 0.0225, 0.0045},
			{0.0060, 0.0045, 0.0100},
		},
	)

	cfg := DefaultConfig()
	cfg.MaxIterations = 500
	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, cfg)
	require.NoError(t, err)

	require.True(t, res.Converged, "fixed point should converge on a well-conditioned matrix")
	assert.Less(t, res.PreClipRCDeviation, cfg.Tolerance)
	assertValidWeights(t, res.Weights, cfg.LowerBound, cfg.UpperBound)

	// With wide-open bounds the clipping is a no-op, so the post-clip
	// contributions stay equal too.
	n := len(res.RiskContributions)
	require.Equal(t, 3, n)
	total := 0.0
	for _, rc := range res.RiskContributions {
		total += rc
	}
	for _, rc := range res.RiskContributions {
		assert.InDelta(t, total/float64(n), rc, total*1e-6)
	}
}

func TestRiskParity_BoundClippingReintroducesDispersion(t *testing.T) {
	// One asset is far less volatile than the rest; unconstrained ERC gives
	// it a large weight. A tight upper bound forces clipping, and the
	// post-clip dispersion must be reported, not hidden.
	params := newParams(
		[]string{"A", "B", "C"},
		[]float64{0.10, 0.10, 0.10},
		[][]float64{
			{0.0004, 0, 0},
			{0, 0.09, 0},
			{0, 0, 0.16},
		},
	)

	cfg := DefaultConfig()
	cfg.UpperBound = 0.40
	cfg.MaxIterations = 500

	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, cfg)
	require.NoError(t, err)

	assertValidWeights(t, res.Weights, cfg.LowerBound, cfg.UpperBound)
	require.True(t, res.Converged)
	assert.Less(t, res.PreClipRCDeviation, cfg.Tolerance)
	assert.Greater(t, res.PostClipRCDeviation, cfg.Tolerance,
		"clipping a binding bound must show up in the post-clip diagnostic")
}

func TestRiskParity_DegenerateCovarianceFallsBackToInverseVol(t *testing.T) {
	params := newParams(
		[]string{"A", "B"},
		[]float64{0.10, 0.08},
		[][]float64{{0, 0}, {0, 0}},
	)

	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, FallbackInverseVol, res.Fallback)
	assert.Contains(t, res.FallbackReason, "degenerate")
	assert.False(t, res.Converged)
	assertValidWeights(t, res.Weights, 0.0, 1.0)
}

func TestRiskParity_EmptyUniverse(t *testing.T) {
	_, err := NewRiskParity(zerolog.Nop()).Allocate(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyUniverse)
}

func TestRiskParity_NonConvergenceKeepsLastIterate(t *testing.T) {
	params := newParams(
		[]string{"A", "B", "C"},
		[]float64{0.12, 0.08, 0.10},
		[][]float64{
			{0.0400, 0.0120, 0.0060},
			{0.0120, 0.0225, 0.0045},
			{0.0060, 0.0045, 0.0100},
		},
	)

	cfg := DefaultConfig()
	cfg.MaxIterations = 2 // far too few to converge
	res, err := NewRiskParity(zerolog.Nop()).Allocate(params, cfg)
	require.NoError(t, err, "non-convergence must not fail the allocation")

	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, math.IsNaN(res.PreClipRCDeviation))
	assertValidWeights(t, res.Weights, cfg.LowerBound, cfg.UpperBound)
}
