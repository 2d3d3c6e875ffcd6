package allocation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

// newParams builds estimation parameters directly from annualized moments.
func newParams(symbols []string, mu []float64, cov [][]float64) *estimation.Parameters {
	n := len(symbols)
	sym := mat.NewSymDense(n, nil)
	vols := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	for i := 0; i < n; i++ {
		vols[i] = math.Sqrt(cov[i][i])
	}
	return &estimation.Parameters{
		Symbols:         symbols,
		ExpectedReturns: mu,
		CovMatrix:       sym,
		Volatilities:    vols,
		Observations:    24,
	}
}

func assertValidWeights(t *testing.T, w []float64, lower, upper float64) {
	t.Helper()
	require.NotEmpty(t, w)
	assert.InDelta(t, 1.0, weightSum(w), WeightSumTolerance, "weights must sum to 1")
	for i, v := range w {
		assert.GreaterOrEqual(t, v, lower-1e-9, "weight %d below lower bound", i)
		assert.LessOrEqual(t, v, upper+1e-9, "weight %d above upper bound", i)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		n       int
		wantErr error
	}{
		{"empty universe", DefaultConfig(), 0, ErrEmptyUniverse},
		{"valid default", DefaultConfig(), 5, nil},
		{"lower above upper", Config{LowerBound: 0.5, UpperBound: 0.2}, 5, ErrInfeasibleBounds},
		{"budget unreachable from above", Config{LowerBound: 0.3, UpperBound: 1.0}, 5, ErrInfeasibleBounds},
		{"budget unreachable from below", Config{LowerBound: 0.0, UpperBound: 0.1}, 5, ErrInfeasibleBounds},
		{"tight but feasible", Config{LowerBound: 0.02, UpperBound: 0.20}, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.n)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClampToBounds(t *testing.T) {
	t.Run("already feasible is untouched", func(t *testing.T) {
		w := clampToBounds([]float64{0.5, 0.3, 0.2}, 0.0, 1.0)
		assert.InDelta(t, 0.5, w[0], 1e-9)
		assert.InDelta(t, 0.3, w[1], 1e-9)
		assert.InDelta(t, 0.2, w[2], 1e-9)
	})

	t.Run("clipping redistributes to keep the budget", func(t *testing.T) {
		w := clampToBounds([]float64{0.9, 0.05, 0.05}, 0.0, 0.5)
		assertValidWeights(t, w, 0.0, 0.5)
		assert.InDelta(t, 0.5, w[0], 1e-6, "dominant weight should sit at the cap")
	})

	t.Run("lower bound pulls small weights up", func(t *testing.T) {
		w := clampToBounds([]float64{0.98, 0.01, 0.01}, 0.05, 0.90)
		assertValidWeights(t, w, 0.05, 0.90)
	})
}

func TestEqualWeight(t *testing.T) {
	alloc := NewEqualWeight()
	assert.Equal(t, StrategyEqualWeight, alloc.Name())
	assert.False(t, alloc.NeedsParameters())

	t.Run("empty universe", func(t *testing.T) {
		_, err := alloc.Allocate(&estimation.Parameters{}, DefaultConfig())
		assert.ErrorIs(t, err, ErrEmptyUniverse)
		_, err = alloc.Allocate(nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrEmptyUniverse)
	})

	t.Run("exactly one over n", func(t *testing.T) {
		for _, n := range []int{1, 2, 3, 7, 10} {
			symbols := make([]string, n)
			for i := range symbols {
				symbols[i] = string(rune('A' + i))
			}
			res, err := alloc.Allocate(&estimation.Parameters{Symbols: symbols}, DefaultConfig())
			require.NoError(t, err)

			assert.False(t, res.Degraded())
			assert.True(t, res.Converged)
			for _, w := range res.Weights {
				assert.Equal(t, 1.0/float64(n), w)
			}
		}
	})

	t.Run("independent of return data", func(t *testing.T) {
		params := newParams([]string{"A", "B"},
			[]float64{0.50, -0.30},
			[][]float64{{0.09, 0.0}, {0.0, 0.01}})
		res, err := alloc.Allocate(params, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, 0.5}, res.Weights)
	})
}
