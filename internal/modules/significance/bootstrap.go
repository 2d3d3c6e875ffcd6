package significance

import (
	"fmt"
	"math/rand"

	"github.com/aristath/portfolio-bench/pkg/formulas"
)

// DefaultBootstrapIterations is used when the caller passes a non-positive
// iteration count.
const DefaultBootstrapIterations = 10000

// BootstrapResult is the distribution-free complement to the Jobson-Korkie
// test: periods are resampled with replacement (pairwise, preserving the
// cross-strategy dependence) and the Sharpe difference recomputed each time.
type BootstrapResult struct {
	StrategyA    string  `json:"strategy_a"`
	StrategyB    string  `json:"strategy_b"`
	ObservedDiff float64 `json:"observed_diff"`
	PValue       float64 `json:"p_value"`
	Level        float64 `json:"level"`
	Significant  bool    `json:"significant"`
	Iterations   int     `json:"iterations"`
	Seed         int64   `json:"seed"`
}

// Bootstrap estimates a two-sided p-value for the Sharpe difference by
// resampling periods with replacement. The seed makes runs reproducible.
func (t *Tester) Bootstrap(nameA, nameB string, a, b []float64, rfPeriodic float64, iterations int, seed int64) (*BootstrapResult, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d observations", ErrMisalignedSeries, len(a), len(b))
	}
	if len(a) < MinObservations {
		return nil, fmt.Errorf("%w: need at least %d observations, got %d",
			ErrMisalignedSeries, MinObservations, len(a))
	}
	if iterations <= 0 {
		iterations = DefaultBootstrapIterations
	}

	obs := len(a)
	observed := formulas.SharpeRatio(a, rfPeriodic) - formulas.SharpeRatio(b, rfPeriodic)

	rng := rand.New(rand.NewSource(seed))
	resampledA := make([]float64, obs)
	resampledB := make([]float64, obs)

	// Centered bootstrap: count how often the resampled difference deviates
	// from its center by at least the observed difference.
	diffs := make([]float64, iterations)
	meanDiff := 0.0
	for it := 0; it < iterations; it++ {
		for i := 0; i < obs; i++ {
			j := rng.Intn(obs)
			resampledA[i] = a[j]
			resampledB[i] = b[j]
		}
		diffs[it] = formulas.SharpeRatio(resampledA, rfPeriodic) - formulas.SharpeRatio(resampledB, rfPeriodic)
		meanDiff += diffs[it]
	}
	meanDiff /= float64(iterations)

	extreme := 0
	for _, d := range diffs {
		if abs(d-meanDiff) >= abs(observed) {
			extreme++
		}
	}

	res := &BootstrapResult{
		StrategyA:    nameA,
		StrategyB:    nameB,
		ObservedDiff: observed,
		PValue:       float64(extreme) / float64(iterations),
		Level:        t.SignificanceLevel,
		Iterations:   iterations,
		Seed:         seed,
	}
	res.Significant = res.PValue < t.SignificanceLevel
	return res, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
