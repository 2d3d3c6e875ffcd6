// Package allocation implements the three weighting strategies: equal weight,
// mean-variance (max Sharpe) and equal risk contribution. Every allocator
// returns a tagged Result so degraded outcomes are visible to the caller
// instead of being absorbed into a log line.
package allocation

import (
	"fmt"
	"math"

	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

// Strategy names as they appear in results, storage and the API.
const (
	StrategyEqualWeight  = "equal_weight"
	StrategyMeanVariance = "mean_variance"
	StrategyRiskParity   = "risk_parity"
)

// WeightSumTolerance is the tolerance on sum(weights) == 1 that every
// allocator output must satisfy, fallbacks included.
const WeightSumTolerance = 1e-6

var (
	// ErrEmptyUniverse indicates there are no assets to allocate over.
	ErrEmptyUniverse = fmt.Errorf("empty asset universe")
	// ErrSingularCovariance indicates the covariance matrix cannot be
	// factorized for the analytical solution.
	ErrSingularCovariance = fmt.Errorf("singular covariance matrix")
	// ErrDegenerateCovariance indicates portfolio volatility collapsed to
	// (numerically) zero during iteration.
	ErrDegenerateCovariance = fmt.Errorf("degenerate covariance matrix")
	// ErrDidNotConverge indicates the optimizer exhausted its budget without
	// meeting tolerance.
	ErrDidNotConverge = fmt.Errorf("optimization did not converge")
	// ErrInfeasibleBounds indicates the box bounds cannot contain a full
	// budget (n*lower > 1 or n*upper < 1).
	ErrInfeasibleBounds = fmt.Errorf("infeasible weight bounds")
)

// FallbackKind tags which fallback, if any, produced the weights.
type FallbackKind string

const (
	// FallbackNone means the primary algorithm succeeded.
	FallbackNone FallbackKind = "none"
	// FallbackAnalytic means the numerical optimizer failed and the
	// closed-form tangency solution was used instead.
	FallbackAnalytic FallbackKind = "analytic_tangency"
	// FallbackInverseVol means the ERC iteration was abandoned and plain
	// inverse-volatility weights were used.
	FallbackInverseVol FallbackKind = "inverse_volatility"
	// FallbackEqualWeight is the last resort for any strategy.
	FallbackEqualWeight FallbackKind = "equal_weight"
)

// Config carries the optimization settings. It is passed by value into every
// Allocate call; allocators hold no ambient configuration.
type Config struct {
	LowerBound    float64 // per-asset minimum weight
	UpperBound    float64 // per-asset maximum weight
	RiskFreeRate  float64 // annualized
	MaxIterations int
	Tolerance     float64
	Damping       float64 // ERC update exponent, in (0, 1]
}

// DefaultConfig returns the settings used when the caller does not override
// them: long-only full-budget bounds, 100-iteration budget, tau = 0.3.
func DefaultConfig() Config {
	return Config{
		LowerBound:    0.0,
		UpperBound:    1.0,
		RiskFreeRate:  0.0,
		MaxIterations: 100,
		Tolerance:     1e-8,
		Damping:       0.3,
	}
}

// Validate checks bound feasibility for a universe of n assets.
func (c Config) Validate(n int) error {
	if n == 0 {
		return ErrEmptyUniverse
	}
	if c.LowerBound < 0 || c.UpperBound > 1 || c.LowerBound > c.UpperBound {
		return fmt.Errorf("%w: lower=%v upper=%v", ErrInfeasibleBounds, c.LowerBound, c.UpperBound)
	}
	if float64(n)*c.LowerBound > 1+WeightSumTolerance || float64(n)*c.UpperBound < 1-WeightSumTolerance {
		return fmt.Errorf("%w: %d assets cannot fill the budget with bounds [%v, %v]",
			ErrInfeasibleBounds, n, c.LowerBound, c.UpperBound)
	}
	return nil
}

// normalized returns a copy with zero-value fields replaced by defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.UpperBound == 0 && c.LowerBound == 0 {
		c.UpperBound = d.UpperBound
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.Damping <= 0 || c.Damping > 1 {
		c.Damping = d.Damping
	}
	return c
}

// Result is the tagged outcome of one allocation. Weights are aligned to the
// parameter symbol order, always sum to 1 within WeightSumTolerance and
// respect the box bounds, fallbacks included.
type Result struct {
	Strategy string
	Symbols  []string
	Weights  []float64

	Fallback       FallbackKind
	FallbackReason string // empty when Fallback == FallbackNone
	Converged      bool
	Iterations     int

	// Risk-contribution diagnostics (populated by the ERC allocator).
	// PreClipRCDeviation is the max relative deviation of per-asset risk
	// contributions from the equal target before bound clipping;
	// PostClipRCDeviation is the same measure after clipping, which can be
	// larger and is reported rather than hidden.
	PreClipRCDeviation  float64
	PostClipRCDeviation float64
	RiskContributions   []float64
}

// Degraded reports whether the weights came from any fallback path.
func (r *Result) Degraded() bool { return r.Fallback != FallbackNone }

// Allocator turns estimated parameters into portfolio weights.
type Allocator interface {
	Name() string
	// NeedsParameters reports whether the strategy requires moment
	// estimation. When false the orchestrator passes parameters holding
	// only the symbol universe.
	NeedsParameters() bool
	Allocate(params *estimation.Parameters, cfg Config) (*Result, error)
}

// equalWeights builds the 1/n vector.
func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

// inverseVolWeights builds w_i proportional to 1/sigma_i, flooring each
// volatility so a riskless column cannot blow up the vector.
func inverseVolWeights(vols []float64) []float64 {
	const floor = 1e-12
	w := make([]float64, len(vols))
	sum := 0.0
	for i, v := range vols {
		w[i] = 1.0 / math.Max(v, floor)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// clampToBounds redistributes weight so the vector satisfies both the box
// bounds and the unit budget. Clipping alone breaks the budget, so the
// residual is spread over assets that still have slack, repeating until the
// sum converges.
func clampToBounds(w []float64, lower, upper float64) []float64 {
	n := len(w)
	out := make([]float64, n)
	copy(out, w)

	for iter := 0; iter < 100; iter++ {
		sum := 0.0
		for i := range out {
			out[i] = math.Min(upper, math.Max(lower, out[i]))
			sum += out[i]
		}
		residual := 1.0 - sum
		if math.Abs(residual) <= WeightSumTolerance/10 {
			break
		}

		// Slack per asset in the direction the residual needs to move.
		slack := make([]float64, n)
		total := 0.0
		for i := range out {
			if residual > 0 {
				slack[i] = upper - out[i]
			} else {
				slack[i] = out[i] - lower
			}
			total += slack[i]
		}
		if total <= 0 {
			break
		}
		for i := range out {
			out[i] += residual * slack[i] / total
		}
	}
	return out
}

// weightSum is a test/diagnostic helper.
func weightSum(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}
