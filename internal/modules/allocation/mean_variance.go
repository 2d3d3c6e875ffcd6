package allocation

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

// MeanVariance maximizes the Sharpe ratio (mu'w - rf) / sqrt(w'Sigma w)
// subject to sum(w) = 1 and the box bounds.
//
// The primary solver is gonum/optimize with a quadratic penalty on the budget
// constraint and projection onto the bounds (BFGS, with a Nelder-Mead retry).
// On non-convergence it falls back to the analytical tangency portfolio
// w ~ Sigma^-1 (mu - rf*1) clipped to the bounds; a singular covariance or
// non-positive tangency denominator falls back further to equal weight.
// Every fallback is a typed outcome on the Result, never only a log line.
type MeanVariance struct {
	log zerolog.Logger
}

// NewMeanVariance creates the mean-variance allocator.
func NewMeanVariance(log zerolog.Logger) *MeanVariance {
	return &MeanVariance{log: log.With().Str("component", "mean_variance").Logger()}
}

// Name returns the strategy identifier.
func (a *MeanVariance) Name() string { return StrategyMeanVariance }

// NeedsParameters is true: the optimizer runs on estimated moments.
func (a *MeanVariance) NeedsParameters() bool { return true }

// Allocate solves the max-Sharpe problem for the given parameters.
func (a *MeanVariance) Allocate(params *estimation.Parameters, cfg Config) (*Result, error) {
	if params == nil || len(params.Symbols) == 0 {
		return nil, ErrEmptyUniverse
	}
	cfg = cfg.normalized()
	n := len(params.Symbols)
	if err := cfg.Validate(n); err != nil {
		return nil, err
	}

	mu := params.ExpectedReturns
	sigma := params.CovMatrix

	// A singular covariance matrix leaves the Sharpe objective undefined
	// almost everywhere; neither the numerical solver nor the tangency
	// solution can work with it, so go straight to equal weight.
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		a.log.Warn().Msg("Covariance matrix is singular, falling back to equal weight")
		return &Result{
			Strategy:       StrategyMeanVariance,
			Symbols:        append([]string(nil), params.Symbols...),
			Weights:        clampToBounds(equalWeights(n), cfg.LowerBound, cfg.UpperBound),
			Fallback:       FallbackEqualWeight,
			FallbackReason: ErrSingularCovariance.Error(),
			Converged:      false,
		}, nil
	}

	weights, iterations, err := a.solveMaxSharpe(mu, sigma, n, cfg)
	if err == nil {
		return &Result{
			Strategy:   StrategyMeanVariance,
			Symbols:    append([]string(nil), params.Symbols...),
			Weights:    weights,
			Fallback:   FallbackNone,
			Converged:  true,
			Iterations: iterations,
		}, nil
	}

	a.log.Warn().Err(err).Msg("Max-Sharpe optimization failed, trying analytical tangency portfolio")

	tangency, tErr := a.analyticTangency(mu, sigma, n, cfg)
	if tErr == nil {
		return &Result{
			Strategy:       StrategyMeanVariance,
			Symbols:        append([]string(nil), params.Symbols...),
			Weights:        tangency,
			Fallback:       FallbackAnalytic,
			FallbackReason: err.Error(),
			Converged:      false,
			Iterations:     iterations,
		}, nil
	}

	a.log.Warn().Err(tErr).Msg("Analytical tangency portfolio unavailable, falling back to equal weight")

	return &Result{
		Strategy:       StrategyMeanVariance,
		Symbols:        append([]string(nil), params.Symbols...),
		Weights:        clampToBounds(equalWeights(n), cfg.LowerBound, cfg.UpperBound),
		Fallback:       FallbackEqualWeight,
		FallbackReason: fmt.Sprintf("%v; %v", err, tErr),
		Converged:      false,
		Iterations:     iterations,
	}, nil
}

// solveMaxSharpe runs the penalized optimization. Returns ErrDidNotConverge
// (wrapped) when neither method reaches an accepted status.
func (a *MeanVariance) solveMaxSharpe(mu []float64, sigma *mat.SymDense, n int, cfg Config) ([]float64, int, error) {
	const penaltyWeight = 1000.0

	project := func(x []float64) []float64 {
		proj := make([]float64, n)
		for i := range x {
			proj[i] = math.Max(cfg.LowerBound, math.Min(cfg.UpperBound, x[i]))
		}
		return proj
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xp := project(x)

			var ret, variance float64
			for i := 0; i < n; i++ {
				ret += mu[i] * xp[i]
				for j := 0; j < n; j++ {
					variance += xp[i] * xp[j] * sigma.At(i, j)
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xp[i]
			}
			sumPenalty := penaltyWeight * (sum - 1.0) * (sum - 1.0)

			// Zero volatility cannot be divided through; a large penalty
			// steers the optimizer away instead.
			if variance < 1e-12 {
				return 1e6 + sumPenalty
			}
			stdDev := math.Sqrt(variance)

			return -(ret-cfg.RiskFreeRate)/stdDev + sumPenalty
		},
		Grad: func(grad, x []float64) {
			xp := project(x)

			var ret, variance float64
			for i := 0; i < n; i++ {
				ret += mu[i] * xp[i]
				for j := 0; j < n; j++ {
					variance += xp[i] * xp[j] * sigma.At(i, j)
				}
			}
			stdDev := math.Sqrt(math.Max(variance, 1e-12))
			excess := ret - cfg.RiskFreeRate

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xp[j]
				}
				grad[i] = -mu[i]/stdDev + excess*dVariance/(2*stdDev*stdDev*stdDev)
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xp[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}

	settings := &optimize.Settings{MajorIterations: cfg.MaxIterations * 10}
	initial := equalWeights(n)

	accepted := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || !accepted[result.Status] {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDidNotConverge, err)
		}
		if !accepted[result.Status] {
			return nil, result.Stats.MajorIterations,
				fmt.Errorf("%w: status=%v", ErrDidNotConverge, result.Status)
		}
	}

	weights := clampToBounds(project(result.X), cfg.LowerBound, cfg.UpperBound)
	if math.Abs(weightSum(weights)-1.0) > WeightSumTolerance {
		return nil, result.Stats.MajorIterations,
			fmt.Errorf("%w: budget constraint violated after projection", ErrDidNotConverge)
	}
	return weights, result.Stats.MajorIterations, nil
}

// analyticTangency solves w ~ Sigma^-1 (mu - rf*1), clipped to the bounds and
// renormalized. Errors: ErrSingularCovariance when the factorization fails,
// ErrDegenerateCovariance when the tangency denominator is non-positive.
func (a *MeanVariance) analyticTangency(mu []float64, sigma *mat.SymDense, n int, cfg Config) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return nil, ErrSingularCovariance
	}

	excess := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		excess.SetVec(i, mu[i]-cfg.RiskFreeRate)
	}

	solution := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(solution, excess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}

	denominator := 0.0
	for i := 0; i < n; i++ {
		denominator += solution.AtVec(i)
	}
	if denominator <= 0 {
		return nil, fmt.Errorf("%w: non-positive tangency denominator %v", ErrDegenerateCovariance, denominator)
	}

	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[i] = solution.AtVec(i) / denominator
	}
	return clampToBounds(weights, cfg.LowerBound, cfg.UpperBound), nil
}
