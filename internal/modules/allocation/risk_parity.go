package allocation

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

// RiskParity finds weights where every asset contributes equally to total
// portfolio variance (equal risk contribution).
//
// The solver is the multiplicative fixed point of Maillard, Roncalli and
// Teiletche: starting from inverse-volatility weights, each iteration scales
// w_i by (target / RC_i)^tau where RC_i = w_i * (Sigma w)_i / sigma_p and
// target = sigma_p / n, then renormalizes. Risk-contribution equality is a
// soft target: on a non-converged budget the last iterate is kept and
// flagged, not failed. Bound clipping happens after the iteration and can
// reintroduce dispersion, which is reported as a diagnostic.
type RiskParity struct {
	log zerolog.Logger
}

// NewRiskParity creates the equal-risk-contribution allocator.
func NewRiskParity(log zerolog.Logger) *RiskParity {
	return &RiskParity{log: log.With().Str("component", "risk_parity").Logger()}
}

// Name returns the strategy identifier.
func (a *RiskParity) Name() string { return StrategyRiskParity }

// NeedsParameters is true: the iteration runs on the covariance matrix.
func (a *RiskParity) NeedsParameters() bool { return true }

// Allocate computes ERC weights for the given parameters.
func (a *RiskParity) Allocate(params *estimation.Parameters, cfg Config) (*Result, error) {
	if params == nil || len(params.Symbols) == 0 {
		return nil, ErrEmptyUniverse
	}
	cfg = cfg.normalized()
	n := len(params.Symbols)
	if err := cfg.Validate(n); err != nil {
		return nil, err
	}

	sigma := params.CovMatrix

	// Inverse-volatility start converges faster than equal weight.
	weights := inverseVolWeights(params.Volatilities)

	converged := false
	iterations := 0
	preClipDeviation := math.Inf(1)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		iterations = iter + 1

		portfolioVol := portfolioVolatility(weights, sigma, n)
		if portfolioVol < 1e-12 {
			a.log.Warn().
				Int("iteration", iter).
				Msg("Portfolio volatility collapsed, falling back to inverse-volatility weights")
			return a.inverseVolFallback(params, cfg, iterations), nil
		}

		rc := riskContributions(weights, sigma, portfolioVol, n)
		target := portfolioVol / float64(n)

		preClipDeviation = maxRelativeDeviation(rc, target)
		if preClipDeviation < cfg.Tolerance {
			converged = true
			break
		}

		for i := 0; i < n; i++ {
			// A vanishing contribution would blow the ratio up; the floor
			// together with damping keeps the step bounded.
			contribution := math.Max(rc[i], 1e-12)
			weights[i] *= math.Pow(target/contribution, cfg.Damping)
		}
		normalize(weights)
	}

	if !converged {
		a.log.Warn().
			Int("iterations", iterations).
			Float64("deviation", preClipDeviation).
			Float64("tolerance", cfg.Tolerance).
			Msg("ERC iteration exhausted budget, keeping last iterate")
	}

	clipped := clampToBounds(weights, cfg.LowerBound, cfg.UpperBound)

	postClipDeviation := 0.0
	postVol := portfolioVolatility(clipped, sigma, n)
	var rc []float64
	if postVol >= 1e-12 {
		rc = riskContributions(clipped, sigma, postVol, n)
		postClipDeviation = maxRelativeDeviation(rc, postVol/float64(n))
	}

	return &Result{
		Strategy:            StrategyRiskParity,
		Symbols:             append([]string(nil), params.Symbols...),
		Weights:             clipped,
		Fallback:            FallbackNone,
		Converged:           converged,
		Iterations:          iterations,
		PreClipRCDeviation:  preClipDeviation,
		PostClipRCDeviation: postClipDeviation,
		RiskContributions:   rc,
	}, nil
}

func (a *RiskParity) inverseVolFallback(params *estimation.Parameters, cfg Config, iterations int) *Result {
	weights := clampToBounds(inverseVolWeights(params.Volatilities), cfg.LowerBound, cfg.UpperBound)
	return &Result{
		Strategy:       StrategyRiskParity,
		Symbols:        append([]string(nil), params.Symbols...),
		Weights:        weights,
		Fallback:       FallbackInverseVol,
		FallbackReason: ErrDegenerateCovariance.Error(),
		Converged:      false,
		Iterations:     iterations,
	}
}

func portfolioVolatility(w []float64, sigma symMatrix, n int) float64 {
	var variance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * sigma.At(i, j)
		}
	}
	return math.Sqrt(math.Max(variance, 0))
}

// riskContributions returns RC_i = w_i * (Sigma w)_i / sigma_p.
// The contributions sum to sigma_p.
func riskContributions(w []float64, sigma symMatrix, portfolioVol float64, n int) []float64 {
	rc := make([]float64, n)
	for i := 0; i < n; i++ {
		var marginal float64
		for j := 0; j < n; j++ {
			marginal += sigma.At(i, j) * w[j]
		}
		rc[i] = w[i] * marginal / portfolioVol
	}
	return rc
}

func maxRelativeDeviation(rc []float64, target float64) float64 {
	if target == 0 {
		return math.Inf(1)
	}
	maxDev := 0.0
	for _, c := range rc {
		dev := math.Abs(c/target - 1)
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

func normalize(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

// symMatrix is the read surface the ERC math needs from gonum's SymDense.
type symMatrix interface {
	At(i, j int) float64
}
