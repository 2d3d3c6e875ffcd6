// Package significance compares the Sharpe ratios of two strategies for
// statistical significance: the Jobson-Korkie test as the primary result and
// a bootstrap resampling test as a distribution-free cross-check. The two
// are reported side by side, never merged.
package significance

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/portfolio-bench/pkg/formulas"
)

// ErrMisalignedSeries indicates the two return series do not cover the same
// periods.
var ErrMisalignedSeries = fmt.Errorf("return series are not aligned")

// MinObservations is the minimum series length for a meaningful test.
const MinObservations = 3

// Result is a pairwise Sharpe-ratio comparison.
//
// SharpeA/SharpeB are the per-period Sharpe ratios the test statistic is
// built from; AnnualSharpeA/AnnualSharpeB are the same ratios scaled by
// sqrt(periods per year) for display alongside the other annualized metrics.
type Result struct {
	StrategyA string  `json:"strategy_a"`
	StrategyB string  `json:"strategy_b"`
	SharpeA   float64 `json:"sharpe_a"`
	SharpeB   float64 `json:"sharpe_b"`

	AnnualSharpeA float64 `json:"annual_sharpe_a"`
	AnnualSharpeB float64 `json:"annual_sharpe_b"`

	Diff        float64 `json:"diff"`
	Correlation float64 `json:"correlation"`
	TStat       float64 `json:"t_stat"`
	PValue      float64 `json:"p_value"`
	Level       float64 `json:"level"`
	Significant bool    `json:"significant"`

	// Indeterminate marks a numerically degenerate variance estimate with a
	// non-zero Sharpe difference. TStat and PValue carry no meaning then; a
	// fabricated t = 0 would misleadingly imply "no difference".
	Indeterminate bool `json:"indeterminate"`

	Observations int `json:"observations"`
}

// Tester runs Sharpe-ratio significance tests.
type Tester struct {
	PeriodsPerYear    float64
	SignificanceLevel float64
	log               zerolog.Logger
}

// NewTester creates a tester. Level defaults to 0.05.
func NewTester(periodsPerYear, level float64, log zerolog.Logger) *Tester {
	if periodsPerYear <= 0 {
		periodsPerYear = 12
	}
	if level <= 0 || level >= 1 {
		level = 0.05
	}
	return &Tester{
		PeriodsPerYear:    periodsPerYear,
		SignificanceLevel: level,
		log:               log.With().Str("component", "significance").Logger(),
	}
}

// JobsonKorkie tests whether the Sharpe ratios of two aligned return series
// differ significantly.
//
// The variance of the Sharpe difference follows Jobson and Korkie (1981):
//
//	Var(dS) = (1/T) * [2 - 2*rho + (1/2)*(1 - rho)*(S_a^2 + S_b^2)]
//
// with a two-sided p-value from the standard normal distribution.
func (t *Tester) JobsonKorkie(nameA, nameB string, a, b []float64, rfPeriodic float64) (*Result, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d observations", ErrMisalignedSeries, len(a), len(b))
	}
	if len(a) < MinObservations {
		return nil, fmt.Errorf("%w: need at least %d observations, got %d",
			ErrMisalignedSeries, MinObservations, len(a))
	}

	obs := float64(len(a))
	sharpeA := formulas.SharpeRatio(a, rfPeriodic)
	sharpeB := formulas.SharpeRatio(b, rfPeriodic)
	rho := formulas.Correlation(a, b)
	diff := sharpeA - sharpeB

	annualFactor := math.Sqrt(t.PeriodsPerYear)

	res := &Result{
		StrategyA:     nameA,
		StrategyB:     nameB,
		SharpeA:       sharpeA,
		SharpeB:       sharpeB,
		AnnualSharpeA: sharpeA * annualFactor,
		AnnualSharpeB: sharpeB * annualFactor,
		Diff:          diff,
		Correlation:   rho,
		Level:         t.SignificanceLevel,
		Observations:  len(a),
	}

	varDiff := (1.0 / obs) * (2 - 2*rho + 0.5*(1-rho)*(sharpeA*sharpeA+sharpeB*sharpeB))

	if varDiff <= 0 {
		// Perfectly correlated series with equal Sharpe ratios collapse the
		// variance to zero. A zero difference is still a determinate "no
		// difference"; anything else is indeterminate.
		if math.Abs(diff) < 1e-12 {
			res.PValue = 1.0
			return res, nil
		}
		res.Indeterminate = true
		t.log.Warn().
			Str("a", nameA).
			Str("b", nameB).
			Float64("var_diff", varDiff).
			Msg("Jobson-Korkie variance estimate is non-positive, result is indeterminate")
		return res, nil
	}

	res.TStat = diff / math.Sqrt(varDiff)
	res.PValue = 2 * (1 - distuv.UnitNormal.CDF(math.Abs(res.TStat)))
	res.Significant = res.PValue < t.SignificanceLevel
	return res, nil
}
