// Package estimation turns an estimation window of the returns matrix into
// the annualized parameters the allocators consume.
package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/portfolio-bench/internal/modules/returns"
)

// MinObservations is the minimum number of periods an estimation window must
// contain. Below this the sample moments are too noisy to allocate on.
const MinObservations = 12

// ErrInsufficientData indicates the estimation window is shorter than
// MinObservations periods.
var ErrInsufficientData = fmt.Errorf("insufficient data for parameter estimation")

// Parameters holds the annualized moment estimates for one estimation window.
// Values are aligned to Symbols order.
type Parameters struct {
	Symbols         []string
	ExpectedReturns []float64    // annualized arithmetic mean per asset
	CovMatrix       *mat.SymDense // annualized sample covariance, asset x asset
	Volatilities    []float64    // annualized per-asset standard deviation
	Observations    int          // periods in the window
}

// Estimator computes expected returns and covariance from a returns window.
// It is a pure function of the window; zero-variance columns are passed
// through untouched and the resulting singular covariance is the allocators'
// problem to handle.
type Estimator struct {
	PeriodsPerYear float64
}

// NewEstimator creates an estimator for data sampled periodsPerYear times a
// year (12 for monthly, 252 for daily).
func NewEstimator(periodsPerYear float64) *Estimator {
	if periodsPerYear <= 0 {
		periodsPerYear = 12
	}
	return &Estimator{PeriodsPerYear: periodsPerYear}
}

// Estimate computes annualized parameters from the estimation window.
func (e *Estimator) Estimate(window *returns.Matrix) (*Parameters, error) {
	obs := window.Periods()
	if obs < MinObservations {
		return nil, fmt.Errorf("%w: %d observations, need at least %d",
			ErrInsufficientData, obs, MinObservations)
	}

	symbols := window.Symbols()
	n := len(symbols)

	// Column-major copies for gonum/stat.
	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		col := make([]float64, obs)
		for i := 0; i < obs; i++ {
			col[i] = window.At(i, j)
		}
		cols[j] = col
	}

	expected := make([]float64, n)
	vols := make([]float64, n)
	for j := 0; j < n; j++ {
		expected[j] = stat.Mean(cols[j], nil) * e.PeriodsPerYear
		vols[j] = stat.StdDev(cols[j], nil) * math.Sqrt(e.PeriodsPerYear)
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(cols[i], cols[j], nil) * e.PeriodsPerYear
			cov.SetSym(i, j, c)
		}
	}

	return &Parameters{
		Symbols:         symbols,
		ExpectedReturns: expected,
		CovMatrix:       cov,
		Volatilities:    vols,
		Observations:    obs,
	}, nil
}
