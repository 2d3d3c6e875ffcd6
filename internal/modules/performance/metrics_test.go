package performance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-bench/pkg/formulas"
)

func TestAnalyze_AnnualizedMetrics(t *testing.T) {
	series := []float64{0.02, -0.01, 0.03, 0.00, 0.01, -0.02}
	rf := 0.06
	a := NewAnalyzer(12, rf)

	m := a.Analyze(series)

	assert.Equal(t, 6, m.Periods)
	assert.InDelta(t, 0.03, m.PeriodReturn, 1e-12)
	assert.InDelta(t, formulas.AnnualizedReturn(series, 12), m.AnnualReturn, 1e-12)
	assert.InDelta(t, formulas.AnnualizedVolatility(series, 12), m.AnnualVolatility, 1e-12)
	assert.InDelta(t, (m.AnnualReturn-rf)/m.AnnualVolatility, m.Sharpe, 1e-12)
	assert.InDelta(t, formulas.MaxDrawdown(series), m.MaxDrawdown, 1e-12)
	assert.False(t, m.NoDownside)
	assert.False(t, math.IsNaN(m.Sortino))
}

func TestAnalyze_SortinoUsesOnlySubRiskFreePeriods(t *testing.T) {
	// Periodic risk-free = 0.06/12 = 0.005; downside observations are those
	// strictly below it.
	series := []float64{0.02, -0.01, 0.03, 0.004, 0.01, -0.02}
	a := NewAnalyzer(12, 0.06)

	m := a.Analyze(series)

	downside := []float64{-0.01, 0.004, -0.02}
	wantDev := formulas.StdDev(downside) * math.Sqrt(12)
	assert.InDelta(t, (m.AnnualReturn-0.06)/wantDev, m.Sortino, 1e-12)
}

func TestAnalyze_NoDownsideSentinel(t *testing.T) {
	// Every return is above the periodic risk-free rate: Sortino is
	// undefined and must be flagged, not infinite.
	series := []float64{0.02, 0.03, 0.01, 0.015}
	a := NewAnalyzer(12, 0.06)

	m := a.Analyze(series)

	assert.True(t, m.NoDownside)
	assert.True(t, math.IsNaN(m.Sortino))
	assert.False(t, math.IsInf(m.Sortino, 0))
}

func TestAnalyze_EmptySeries(t *testing.T) {
	m := NewAnalyzer(12, 0.06).Analyze(nil)
	assert.Equal(t, 0, m.Periods)
	assert.Equal(t, 0.0, m.AnnualReturn)
	assert.True(t, m.NoDownside)
}

func TestAnalyze_ZeroVolatility(t *testing.T) {
	m := NewAnalyzer(12, 0.0).Analyze([]float64{0.01, 0.01, 0.01})
	assert.Equal(t, 0.0, m.Sharpe, "zero volatility must not divide")
}

func TestConsolidate_WeightsByObservationCount(t *testing.T) {
	a := Metrics{AnnualReturn: 0.12, AnnualVolatility: 0.10, Sharpe: 0.6, MaxDrawdown: -0.05, Sortino: 1.0, Periods: 6}
	b := Metrics{AnnualReturn: 0.06, AnnualVolatility: 0.20, Sharpe: 0.0, MaxDrawdown: -0.15, Sortino: 0.2, Periods: 6}

	c := Consolidate([]Metrics{a, b})

	assert.Equal(t, 12, c.Periods)
	assert.InDelta(t, 0.09, c.AnnualReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(0.5*0.01+0.5*0.04), c.AnnualVolatility, 1e-12)
	assert.InDelta(t, 0.3, c.Sharpe, 1e-12)
	assert.InDelta(t, -0.15, c.MaxDrawdown, 1e-12, "worst drawdown wins")
	assert.InDelta(t, 0.6, c.Sortino, 1e-12)
}

func TestConsolidate_ProratesUnevenPeriods(t *testing.T) {
	long := Metrics{AnnualReturn: 0.12, Periods: 9}
	short := Metrics{AnnualReturn: 0.00, Periods: 3}

	c := Consolidate([]Metrics{long, short})
	assert.InDelta(t, 0.09, c.AnnualReturn, 1e-12)
}

func TestConsolidate_SkipsNoDownsidePeriodsInSortino(t *testing.T) {
	withDownside := Metrics{Sortino: 0.8, Periods: 6}
	noDownside := Metrics{Sortino: math.NaN(), NoDownside: true, Periods: 6}

	c := Consolidate([]Metrics{withDownside, noDownside})
	assert.InDelta(t, 0.8, c.Sortino, 1e-12,
		"undefined Sortino periods are excluded, not counted as zero")
	assert.False(t, c.NoDownside)
}

func TestConsolidate_AllEmpty(t *testing.T) {
	c := Consolidate([]Metrics{{}, {}})
	assert.Equal(t, 0, c.Periods)
	assert.True(t, c.NoDownside)
	require.True(t, math.IsNaN(c.Sortino))
}

func TestConsolidate_GapsDoNotCountAsZeroReturn(t *testing.T) {
	recorded := Metrics{AnnualReturn: 0.12, Periods: 6}
	skipped := Metrics{Periods: 0} // a skipped rebalancing period

	c := Consolidate([]Metrics{recorded, skipped})
	assert.InDelta(t, 0.12, c.AnnualReturn, 1e-12,
		"a skipped period must prorate away, not drag the average to zero")
	assert.Equal(t, 6, c.Periods)
}
