// Package performance computes risk/return metrics from realized portfolio
// return series and consolidates them across rebalancing periods.
package performance

import (
	"encoding/json"
	"math"

	"github.com/aristath/portfolio-bench/pkg/formulas"
)

// Metrics is a read-only record of annualized performance for one realized
// return series.
//
// Annualization convention: arithmetic. Annual return is the mean periodic
// return scaled by periods per year, volatility is the periodic standard
// deviation scaled by sqrt(periods per year). The geometric variant is
// deliberately not mixed in anywhere in the engine.
type Metrics struct {
	PeriodReturn     float64 `json:"period_return"` // cumulative simple sum over the series
	AnnualReturn     float64 `json:"annual_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	// NoDownside marks a series with no observations below the periodic
	// risk-free rate. Sortino is undefined then (NaN in memory, null in
	// JSON) and must not silently enter comparisons as infinity.
	NoDownside  bool    `json:"no_downside"`
	MaxDrawdown float64 `json:"max_drawdown"`
	ValueAtRisk float64 `json:"value_at_risk"` // historical, 95%
	CVaR        float64 `json:"cvar"`          // historical expected shortfall, 95%
	Periods     int     `json:"periods"`
}

// VaRConfidence is the confidence level used for the tail-risk metrics.
const VaRConfidence = 0.95

// Analyzer computes Metrics for series sampled PeriodsPerYear times a year
// against an annualized risk-free rate.
type Analyzer struct {
	PeriodsPerYear float64
	RiskFreeRate   float64 // annualized
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(periodsPerYear, riskFreeRate float64) *Analyzer {
	if periodsPerYear <= 0 {
		periodsPerYear = 12
	}
	return &Analyzer{PeriodsPerYear: periodsPerYear, RiskFreeRate: riskFreeRate}
}

// RiskFreePeriodic returns the risk-free rate per period.
func (a *Analyzer) RiskFreePeriodic() float64 {
	return a.RiskFreeRate / a.PeriodsPerYear
}

// Analyze computes the full metrics record for a realized return series.
func (a *Analyzer) Analyze(series []float64) Metrics {
	m := Metrics{Periods: len(series), Sortino: math.NaN()}
	if len(series) == 0 {
		m.NoDownside = true
		return m
	}

	for _, r := range series {
		m.PeriodReturn += r
	}

	m.AnnualReturn = formulas.AnnualizedReturn(series, a.PeriodsPerYear)
	m.AnnualVolatility = formulas.AnnualizedVolatility(series, a.PeriodsPerYear)
	m.MaxDrawdown = formulas.MaxDrawdown(series)
	m.ValueAtRisk = formulas.HistoricalVaR(series, VaRConfidence)
	m.CVaR = formulas.CVaR(series, VaRConfidence)

	if m.AnnualVolatility > 0 {
		m.Sharpe = (m.AnnualReturn - a.RiskFreeRate) / m.AnnualVolatility
	}

	// Sortino: downside deviation over returns below the periodic
	// risk-free rate, annualized like volatility.
	rfPeriodic := a.RiskFreePeriodic()
	var downside []float64
	for _, r := range series {
		if r < rfPeriodic {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		m.NoDownside = true
		return m
	}

	downsideDev := formulas.StdDev(downside) * math.Sqrt(a.PeriodsPerYear)
	if downsideDev > 0 {
		m.Sortino = (m.AnnualReturn - a.RiskFreeRate) / downsideDev
	} else {
		// A single downside observation has no sample deviation; treat it
		// like the no-downside sentinel rather than dividing by zero.
		m.NoDownside = true
	}
	return m
}

// Consolidate merges per-period metrics into one record, weighting each
// period by its number of observations so that skipped periods prorate
// instead of counting as zero-return gaps. Volatility is combined through
// the weighted mean of variances; drawdown is the worst across periods.
func Consolidate(periods []Metrics) Metrics {
	out := Metrics{Sortino: math.NaN(), NoDownside: true}
	totalPeriods := 0
	for _, p := range periods {
		totalPeriods += p.Periods
	}
	out.Periods = totalPeriods
	if totalPeriods == 0 {
		return out
	}

	var varianceSum float64
	var sortinoWeight float64
	var sortinoSum float64
	first := true

	for _, p := range periods {
		if p.Periods == 0 {
			continue
		}
		w := float64(p.Periods) / float64(totalPeriods)

		out.PeriodReturn += p.PeriodReturn
		out.AnnualReturn += w * p.AnnualReturn
		varianceSum += w * p.AnnualVolatility * p.AnnualVolatility
		out.Sharpe += w * p.Sharpe
		out.ValueAtRisk += w * p.ValueAtRisk
		out.CVaR += w * p.CVaR

		if !p.NoDownside && !math.IsNaN(p.Sortino) {
			sortinoSum += float64(p.Periods) * p.Sortino
			sortinoWeight += float64(p.Periods)
		}

		if first || p.MaxDrawdown < out.MaxDrawdown {
			out.MaxDrawdown = p.MaxDrawdown
		}
		first = false
	}

	out.AnnualVolatility = math.Sqrt(varianceSum)
	if sortinoWeight > 0 {
		out.Sortino = sortinoSum / sortinoWeight
		out.NoDownside = false
	}
	return out
}

// MarshalJSON emits Sortino as null when no downside was observed, since
// NaN has no JSON representation.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	aux := struct {
		Sortino *float64 `json:"sortino"`
		alias
	}{alias: alias(m)}
	if !math.IsNaN(m.Sortino) {
		aux.Sortino = &m.Sortino
	}
	return json.Marshal(aux)
}

// UnmarshalJSON restores the NaN sentinel from a null Sortino.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	type alias Metrics
	aux := struct {
		Sortino *float64 `json:"sortino"`
		*alias
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Sortino == nil {
		m.Sortino = math.NaN()
	} else {
		m.Sortino = *aux.Sortino
	}
	return nil
}
