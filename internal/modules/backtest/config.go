package backtest

import (
	"fmt"
	"time"

	"github.com/aristath/portfolio-bench/internal/modules/allocation"
)

// DefaultMinTestObservations is the fewest test-window observations a period
// needs to produce a meaningful realized series.
const DefaultMinTestObservations = 3

// DefaultWorkers caps the pool when the caller does not set one.
const DefaultWorkers = 4

// Config carries everything a run needs. It is passed by value into Run,
// never read from ambient state.
type Config struct {
	// RiskFreeRate is annualized.
	RiskFreeRate   float64
	PeriodsPerYear float64

	// RebalancingDates are the ordered period boundaries. N dates define
	// N-1 consecutive test windows.
	RebalancingDates []time.Time

	// EstimationWindowMonths is the lookback length in periods. Zero means
	// an expanding window from the start of the data.
	EstimationWindowMonths int

	// MinTestObservations skips periods whose test window resolves to fewer
	// rows than this.
	MinTestObservations int

	// Allocation holds the shared optimizer settings (bounds, tolerances,
	// iteration caps) handed to every allocator.
	Allocation allocation.Config

	SignificanceLevel float64

	// Workers sizes the pool over (strategy, period) units.
	Workers int
}

// DefaultConfig returns a monthly-data configuration with a 36-month
// lookback and unconstrained long-only weights.
func DefaultConfig() Config {
	return Config{
		PeriodsPerYear:         12,
		EstimationWindowMonths: 36,
		MinTestObservations:    DefaultMinTestObservations,
		Allocation:             allocation.DefaultConfig(),
		SignificanceLevel:      0.05,
		Workers:                DefaultWorkers,
	}
}

// Validate rejects configurations no run could satisfy.
func (c Config) Validate() error {
	if len(c.RebalancingDates) < 2 {
		return fmt.Errorf("need at least 2 rebalancing dates, got %d", len(c.RebalancingDates))
	}
	for i := 1; i < len(c.RebalancingDates); i++ {
		if !c.RebalancingDates[i].After(c.RebalancingDates[i-1]) {
			return fmt.Errorf("rebalancing dates must be strictly ascending: %s then %s",
				c.RebalancingDates[i-1].Format("2006-01-02"),
				c.RebalancingDates[i].Format("2006-01-02"))
		}
	}
	if c.EstimationWindowMonths < 0 {
		return fmt.Errorf("estimation window must be non-negative, got %d", c.EstimationWindowMonths)
	}
	return nil
}

func (c Config) normalized() Config {
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = 12
	}
	if c.MinTestObservations <= 0 {
		c.MinTestObservations = DefaultMinTestObservations
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		c.SignificanceLevel = 0.05
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}
