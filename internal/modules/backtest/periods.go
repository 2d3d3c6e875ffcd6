package backtest

import (
	"fmt"
	"time"

	"github.com/aristath/portfolio-bench/internal/modules/returns"
)

// Period pairs one estimation window with the test window immediately
// following it. Windows are resolved against a concrete returns matrix:
// the row index ranges are inclusive, and a Hi below its Lo marks an empty
// window. EstEnd is always strictly before TestStart.
type Period struct {
	Label string

	EstStart time.Time
	EstEnd   time.Time

	TestStart time.Time
	TestEnd   time.Time

	EstLo, EstHi   int
	TestLo, TestHi int
}

// EstObservations returns the number of rows in the estimation window.
func (p Period) EstObservations() int {
	if p.EstHi < p.EstLo {
		return 0
	}
	return p.EstHi - p.EstLo + 1
}

// TestObservations returns the number of rows in the test window.
func (p Period) TestObservations() int {
	if p.TestHi < p.TestLo {
		return 0
	}
	return p.TestHi - p.TestLo + 1
}

// BuildPeriods resolves the configured rebalancing dates against the matrix
// into an ordered, non-overlapping sequence of periods. Each consecutive
// date pair [d_k, d_k+1) becomes one test window; the estimation window is
// the lookback ending at the last row strictly before d_k. Periods whose
// windows resolve to too few rows are still returned so the run can record
// them as skipped rather than silently dropping them.
func BuildPeriods(m *returns.Matrix, cfg Config) ([]Period, error) {
	if m == nil || m.Periods() == 0 {
		return nil, fmt.Errorf("%w: no return data", returns.ErrMalformedMatrix)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	periods := make([]Period, 0, len(cfg.RebalancingDates)-1)
	for k := 0; k+1 < len(cfg.RebalancingDates); k++ {
		boundary := cfg.RebalancingDates[k]
		next := cfg.RebalancingDates[k+1]

		p := Period{
			// Day precision keeps labels unique when two boundaries
			// fall in the same month.
			Label:     boundary.Format("2006-01-02"),
			TestStart: boundary,
			TestEnd:   next,
			TestLo:    m.IndexBefore(boundary) + 1,
			TestHi:    m.IndexBefore(next),
			EstLo:     0,
			EstHi:     m.IndexBefore(boundary),
		}
		if p.TestHi >= p.TestLo {
			p.TestStart = m.Date(p.TestLo)
			p.TestEnd = m.Date(p.TestHi)
		}
		if cfg.EstimationWindowMonths > 0 {
			if lo := p.EstHi - cfg.EstimationWindowMonths + 1; lo > 0 {
				p.EstLo = lo
			}
		}
		if p.EstHi >= p.EstLo {
			p.EstStart = m.Date(p.EstLo)
			p.EstEnd = m.Date(p.EstHi)
		} else {
			p.EstLo, p.EstHi = 0, -1
		}

		periods = append(periods, p)
	}
	return periods, nil
}
