package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/estimation"
	"github.com/aristath/portfolio-bench/internal/modules/performance"
	"github.com/aristath/portfolio-bench/internal/modules/returns"
	"github.com/aristath/portfolio-bench/pkg/formulas"
)

// Status is the terminal state of one (strategy, period) unit.
type Status string

const (
	StatusRecorded Status = "recorded"
	StatusSkipped  Status = "skipped"
)

// PeriodOutcome is the result of one (strategy, period) unit of work.
// Weights are fixed at allocation time and never adjusted afterwards; the
// realized returns come from applying them to the test window as-is.
type PeriodOutcome struct {
	Strategy string
	Period   Period
	Status   Status

	// SkipReason is set only when Status is StatusSkipped.
	SkipReason string

	Weights    []float64
	Allocation *allocation.Result
	Returns    []float64
	Metrics    performance.Metrics

	// Turnover is 0.5 * sum(|w - w_prev|) against the strategy's previous
	// recorded allocation. The first recorded period has no predecessor and
	// reports 0.
	Turnover float64
}

// StrategyResult aggregates a strategy's outcomes across all periods.
type StrategyResult struct {
	Strategy string

	// Series is the realized return series concatenated across recorded
	// periods, aligned with Dates. Skipped periods contribute nothing.
	Series []float64
	Dates  []time.Time

	// Metrics consolidates the recorded per-period metrics, weighted by
	// observation count.
	Metrics performance.Metrics

	// AvgTurnover is the mean per-rebalance turnover across recorded periods
	// that follow another recorded period.
	AvgTurnover float64

	Outcomes []PeriodOutcome
}

// AverageTurnover averages turnover over recorded outcomes that have a prior
// recorded allocation to rebalance from.
func AverageTurnover(outcomes []PeriodOutcome) float64 {
	var sum float64
	var rebalances int
	seen := false
	for _, o := range outcomes {
		if o.Status != StatusRecorded {
			continue
		}
		if seen {
			sum += o.Turnover
			rebalances++
		}
		seen = true
	}
	if rebalances == 0 {
		return 0
	}
	return sum / float64(rebalances)
}

// UnitRef names one (strategy, period) pair for run-level enumeration.
type UnitRef struct {
	Strategy string
	Period   string
}

// RunResult is the full output of one backtest run.
type RunResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	// Symbols is the asset universe every weight vector is aligned to.
	Symbols []string

	Periods    []Period
	Strategies map[string]*StrategyResult

	// Skipped and Degraded enumerate every unit that did not produce a
	// clean allocation, so no failure disappears into the averages.
	Skipped  []UnitRef
	Degraded []UnitRef
}

// Orchestrator drives the rolling estimation/allocation/application loop.
// Parameters for each period come only from rows strictly before that
// period's test window.
type Orchestrator struct {
	log zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		log: log.With().Str("component", "backtest").Logger(),
	}
}

type unitJob struct {
	index    int
	strategy allocation.Allocator
	period   Period
}

type unitResult struct {
	index   int
	outcome PeriodOutcome
	err     error
}

// Run executes every strategy over every rebalancing period. Units are
// independent, so they are distributed over a worker pool; each worker
// reads immutable window slices and writes to its own output slot.
func (o *Orchestrator) Run(ctx context.Context, m *returns.Matrix, strategies []allocation.Allocator, cfg Config) (*RunResult, error) {
	if m == nil || m.Assets() == 0 {
		return nil, fmt.Errorf("backtest: %w", allocation.ErrEmptyUniverse)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("backtest: no strategies given")
	}
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if err := cfg.Allocation.Validate(m.Assets()); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	periods, err := BuildPeriods(m, cfg)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	run := &RunResult{
		ID:         uuid.New().String(),
		StartedAt:  time.Now(),
		Symbols:    m.Symbols(),
		Periods:    periods,
		Strategies: make(map[string]*StrategyResult, len(strategies)),
	}

	o.log.Info().
		Str("run_id", run.ID).
		Int("periods", len(periods)).
		Int("strategies", len(strategies)).
		Int("assets", m.Assets()).
		Msg("starting backtest run")

	jobs := make([]unitJob, 0, len(strategies)*len(periods))
	for _, strat := range strategies {
		for _, p := range periods {
			jobs = append(jobs, unitJob{index: len(jobs), strategy: strat, period: p})
		}
	}

	outcomes, err := o.runUnits(ctx, m, jobs, cfg)
	if err != nil {
		return nil, err
	}

	for si, strat := range strategies {
		name := strat.Name()
		sr := &StrategyResult{Strategy: name}
		var recorded []performance.Metrics
		var prevWeights []float64

		for pi := range periods {
			outcome := outcomes[si*len(periods)+pi]

			switch outcome.Status {
			case StatusRecorded:
				outcome.Turnover = formulas.Turnover(prevWeights, outcome.Weights)
				prevWeights = outcome.Weights
				sr.Series = append(sr.Series, outcome.Returns...)
				for i := outcome.Period.TestLo; i <= outcome.Period.TestHi; i++ {
					sr.Dates = append(sr.Dates, m.Date(i))
				}
				recorded = append(recorded, outcome.Metrics)
				if outcome.Allocation != nil && outcome.Allocation.Degraded() {
					run.Degraded = append(run.Degraded, UnitRef{Strategy: name, Period: outcome.Period.Label})
				}
			case StatusSkipped:
				run.Skipped = append(run.Skipped, UnitRef{Strategy: name, Period: outcome.Period.Label})
			}

			sr.Outcomes = append(sr.Outcomes, outcome)
		}

		sr.Metrics = performance.Consolidate(recorded)
		sr.AvgTurnover = AverageTurnover(sr.Outcomes)
		run.Strategies[name] = sr
	}

	run.FinishedAt = time.Now()
	o.log.Info().
		Str("run_id", run.ID).
		Int("skipped", len(run.Skipped)).
		Int("degraded", len(run.Degraded)).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("backtest run complete")
	return run, nil
}

func (o *Orchestrator) runUnits(ctx context.Context, m *returns.Matrix, jobs []unitJob, cfg Config) ([]PeriodOutcome, error) {
	jobCh := make(chan unitJob, len(jobs))
	resultCh := make(chan unitResult, len(jobs))

	workers := cfg.Workers
	if len(jobs) < workers {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := ctx.Err(); err != nil {
					resultCh <- unitResult{index: job.index, err: err}
					continue
				}
				outcome := o.runUnit(m, job.strategy, job.period, cfg)
				resultCh <- unitResult{index: job.index, outcome: outcome}
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	wg.Wait()
	close(resultCh)

	outcomes := make([]PeriodOutcome, len(jobs))
	for res := range resultCh {
		if res.err != nil {
			return nil, fmt.Errorf("backtest: run cancelled: %w", res.err)
		}
		outcomes[res.index] = res.outcome
	}
	return outcomes, nil
}

// runUnit computes one (strategy, period) outcome. Estimation reads only the
// period's estimation window, which ends strictly before the test window.
func (o *Orchestrator) runUnit(m *returns.Matrix, strat allocation.Allocator, p Period, cfg Config) PeriodOutcome {
	outcome := PeriodOutcome{Strategy: strat.Name(), Period: p}

	if p.TestObservations() < cfg.MinTestObservations {
		return o.skip(outcome, fmt.Sprintf("test window has %d observations, need %d",
			p.TestObservations(), cfg.MinTestObservations))
	}
	// Periods with a short estimation window are skipped for every strategy,
	// including ones that need no parameters, so realized series stay aligned
	// across strategies for pairwise comparison.
	if p.EstObservations() < estimation.MinObservations {
		return o.skip(outcome, fmt.Sprintf("estimation window has %d observations, need %d",
			p.EstObservations(), estimation.MinObservations))
	}

	params := &estimation.Parameters{Symbols: m.Symbols()}
	if strat.NeedsParameters() {
		estWindow, err := m.Window(p.EstLo, p.EstHi)
		if err != nil {
			return o.skip(outcome, fmt.Sprintf("estimation window: %v", err))
		}
		estimator := estimation.NewEstimator(cfg.PeriodsPerYear)
		params, err = estimator.Estimate(estWindow)
		if err != nil {
			return o.skip(outcome, fmt.Sprintf("estimation failed: %v", err))
		}
	}

	alloc, err := strat.Allocate(params, cfg.Allocation)
	if err != nil {
		return o.skip(outcome, fmt.Sprintf("allocation failed: %v", err))
	}
	if alloc.Degraded() {
		o.log.Warn().
			Str("strategy", outcome.Strategy).
			Str("period", p.Label).
			Str("fallback", string(alloc.Fallback)).
			Str("reason", alloc.FallbackReason).
			Msg("degraded allocation recorded")
	}

	testWindow, err := m.Window(p.TestLo, p.TestHi)
	if err != nil {
		return o.skip(outcome, fmt.Sprintf("test window: %v", err))
	}
	series, err := testWindow.PortfolioReturns(alloc.Weights)
	if err != nil {
		return o.skip(outcome, fmt.Sprintf("applying weights: %v", err))
	}

	analyzer := performance.NewAnalyzer(cfg.PeriodsPerYear, cfg.RiskFreeRate)
	outcome.Status = StatusRecorded
	outcome.Weights = alloc.Weights
	outcome.Allocation = alloc
	outcome.Returns = series
	outcome.Metrics = analyzer.Analyze(series)
	return outcome
}

func (o *Orchestrator) skip(outcome PeriodOutcome, reason string) PeriodOutcome {
	outcome.Status = StatusSkipped
	outcome.SkipReason = reason
	o.log.Warn().
		Str("strategy", outcome.Strategy).
		Str("period", outcome.Period.Label).
		Str("reason", reason).
		Msg("period skipped")
	return outcome
}
