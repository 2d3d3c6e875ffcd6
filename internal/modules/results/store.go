// Package results persists backtest runs to sqlite so they can be listed,
// reloaded, and served after the process that produced them is gone.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/database"
	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/performance"
)

// ErrRunNotFound indicates no stored run matches the requested id.
var ErrRunNotFound = fmt.Errorf("backtest run not found")

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_symbols (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx    INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS run_periods (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	label      TEXT NOT NULL,
	est_start  TEXT NOT NULL,
	est_end    TEXT NOT NULL,
	test_start TEXT NOT NULL,
	test_end   TEXT NOT NULL,
	est_lo     INTEGER NOT NULL,
	est_hi     INTEGER NOT NULL,
	test_lo    INTEGER NOT NULL,
	test_hi    INTEGER NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS period_outcomes (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	strategy        TEXT NOT NULL,
	period_idx      INTEGER NOT NULL,
	status          TEXT NOT NULL,
	skip_reason     TEXT NOT NULL DEFAULT '',
	fallback        TEXT NOT NULL DEFAULT '',
	fallback_reason TEXT NOT NULL DEFAULT '',
	converged       INTEGER NOT NULL DEFAULT 0,
	iterations      INTEGER NOT NULL DEFAULT 0,
	turnover        REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, strategy, period_idx)
);

CREATE TABLE IF NOT EXISTS period_weights (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	strategy   TEXT NOT NULL,
	period_idx INTEGER NOT NULL,
	asset      TEXT NOT NULL,
	asset_idx  INTEGER NOT NULL,
	weight     REAL NOT NULL,
	PRIMARY KEY (run_id, strategy, period_idx, asset_idx)
);

CREATE TABLE IF NOT EXISTS strategy_returns (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	strategy TEXT NOT NULL,
	idx      INTEGER NOT NULL,
	date     TEXT NOT NULL,
	ret      REAL NOT NULL,
	PRIMARY KEY (run_id, strategy, idx)
);

CREATE TABLE IF NOT EXISTS strategy_metrics (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	strategy      TEXT NOT NULL,
	period_idx    INTEGER NOT NULL, -- -1 holds the consolidated row
	period_return REAL NOT NULL,
	annual_return REAL NOT NULL,
	annual_vol    REAL NOT NULL,
	sharpe        REAL NOT NULL,
	sortino       REAL NOT NULL,
	no_downside   INTEGER NOT NULL,
	max_drawdown  REAL NOT NULL,
	value_at_risk REAL NOT NULL,
	cvar          REAL NOT NULL,
	periods       INTEGER NOT NULL,
	PRIMARY KEY (run_id, strategy, period_idx)
);

CREATE TABLE IF NOT EXISTS significance_tests (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	method        TEXT NOT NULL,
	strategy_a    TEXT NOT NULL,
	strategy_b    TEXT NOT NULL,
	diff          REAL NOT NULL,
	correlation   REAL NOT NULL DEFAULT 0,
	t_stat        REAL NOT NULL DEFAULT 0,
	p_value       REAL NOT NULL,
	level         REAL NOT NULL,
	significant   INTEGER NOT NULL,
	indeterminate INTEGER NOT NULL DEFAULT 0,
	observations  INTEGER NOT NULL DEFAULT 0,
	iterations    INTEGER NOT NULL DEFAULT 0,
	seed          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, method, strategy_a, strategy_b)
);
`

// Store reads and writes backtest runs.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a store and applies the schema.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("failed to apply results schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("repo", "results").Logger(),
	}, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Strategies int       `json:"strategies"`
	Periods    int       `json:"periods"`
}

// SaveRun persists a full run inside one transaction.
func (s *Store) SaveRun(ctx context.Context, run *backtest.RunResult) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("cannot save a run without an id")
	}

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO runs (id, started_at, finished_at) VALUES (?, ?, ?)",
			run.ID, run.StartedAt.Format(timeLayout), run.FinishedAt.Format(timeLayout),
		); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for i, sym := range run.Symbols {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO run_symbols (run_id, idx, symbol) VALUES (?, ?, ?)",
				run.ID, i, sym,
			); err != nil {
				return fmt.Errorf("failed to insert symbol %s: %w", sym, err)
			}
		}

		for i, p := range run.Periods {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_periods
				 (run_id, idx, label, est_start, est_end, test_start, test_end, est_lo, est_hi, test_lo, test_hi)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, i, p.Label,
				p.EstStart.Format(timeLayout), p.EstEnd.Format(timeLayout),
				p.TestStart.Format(timeLayout), p.TestEnd.Format(timeLayout),
				p.EstLo, p.EstHi, p.TestLo, p.TestHi,
			); err != nil {
				return fmt.Errorf("failed to insert period %s: %w", p.Label, err)
			}
		}

		for name, sr := range run.Strategies {
			if err := s.saveStrategy(ctx, tx, run.ID, name, sr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("run_id", run.ID).Int("strategies", len(run.Strategies)).Msg("run saved")
	return nil
}

func (s *Store) saveStrategy(ctx context.Context, tx *sql.Tx, runID, name string, sr *backtest.StrategyResult) error {
	for pi, outcome := range sr.Outcomes {
		var fallback, fallbackReason string
		var converged bool
		var iterations int
		if outcome.Allocation != nil {
			fallback = string(outcome.Allocation.Fallback)
			fallbackReason = outcome.Allocation.FallbackReason
			converged = outcome.Allocation.Converged
			iterations = outcome.Allocation.Iterations
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO period_outcomes
			 (run_id, strategy, period_idx, status, skip_reason, fallback, fallback_reason, converged, iterations, turnover)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, name, pi, string(outcome.Status), outcome.SkipReason,
			fallback, fallbackReason, converged, iterations, outcome.Turnover,
		); err != nil {
			return fmt.Errorf("failed to insert outcome %s/%d: %w", name, pi, err)
		}

		for ai, w := range outcome.Weights {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO period_weights (run_id, strategy, period_idx, asset, asset_idx, weight)
				 VALUES (?, ?, ?, (SELECT symbol FROM run_symbols WHERE run_id = ? AND idx = ?), ?, ?)`,
				runID, name, pi, runID, ai, ai, w,
			); err != nil {
				return fmt.Errorf("failed to insert weight %s/%d/%d: %w", name, pi, ai, err)
			}
		}

		if outcome.Status == backtest.StatusRecorded {
			if err := s.saveMetrics(ctx, tx, runID, name, pi, outcome.Metrics); err != nil {
				return err
			}
		}
	}

	for i, r := range sr.Series {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO strategy_returns (run_id, strategy, idx, date, ret) VALUES (?, ?, ?, ?, ?)",
			runID, name, i, sr.Dates[i].Format(timeLayout), r,
		); err != nil {
			return fmt.Errorf("failed to insert return %s/%d: %w", name, i, err)
		}
	}

	return s.saveMetrics(ctx, tx, runID, name, -1, sr.Metrics)
}

func (s *Store) saveMetrics(ctx context.Context, tx *sql.Tx, runID, name string, periodIdx int, m performance.Metrics) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strategy_metrics
		 (run_id, strategy, period_idx, period_return, annual_return, annual_vol,
		  sharpe, sortino, no_downside, max_drawdown, value_at_risk, cvar, periods)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, name, periodIdx,
		m.PeriodReturn, m.AnnualReturn, m.AnnualVolatility,
		m.Sharpe, nanToZero(m.Sortino), m.NoDownside,
		m.MaxDrawdown, m.ValueAtRisk, m.CVaR, m.Periods,
	); err != nil {
		return fmt.Errorf("failed to insert metrics %s/%d: %w", name, periodIdx, err)
	}
	return nil
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at,
		       (SELECT COUNT(DISTINCT strategy) FROM period_outcomes WHERE run_id = r.id),
		       (SELECT COUNT(*) FROM run_periods WHERE run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var sum RunSummary
		var started, finished string
		if err := rows.Scan(&sum.ID, &started, &finished, &sum.Strategies, &sum.Periods); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if sum.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return summaries, nil
}

// LoadRun reconstructs a stored run.
func (s *Store) LoadRun(ctx context.Context, id string) (*backtest.RunResult, error) {
	run := &backtest.RunResult{
		ID:         id,
		Strategies: make(map[string]*backtest.StrategyResult),
	}

	var started, finished string
	err := s.db.QueryRowContext(ctx,
		"SELECT started_at, finished_at FROM runs WHERE id = ?", id,
	).Scan(&started, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	if run.Symbols, err = s.loadSymbols(ctx, id); err != nil {
		return nil, err
	}
	if run.Periods, err = s.loadPeriods(ctx, id); err != nil {
		return nil, err
	}
	if err = s.loadStrategies(ctx, id, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) loadSymbols(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol FROM run_symbols WHERE run_id = ? ORDER BY idx", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *Store) loadPeriods(ctx context.Context, id string) ([]backtest.Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, est_start, est_end, test_start, test_end, est_lo, est_hi, test_lo, test_hi
		FROM run_periods WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []backtest.Period
	for rows.Next() {
		var p backtest.Period
		var estStart, estEnd, testStart, testEnd string
		if err := rows.Scan(&p.Label, &estStart, &estEnd, &testStart, &testEnd,
			&p.EstLo, &p.EstHi, &p.TestLo, &p.TestHi); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		if p.EstStart, err = time.Parse(timeLayout, estStart); err != nil {
			return nil, fmt.Errorf("failed to parse est_start: %w", err)
		}
		if p.EstEnd, err = time.Parse(timeLayout, estEnd); err != nil {
			return nil, fmt.Errorf("failed to parse est_end: %w", err)
		}
		if p.TestStart, err = time.Parse(timeLayout, testStart); err != nil {
			return nil, fmt.Errorf("failed to parse test_start: %w", err)
		}
		if p.TestEnd, err = time.Parse(timeLayout, testEnd); err != nil {
			return nil, fmt.Errorf("failed to parse test_end: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (s *Store) loadStrategies(ctx context.Context, id string, run *backtest.RunResult) error {
	names, err := s.strategyNames(ctx, id)
	if err != nil {
		return err
	}

	for _, name := range names {
		sr := &backtest.StrategyResult{Strategy: name}

		if err := s.loadOutcomes(ctx, id, name, run, sr); err != nil {
			return err
		}
		if err := s.loadSeries(ctx, id, name, sr); err != nil {
			return err
		}
		if sr.Metrics, err = s.loadMetrics(ctx, id, name, -1); err != nil {
			return err
		}
		sr.AvgTurnover = backtest.AverageTurnover(sr.Outcomes)

		for _, outcome := range sr.Outcomes {
			switch outcome.Status {
			case backtest.StatusSkipped:
				run.Skipped = append(run.Skipped, backtest.UnitRef{Strategy: name, Period: outcome.Period.Label})
			case backtest.StatusRecorded:
				if outcome.Allocation != nil && outcome.Allocation.Degraded() {
					run.Degraded = append(run.Degraded, backtest.UnitRef{Strategy: name, Period: outcome.Period.Label})
				}
			}
		}

		run.Strategies[name] = sr
	}
	return nil
}

func (s *Store) strategyNames(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT strategy FROM period_outcomes WHERE run_id = ? ORDER BY strategy", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan strategy name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) loadOutcomes(ctx context.Context, id, name string, run *backtest.RunResult, sr *backtest.StrategyResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_idx, status, skip_reason, fallback, fallback_reason, converged, iterations, turnover
		FROM period_outcomes WHERE run_id = ? AND strategy = ? ORDER BY period_idx`, id, name)
	if err != nil {
		return fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pi, iterations int
		var status, skipReason, fallback, fallbackReason string
		var converged bool
		var turnover float64
		if err := rows.Scan(&pi, &status, &skipReason, &fallback, &fallbackReason, &converged, &iterations, &turnover); err != nil {
			return fmt.Errorf("failed to scan outcome: %w", err)
		}
		if pi < 0 || pi >= len(run.Periods) {
			return fmt.Errorf("outcome references unknown period index %d", pi)
		}

		outcome := backtest.PeriodOutcome{
			Strategy:   name,
			Period:     run.Periods[pi],
			Status:     backtest.Status(status),
			SkipReason: skipReason,
			Turnover:   turnover,
		}

		if outcome.Status == backtest.StatusRecorded {
			outcome.Weights, err = s.loadWeights(ctx, id, name, pi)
			if err != nil {
				return err
			}
			outcome.Allocation = &allocation.Result{
				Strategy:       name,
				Symbols:        run.Symbols,
				Weights:        outcome.Weights,
				Fallback:       allocation.FallbackKind(fallback),
				FallbackReason: fallbackReason,
				Converged:      converged,
				Iterations:     iterations,
			}
			if outcome.Metrics, err = s.loadMetrics(ctx, id, name, pi); err != nil {
				return err
			}
		}
		sr.Outcomes = append(sr.Outcomes, outcome)
	}
	return rows.Err()
}

func (s *Store) loadWeights(ctx context.Context, id, name string, periodIdx int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT weight FROM period_weights
		WHERE run_id = ? AND strategy = ? AND period_idx = ? ORDER BY asset_idx`,
		id, name, periodIdx)
	if err != nil {
		return nil, fmt.Errorf("failed to query weights: %w", err)
	}
	defer rows.Close()

	var weights []float64
	for rows.Next() {
		var w float64
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

func (s *Store) loadSeries(ctx context.Context, id, name string, sr *backtest.StrategyResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, ret FROM strategy_returns
		WHERE run_id = ? AND strategy = ? ORDER BY idx`, id, name)
	if err != nil {
		return fmt.Errorf("failed to query returns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var r float64
		if err := rows.Scan(&date, &r); err != nil {
			return fmt.Errorf("failed to scan return: %w", err)
		}
		d, err := time.Parse(timeLayout, date)
		if err != nil {
			return fmt.Errorf("failed to parse return date: %w", err)
		}
		sr.Dates = append(sr.Dates, d)
		sr.Series = append(sr.Series, r)
	}

	// Recorded outcomes re-slice their own segment of the series.
	offset := 0
	for i := range sr.Outcomes {
		if sr.Outcomes[i].Status != backtest.StatusRecorded {
			continue
		}
		n := sr.Outcomes[i].Period.TestObservations()
		if offset+n > len(sr.Series) {
			return fmt.Errorf("stored series too short for period %s", sr.Outcomes[i].Period.Label)
		}
		sr.Outcomes[i].Returns = sr.Series[offset : offset+n]
		offset += n
	}
	return rows.Err()
}

func (s *Store) loadMetrics(ctx context.Context, id, name string, periodIdx int) (performance.Metrics, error) {
	var m performance.Metrics
	err := s.db.QueryRowContext(ctx, `
		SELECT period_return, annual_return, annual_vol, sharpe, sortino,
		       no_downside, max_drawdown, value_at_risk, cvar, periods
		FROM strategy_metrics WHERE run_id = ? AND strategy = ? AND period_idx = ?`,
		id, name, periodIdx,
	).Scan(&m.PeriodReturn, &m.AnnualReturn, &m.AnnualVolatility, &m.Sharpe, &m.Sortino,
		&m.NoDownside, &m.MaxDrawdown, &m.ValueAtRisk, &m.CVaR, &m.Periods)
	if err == sql.ErrNoRows {
		return performance.Metrics{}, nil
	}
	if err != nil {
		return m, fmt.Errorf("failed to query metrics %s/%d: %w", name, periodIdx, err)
	}
	if m.NoDownside {
		m.Sortino = math.NaN()
	}
	return m, nil
}

// nanToZero keeps NaN sentinels out of sqlite; NoDownside restores them.
func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
