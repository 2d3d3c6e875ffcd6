package results

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-bench/internal/database"
	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/performance"
	"github.com/aristath/portfolio-bench/internal/modules/significance"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "results.db"),
		Name: "results",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func sampleRun() *backtest.RunResult {
	start := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	periods := []backtest.Period{
		{
			Label:    "2017-01",
			EstStart: start, EstEnd: start.AddDate(0, 11, 0),
			TestStart: start.AddDate(1, 0, 0), TestEnd: start.AddDate(1, 2, 0),
			EstLo: 0, EstHi: 11, TestLo: 12, TestHi: 14,
		},
		{
			Label:    "2017-04",
			EstStart: start.AddDate(0, 3, 0), EstEnd: start.AddDate(1, 2, 0),
			TestStart: start.AddDate(1, 3, 0), TestEnd: start.AddDate(1, 5, 0),
			EstLo: 3, EstHi: 14, TestLo: 15, TestHi: 17,
		},
	}

	recorded := backtest.PeriodOutcome{
		Strategy: allocation.StrategyRiskParity,
		Period:   periods[0],
		Status:   backtest.StatusRecorded,
		Weights:  []float64{0.237501928374655, 0.412498071625345, 0.35},
		Allocation: &allocation.Result{
			Strategy:   allocation.StrategyRiskParity,
			Symbols:    []string{"AAA", "BBB", "CCC"},
			Weights:    []float64{0.237501928374655, 0.412498071625345, 0.35},
			Fallback:   allocation.FallbackNone,
			Converged:  true,
			Iterations: 17,
		},
		Returns:  []float64{0.011, -0.006, 0.004},
		Turnover: 0.135,
		Metrics: performance.Metrics{
			PeriodReturn: 0.003, AnnualReturn: 0.036, AnnualVolatility: 0.03,
			Sharpe: 1.2, Sortino: math.NaN(), NoDownside: true,
			MaxDrawdown: -0.006, Periods: 3,
		},
	}
	skipped := backtest.PeriodOutcome{
		Strategy:   allocation.StrategyRiskParity,
		Period:     periods[1],
		Status:     backtest.StatusSkipped,
		SkipReason: "estimation window has 2 observations, need 12",
	}

	return &backtest.RunResult{
		ID:         "run-test-0001",
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 10, 0, 3, 0, time.UTC),
		Symbols:    []string{"AAA", "BBB", "CCC"},
		Periods:    periods,
		Strategies: map[string]*backtest.StrategyResult{
			allocation.StrategyRiskParity: {
				Strategy: allocation.StrategyRiskParity,
				Series:   []float64{0.011, -0.006, 0.004},
				Dates: []time.Time{
					start.AddDate(1, 0, 0), start.AddDate(1, 1, 0), start.AddDate(1, 2, 0),
				},
				Metrics:  recorded.Metrics,
				Outcomes: []backtest.PeriodOutcome{recorded, skipped},
			},
		},
		Skipped: []backtest.UnitRef{{Strategy: allocation.StrategyRiskParity, Period: "2017-04"}},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := sampleRun()

	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, loaded.ID)
	assert.True(t, run.StartedAt.Equal(loaded.StartedAt))
	assert.True(t, run.FinishedAt.Equal(loaded.FinishedAt))
	assert.Equal(t, run.Symbols, loaded.Symbols)
	require.Len(t, loaded.Periods, 2)
	assert.Equal(t, run.Periods[0].Label, loaded.Periods[0].Label)
	assert.Equal(t, run.Periods[0].EstLo, loaded.Periods[0].EstLo)
	assert.True(t, run.Periods[1].TestEnd.Equal(loaded.Periods[1].TestEnd))

	sr := loaded.Strategies[allocation.StrategyRiskParity]
	require.NotNil(t, sr)
	require.Len(t, sr.Outcomes, 2)

	got := sr.Outcomes[0]
	want := run.Strategies[allocation.StrategyRiskParity].Outcomes[0]
	assert.Equal(t, backtest.StatusRecorded, got.Status)
	assert.InDeltaSlice(t, want.Weights, got.Weights, 1e-12, "weights must round-trip")
	assert.InDeltaSlice(t, want.Returns, got.Returns, 1e-12)
	assert.Equal(t, want.Allocation.Converged, got.Allocation.Converged)
	assert.Equal(t, want.Allocation.Iterations, got.Allocation.Iterations)
	assert.Equal(t, want.Metrics.Sharpe, got.Metrics.Sharpe)
	assert.InDelta(t, want.Turnover, got.Turnover, 1e-12)
	assert.True(t, got.Metrics.NoDownside)
	assert.True(t, math.IsNaN(got.Metrics.Sortino), "NoDownside restores the Sortino sentinel")

	assert.Equal(t, backtest.StatusSkipped, sr.Outcomes[1].Status)
	require.Len(t, loaded.Skipped, 1)
	assert.Equal(t, sr.Outcomes[1].Period.Label, loaded.Skipped[0].Period)
	assert.Equal(t, allocation.StrategyRiskParity, loaded.Skipped[0].Strategy)
	assert.Empty(t, loaded.Degraded)
	assert.Zero(t, sr.AvgTurnover, "a single recorded period has no rebalance to average")

	assert.InDeltaSlice(t, run.Strategies[allocation.StrategyRiskParity].Series, sr.Series, 1e-12)
	assert.Equal(t, run.Strategies[allocation.StrategyRiskParity].Metrics.AnnualReturn, sr.Metrics.AnnualReturn)
}

func TestStore_LoadMissingRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleRun()
	second := sampleRun()
	second.ID = "run-test-0002"
	second.StartedAt = second.StartedAt.Add(time.Hour)
	second.FinishedAt = second.FinishedAt.Add(time.Hour)

	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	summaries, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ID, summaries[0].ID, "newest first")
	assert.Equal(t, 1, summaries[0].Strategies)
	assert.Equal(t, 2, summaries[0].Periods)
}

func TestStore_DuplicateRunRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := sampleRun()

	require.NoError(t, store.SaveRun(ctx, run))
	assert.Error(t, store.SaveRun(ctx, run), "run ids are unique")
}

func TestStore_Significance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := sampleRun()
	require.NoError(t, store.SaveRun(ctx, run))

	jk := []*significance.Result{{
		StrategyA: "mean_variance", StrategyB: "risk_parity",
		Diff: 0.12, Correlation: 0.8, TStat: 1.4, PValue: 0.16,
		Level: 0.05, Observations: 36,
	}}
	boot := []*significance.BootstrapResult{{
		StrategyA: "mean_variance", StrategyB: "risk_parity",
		ObservedDiff: 0.12, PValue: 0.21, Level: 0.05,
		Iterations: 5000, Seed: 42,
	}}
	require.NoError(t, store.SaveSignificance(ctx, run.ID, jk, boot))

	rows, err := store.LoadSignificance(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, MethodBootstrap, rows[0].Method)
	assert.Equal(t, int64(42), rows[0].Seed)
	assert.Equal(t, MethodJobsonKorkie, rows[1].Method)
	assert.InDelta(t, 0.16, rows[1].PValue, 1e-12)
	assert.Equal(t, 36, rows[1].Observations)
}
