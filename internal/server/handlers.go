package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/performance"
	"github.com/aristath/portfolio-bench/internal/modules/results"
	"github.com/aristath/portfolio-bench/internal/modules/significance"
)

const dateLayout = "2006-01-02"

// runRequest is the POST /api/backtests body. Omitted fields fall back to
// the process configuration.
type runRequest struct {
	RebalancingDates       []string `json:"rebalancing_dates"`
	Strategies             []string `json:"strategies,omitempty"`
	RiskFreeRate           *float64 `json:"risk_free_rate,omitempty"`
	EstimationWindowMonths *int     `json:"estimation_window_months,omitempty"`
	LowerBound             *float64 `json:"lower_bound,omitempty"`
	UpperBound             *float64 `json:"upper_bound,omitempty"`
	SignificanceLevel      *float64 `json:"significance_level,omitempty"`
	BootstrapIterations    int      `json:"bootstrap_iterations,omitempty"`
	BootstrapSeed          int64    `json:"bootstrap_seed,omitempty"`
	Workers                int      `json:"workers,omitempty"`
}

type runSummary struct {
	ID         string                         `json:"id"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	Symbols    []string                       `json:"symbols"`
	Periods    int                            `json:"periods"`
	Metrics    map[string]performance.Metrics `json:"metrics"`
	Skipped    []backtest.UnitRef             `json:"skipped"`
	Degraded   []backtest.UnitRef             `json:"degraded"`
}

type outcomeDTO struct {
	Period     string    `json:"period"`
	TestStart  string    `json:"test_start"`
	TestEnd    string    `json:"test_end"`
	Status     string    `json:"status"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Fallback   string    `json:"fallback,omitempty"`
	Converged  bool      `json:"converged"`
	Weights    []float64 `json:"weights,omitempty"`
	Turnover   float64   `json:"turnover"`
}

type strategyDTO struct {
	Metrics     performance.Metrics `json:"metrics"`
	AvgTurnover float64             `json:"avg_turnover"`
	Outcomes    []outcomeDTO        `json:"outcomes"`
}

type runDetail struct {
	runSummary
	Strategies map[string]strategyDTO `json:"strategies"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.Matrix() == nil {
		status = "no data loaded"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"service": "portfolio-bench",
	})
}

// handleRunBacktest runs the configured strategies over the loaded returns
// matrix, persists the result, and returns a summary.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	m := s.Matrix()
	if m == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no returns data loaded")
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg, err := s.buildConfig(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	strategies, err := allocatorsFor(req.Strategies, s.log)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.orchestrator.Run(r.Context(), m, strategies, cfg)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.store.SaveRun(r.Context(), run); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to persist run: "+err.Error())
		return
	}

	series := make(map[string][]float64, len(run.Strategies))
	for name, sr := range run.Strategies {
		series[name] = sr.Series
	}
	tester := significance.NewTester(cfg.PeriodsPerYear, cfg.SignificanceLevel, s.log)
	jk, boot := tester.CompareAll(series, cfg.RiskFreeRate/cfg.PeriodsPerYear, req.BootstrapIterations, req.BootstrapSeed)
	if err := s.store.SaveSignificance(r.Context(), run.ID, jk, boot); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to persist significance tests: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, summarize(run))
}

func (s *Server) buildConfig(req runRequest) (backtest.Config, error) {
	cfg := backtest.DefaultConfig()
	cfg.RiskFreeRate = s.cfg.RiskFreeRate
	cfg.PeriodsPerYear = s.cfg.PeriodsPerYear
	cfg.EstimationWindowMonths = s.cfg.EstimationWindowMonths
	cfg.Allocation.LowerBound = s.cfg.LowerBound
	cfg.Allocation.UpperBound = s.cfg.UpperBound
	cfg.SignificanceLevel = s.cfg.SignificanceLevel
	cfg.Workers = s.cfg.Workers

	if len(req.RebalancingDates) < 2 {
		return cfg, errors.New("need at least 2 rebalancing dates")
	}
	cfg.RebalancingDates = make([]time.Time, len(req.RebalancingDates))
	for i, d := range req.RebalancingDates {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return cfg, errors.New("invalid rebalancing date: " + d)
		}
		cfg.RebalancingDates[i] = t
	}

	if req.RiskFreeRate != nil {
		cfg.RiskFreeRate = *req.RiskFreeRate
	}
	if req.EstimationWindowMonths != nil {
		cfg.EstimationWindowMonths = *req.EstimationWindowMonths
	}
	if req.LowerBound != nil {
		cfg.Allocation.LowerBound = *req.LowerBound
	}
	if req.UpperBound != nil {
		cfg.Allocation.UpperBound = *req.UpperBound
	}
	if req.SignificanceLevel != nil {
		cfg.SignificanceLevel = *req.SignificanceLevel
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	return cfg, nil
}

// handleListBacktests returns stored run summaries.
func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []results.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

// handleGetBacktest returns one stored run in full.
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	detail := runDetail{
		runSummary: summarize(run),
		Strategies: make(map[string]strategyDTO, len(run.Strategies)),
	}
	for name, sr := range run.Strategies {
		dto := strategyDTO{Metrics: sr.Metrics, AvgTurnover: sr.AvgTurnover}
		for _, outcome := range sr.Outcomes {
			dto.Outcomes = append(dto.Outcomes, outcomeDTO{
				Period:     outcome.Period.Label,
				TestStart:  outcome.Period.TestStart.Format(dateLayout),
				TestEnd:    outcome.Period.TestEnd.Format(dateLayout),
				Status:     string(outcome.Status),
				SkipReason: outcome.SkipReason,
				Fallback:   fallbackOf(outcome),
				Converged:  outcome.Allocation != nil && outcome.Allocation.Converged,
				Weights:    outcome.Weights,
				Turnover:   outcome.Turnover,
			})
		}
		detail.Strategies[name] = dto
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// handleGetWeights returns per-period weight vectors keyed by strategy.
func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	type weightRow struct {
		Period  string             `json:"period"`
		Weights map[string]float64 `json:"weights"`
	}
	out := make(map[string][]weightRow, len(run.Strategies))
	for name, sr := range run.Strategies {
		for _, outcome := range sr.Outcomes {
			if outcome.Status != backtest.StatusRecorded {
				continue
			}
			weights := make(map[string]float64, len(outcome.Weights))
			for i, sym := range run.Symbols {
				if i < len(outcome.Weights) {
					weights[sym] = outcome.Weights[i]
				}
			}
			out[name] = append(out[name], weightRow{Period: outcome.Period.Label, Weights: weights})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGetSignificance returns the stored pairwise comparisons of a run.
func (s *Server) handleGetSignificance(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	rows, err := s.store.LoadSignificance(r.Context(), run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []results.SignificanceRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*backtest.RunResult, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.store.LoadRun(r.Context(), id)
	if errors.Is(err, results.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}

func summarize(run *backtest.RunResult) runSummary {
	sum := runSummary{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Symbols:    run.Symbols,
		Periods:    len(run.Periods),
		Metrics:    make(map[string]performance.Metrics, len(run.Strategies)),
		Skipped:    run.Skipped,
		Degraded:   run.Degraded,
	}
	if sum.Skipped == nil {
		sum.Skipped = []backtest.UnitRef{}
	}
	if sum.Degraded == nil {
		sum.Degraded = []backtest.UnitRef{}
	}
	for name, sr := range run.Strategies {
		sum.Metrics[name] = sr.Metrics
	}
	return sum
}

func fallbackOf(outcome backtest.PeriodOutcome) string {
	if outcome.Allocation == nil || outcome.Allocation.Fallback == allocation.FallbackNone {
		return ""
	}
	return string(outcome.Allocation.Fallback)
}

// allocatorsFor maps strategy names to allocators. An empty list selects all
// three strategies.
func allocatorsFor(names []string, log zerolog.Logger) ([]allocation.Allocator, error) {
	if len(names) == 0 {
		names = []string{
			allocation.StrategyEqualWeight,
			allocation.StrategyMeanVariance,
			allocation.StrategyRiskParity,
		}
	}
	out := make([]allocation.Allocator, 0, len(names))
	for _, name := range names {
		switch name {
		case allocation.StrategyEqualWeight:
			out = append(out, allocation.NewEqualWeight())
		case allocation.StrategyMeanVariance:
			out = append(out, allocation.NewMeanVariance(log))
		case allocation.StrategyRiskParity:
			out = append(out, allocation.NewRiskParity(log))
		default:
			return nil, errors.New("unknown strategy: " + name)
		}
	}
	return out, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
