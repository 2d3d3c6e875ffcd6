package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/returns"
	"github.com/aristath/portfolio-bench/pkg/logger"
)

const dateLayout = "2006-01-02"

// engineFlags are the flags shared by every subcommand that runs the engine.
type engineFlags struct {
	returnsFile string
	dates       string
	start       string
	everyMonths int
	periods     int

	riskFreeRate float64
	window       int
	lowerBound   float64
	upperBound   float64
	workers      int
	logLevel     string
}

func (ef *engineFlags) register(f *flag.FlagSet) {
	f.StringVar(&ef.returnsFile, "returns", "data/returns.csv", "CSV file of periodic asset returns")
	f.StringVar(&ef.dates, "dates", "", "Comma-separated rebalancing dates (YYYY-MM-DD); overrides -start/-every/-periods")
	f.StringVar(&ef.start, "start", "", "First rebalancing date (YYYY-MM-DD)")
	f.IntVar(&ef.everyMonths, "every", 6, "Months between rebalancing dates")
	f.IntVar(&ef.periods, "periods", 4, "Number of rebalancing periods")
	f.Float64Var(&ef.riskFreeRate, "rf", 0, "Annualized risk-free rate")
	f.IntVar(&ef.window, "window", 36, "Estimation window in months (0 = expanding)")
	f.Float64Var(&ef.lowerBound, "wmin", 0, "Minimum weight per asset")
	f.Float64Var(&ef.upperBound, "wmax", 1, "Maximum weight per asset")
	f.IntVar(&ef.workers, "workers", 4, "Worker pool size")
	f.StringVar(&ef.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func (ef *engineFlags) logger() zerolog.Logger {
	return logger.New(logger.Config{Level: ef.logLevel, Pretty: true})
}

func (ef *engineFlags) loadMatrix() (*returns.Matrix, error) {
	m, err := returns.ReadCSVFile(ef.returnsFile)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ef.returnsFile, err)
	}
	return m, nil
}

func (ef *engineFlags) rebalancingDates() ([]time.Time, error) {
	if ef.dates != "" {
		parts := strings.Split(ef.dates, ",")
		dates := make([]time.Time, len(parts))
		for i, p := range parts {
			t, err := time.Parse(dateLayout, strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid date %q", p)
			}
			dates[i] = t
		}
		return dates, nil
	}

	if ef.start == "" {
		return nil, fmt.Errorf("either -dates or -start is required")
	}
	start, err := time.Parse(dateLayout, ef.start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q", ef.start)
	}
	if ef.everyMonths <= 0 || ef.periods <= 0 {
		return nil, fmt.Errorf("-every and -periods must be positive")
	}

	// N periods need N+1 boundaries.
	dates := make([]time.Time, ef.periods+1)
	for i := range dates {
		dates[i] = start.AddDate(0, i*ef.everyMonths, 0)
	}
	return dates, nil
}

func (ef *engineFlags) config() (backtest.Config, error) {
	dates, err := ef.rebalancingDates()
	if err != nil {
		return backtest.Config{}, err
	}

	cfg := backtest.DefaultConfig()
	cfg.RebalancingDates = dates
	cfg.RiskFreeRate = ef.riskFreeRate
	cfg.EstimationWindowMonths = ef.window
	cfg.Allocation.LowerBound = ef.lowerBound
	cfg.Allocation.UpperBound = ef.upperBound
	cfg.Workers = ef.workers
	return cfg, nil
}

func allocatorByName(name string, log zerolog.Logger) (allocation.Allocator, error) {
	switch name {
	case allocation.StrategyEqualWeight:
		return allocation.NewEqualWeight(), nil
	case allocation.StrategyMeanVariance:
		return allocation.NewMeanVariance(log), nil
	case allocation.StrategyRiskParity:
		return allocation.NewRiskParity(log), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want %s, %s, or %s)",
			name, allocation.StrategyEqualWeight, allocation.StrategyMeanVariance, allocation.StrategyRiskParity)
	}
}
