package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/significance"
)

type compareCmd struct {
	engineFlags
	strategyA  string
	strategyB  string
	level      float64
	iterations int
	seed       int64
}

func (*compareCmd) Name() string     { return "compare" }
func (*compareCmd) Synopsis() string { return "test whether two strategies' Sharpe ratios differ" }
func (*compareCmd) Usage() string {
	return `backtest compare -a <strategy> -b <strategy> -returns <csv> (-dates ... | -start ...) [options]

  Backtests both strategies over the same periods and reports the
  Jobson-Korkie test and a bootstrap cross-check on the Sharpe difference.
`
}

func (c *compareCmd) SetFlags(f *flag.FlagSet) {
	c.engineFlags.register(f)
	f.StringVar(&c.strategyA, "a", allocation.StrategyMeanVariance, "First strategy")
	f.StringVar(&c.strategyB, "b", allocation.StrategyRiskParity, "Second strategy")
	f.Float64Var(&c.level, "level", 0.05, "Significance level")
	f.IntVar(&c.iterations, "iterations", significance.DefaultBootstrapIterations, "Bootstrap resamples")
	f.Int64Var(&c.seed, "seed", 1, "Bootstrap seed")
}

func (c *compareCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := c.logger()

	m, err := c.loadMatrix()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	cfg, err := c.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	allocA, err := allocatorByName(c.strategyA, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	allocB, err := allocatorByName(c.strategyB, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	if allocA.Name() == allocB.Name() {
		fmt.Fprintln(os.Stderr, "Error: -a and -b must differ")
		return subcommands.ExitUsageError
	}

	run, err := backtest.NewOrchestrator(log).Run(ctx, m,
		[]allocation.Allocator{allocA, allocB}, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	seriesA := run.Strategies[allocA.Name()].Series
	seriesB := run.Strategies[allocB.Name()].Series
	rfPeriodic := cfg.RiskFreeRate / cfg.PeriodsPerYear

	tester := significance.NewTester(cfg.PeriodsPerYear, c.level, log)
	jk, err := tester.JobsonKorkie(allocA.Name(), allocB.Name(), seriesA, seriesB, rfPeriodic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	boot, err := tester.Bootstrap(allocA.Name(), allocB.Name(), seriesA, seriesB, rfPeriodic, c.iterations, c.seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	printComparison(jk, boot)
	return subcommands.ExitSuccess
}

func printComparison(jk *significance.Result, boot *significance.BootstrapResult) {
	fmt.Printf("Sharpe (annualized): %s %.3f, %s %.3f over %d observations\n\n",
		jk.StrategyA, jk.AnnualSharpeA, jk.StrategyB, jk.AnnualSharpeB, jk.Observations)

	fmt.Println("Jobson-Korkie:")
	if jk.Indeterminate {
		fmt.Println("  indeterminate: variance estimate collapsed, no conclusion possible")
	} else {
		fmt.Printf("  diff %.4f  corr %.3f  t %.3f  p %.4f  significant at %.0f%%: %v\n",
			jk.Diff, jk.Correlation, jk.TStat, jk.PValue, jk.Level*100, jk.Significant)
	}

	fmt.Println("Bootstrap:")
	fmt.Printf("  diff %.4f  p %.4f (%d resamples, seed %d)  significant at %.0f%%: %v\n",
		boot.ObservedDiff, boot.PValue, boot.Iterations, boot.Seed, boot.Level*100, boot.Significant)
}
