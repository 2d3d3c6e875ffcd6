package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/aristath/portfolio-bench/internal/database"
	"github.com/aristath/portfolio-bench/internal/modules/allocation"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/results"
)

type runCmd struct {
	engineFlags
	strategies string
	dbFile     string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a backtest and print per-strategy metrics" }
func (*runCmd) Usage() string {
	return `backtest run -returns <csv> (-dates <d1,d2,...> | -start <date> [-every N] [-periods N]) [options]

  Runs the rolling backtest over the given returns file and prints a table
  of consolidated out-of-sample metrics per strategy. With -db the full run
  is also persisted to sqlite.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	c.engineFlags.register(f)
	f.StringVar(&c.strategies, "strategies", "", "Comma-separated strategies (default: all three)")
	f.StringVar(&c.dbFile, "db", "", "Persist the run to this sqlite file")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
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

	names := []string{
		allocation.StrategyEqualWeight,
		allocation.StrategyMeanVariance,
		allocation.StrategyRiskParity,
	}
	if c.strategies != "" {
		names = strings.Split(c.strategies, ",")
	}
	var strategies []allocation.Allocator
	for _, name := range names {
		a, err := allocatorByName(strings.TrimSpace(name), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		strategies = append(strategies, a)
	}

	run, err := backtest.NewOrchestrator(log).Run(ctx, m, strategies, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.dbFile != "" {
		if err := c.persist(ctx, run); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("Run %s saved to %s\n\n", run.ID, c.dbFile)
	}

	printRun(run)
	return subcommands.ExitSuccess
}

func (c *runCmd) persist(ctx context.Context, run *backtest.RunResult) error {
	db, err := database.New(database.Config{Path: c.dbFile, Name: "results"})
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := results.NewStore(db, c.logger())
	if err != nil {
		return err
	}
	return store.SaveRun(ctx, run)
}

func printRun(run *backtest.RunResult) {
	names := make([]string, 0, len(run.Strategies))
	for name := range run.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tANN RETURN\tANN VOL\tSHARPE\tSORTINO\tMAX DD\tCVAR 95\tTURNOVER\tPERIODS")
	for _, name := range names {
		sr := run.Strategies[name]
		met := sr.Metrics
		sortino := fmt.Sprintf("%.3f", met.Sortino)
		if met.NoDownside || math.IsNaN(met.Sortino) {
			sortino = "no downside"
		}
		fmt.Fprintf(w, "%s\t%.2f%%\t%.2f%%\t%.3f\t%s\t%.2f%%\t%.2f%%\t%.1f%%\t%d\n",
			name,
			met.AnnualReturn*100, met.AnnualVolatility*100,
			met.Sharpe, sortino,
			met.MaxDrawdown*100, met.CVaR*100,
			sr.AvgTurnover*100,
			met.Periods)
	}
	w.Flush()

	if len(run.Skipped) > 0 {
		fmt.Printf("\nSkipped units (%d):\n", len(run.Skipped))
		for _, ref := range run.Skipped {
			fmt.Printf("  %s %s\n", ref.Strategy, ref.Period)
		}
	}
	if len(run.Degraded) > 0 {
		fmt.Printf("\nDegraded allocations (%d):\n", len(run.Degraded))
		for _, ref := range run.Degraded {
			fmt.Printf("  %s %s\n", ref.Strategy, ref.Period)
		}
	}
}
