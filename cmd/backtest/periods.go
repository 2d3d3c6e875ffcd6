package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

type periodsCmd struct {
	engineFlags
}

func (*periodsCmd) Name() string     { return "periods" }
func (*periodsCmd) Synopsis() string { return "print the resolved rebalancing schedule" }
func (*periodsCmd) Usage() string {
	return `backtest periods -returns <csv> (-dates <d1,d2,...> | -start <date> [-every N] [-periods N])

  Resolves the rebalancing dates against the returns file and prints each
  period's estimation and test windows, flagging ones a run would skip.
`
}

func (c *periodsCmd) SetFlags(f *flag.FlagSet) {
	c.engineFlags.register(f)
}

func (c *periodsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
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

	periods, err := backtest.BuildPeriods(m, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tESTIMATION\tOBS\tTEST\tOBS\tNOTE")
	for _, p := range periods {
		note := ""
		switch {
		case p.EstObservations() < estimation.MinObservations:
			note = fmt.Sprintf("would skip: estimation window < %d", estimation.MinObservations)
		case p.TestObservations() < cfg.MinTestObservations:
			note = fmt.Sprintf("would skip: test window < %d", cfg.MinTestObservations)
		}

		est := "-"
		if p.EstObservations() > 0 {
			est = fmt.Sprintf("%s .. %s", p.EstStart.Format(dateLayout), p.EstEnd.Format(dateLayout))
		}
		test := "-"
		if p.TestObservations() > 0 {
			test = fmt.Sprintf("%s .. %s", p.TestStart.Format(dateLayout), p.TestEnd.Format(dateLayout))
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			p.Label, est, p.EstObservations(), test, p.TestObservations(), note)
	}
	w.Flush()
	return subcommands.ExitSuccess
}
