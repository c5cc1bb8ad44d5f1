package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"munireports/internal/app"
	"munireports/internal/infrastructure"
	"munireports/internal/operations"
	"munireports/internal/progress"
	"munireports/internal/services"
)

type runOptions struct {
	cities      []string
	years       []int
	concurrency int
	showBrowser bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest the reports of every city-year pair",
		Example: `  munireports run --city Congonhas --year 2025
  munireports run --city Congonhas --city "Ribeirão das Neves" --year 2024 --year 2025 -k 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, g)
		},
	}
	cmd.Flags().StringArrayVar(&o.cities, "city", nil, "municipality name or key (repeatable)")
	cmd.Flags().IntSliceVar(&o.years, "year", nil, "fiscal year (repeatable)")
	cmd.Flags().IntVarP(&o.concurrency, "concurrency", "k", 0, "parallel workflows (default: pool.concurrency)")
	cmd.Flags().BoolVar(&o.showBrowser, "show-browser", false, "run Chrome with a visible window")
	_ = cmd.MarkFlagRequired("city")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

// cliOTel keeps traces off stdout; the CLI has no metrics endpoint
func cliOTel() *infrastructure.OTelConfig {
	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.TraceExporter = "none"
	otelCfg.MetricExporter = "none"
	return otelCfg
}

func (o *runOptions) run(cmd *cobra.Command, g *globalOptions) error {
	env, err := g.load()
	if err != nil {
		return err
	}
	defer env.Close()
	if o.showBrowser {
		env.cfg.Portal.Headless = false
	}

	a, err := app.New(app.Options{
		Config: env.cfg,
		Paths:  env.paths,
		OTel:   cliOTel(),
		Logger: env.logger,
	})
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pairs := services.Pairs(o.cities, o.years)
	cancel, events, runID, err := a.RunService.Launch(ctx, pairs, o.concurrency)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()

	out := cmd.OutOrStdout()
	if !g.json {
		fmt.Fprintf(out, "run %s: %d pair(s)\n", runID, len(pairs))
	}
	for e := range events {
		if !g.json {
			printEvent(out, e)
		}
	}

	status, err := a.RunService.Status(runID)
	if err != nil {
		return err
	}
	if g.json {
		if err := printJSON(out, status); err != nil {
			return err
		}
	} else {
		renderRun(out, status)
	}

	if status.Status != string(operations.StatusSuccess) {
		return fmt.Errorf("run %s finished with status %s", runID, status.Status)
	}
	return nil
}

// printEvent writes one line per workflow start and finish
func printEvent(w io.Writer, e progress.Event) {
	switch e.Kind {
	case progress.KindWorkflowStarted:
		fmt.Fprintf(w, "  %-32s started\n", e.Pair())
	case progress.KindWorkflowFinished:
		line := fmt.Sprintf("  %-32s %s", e.Pair(), e.Status)
		if e.Error != "" {
			line += ": " + e.Error
		}
		fmt.Fprintln(w, line)
	}
}

func renderRun(w io.Writer, status services.RunStatus) {
	tw := newTable(w, table.Row{"City", "Year", "Status", "Submitted", "Downloaded", "Converted", "Error", "Workspace"})
	for _, p := range status.Pairs {
		c := p.Counters
		tw.AppendRow(table.Row{
			p.City,
			p.Year,
			orDash(string(p.Status)),
			fmt.Sprintf("%d/%d", c.SubmissionsSucceeded, c.SubmissionsAttempted),
			c.FilesDownloaded,
			c.FilesConverted,
			orDash(p.ErrorKind),
			orDash(p.Workspace),
		})
	}
	tw.AppendFooter(table.Row{"", "", status.Status, "", "", "", "", formatDuration(runDuration(status))})
	tw.Render()
}

func runDuration(status services.RunStatus) (d time.Duration) {
	if status.FinishedAt != nil {
		d = status.FinishedAt.Sub(status.StartedAt)
	}
	return d
}
