package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"munireports/internal/config"
	"munireports/internal/exporter"
	"munireports/internal/history"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var f history.Filter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished workflows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, g, func(env *environment, store *history.Store) error {
				if f.City != "" {
					f.City = config.NormalizeCityName(f.City)
				}
				entries, err := store.List(cmd.Context(), f)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				renderEntries(cmd, entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.City, "city", "", "only this municipality")
	cmd.Flags().IntVar(&f.Year, "year", 0, "only this fiscal year")
	cmd.Flags().StringVar(&f.RunID, "run", "", "only this run")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	cmd.AddCommand(newHistoryRunsCmd(g), newHistoryExportCmd(g))
	return cmd
}

func newHistoryRunsCmd(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Summarize finished runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, g, func(env *environment, store *history.Store) error {
				runs, err := store.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Run", "Pairs", "Status", "Started", "Finished"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.RunID, r.Pairs, r.Status, formatTime(r.StartedAt), formatTime(r.FinishedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs")
	return cmd
}

func newHistoryExportCmd(g *globalOptions) *cobra.Command {
	var (
		f      history.Filter
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write finished workflows to a CSV or XLSX file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtv, err := exporter.ParseFormat(format)
			if err != nil {
				return err
			}
			return withHistory(cmd, g, func(env *environment, store *history.Store) error {
				if f.City != "" {
					f.City = config.NormalizeCityName(f.City)
				}
				entries, err := store.List(cmd.Context(), f)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					file, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", out, err)
					}
					defer file.Close()
					w = file
				}
				if err := exporter.NewHistoryExporter(env.logger).Export(w, fmtv, entries); err != nil {
					return err
				}
				if w != cmd.OutOrStdout() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d workflow(s) written to %s\n", len(entries), out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.City, "city", "", "only this municipality")
	cmd.Flags().IntVar(&f.Year, "year", 0, "only this fiscal year")
	cmd.Flags().StringVar(&f.RunID, "run", "", "only this run")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "output", "o", "", "destination file (stdout when empty)")
	return cmd
}

func withHistory(cmd *cobra.Command, g *globalOptions, fn func(*environment, *history.Store) error) error {
	env, err := g.load()
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := history.Open(cmd.Context(), env.paths.HistoryDB, env.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(env, store)
}

func renderEntries(cmd *cobra.Command, entries []history.Entry) {
	tw := newTable(cmd.OutOrStdout(), table.Row{"Finished", "City", "Year", "Status", "State", "Submitted", "Converted", "Duration", "Error"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			formatTime(e.FinishedAt),
			e.Display,
			e.Year,
			e.Status,
			e.State,
			e.Submitted,
			e.Converted,
			formatDuration(e.Duration()),
			orDash(e.ErrorKind),
		})
	}
	tw.Render()
}
