package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"munireports/internal/config"
	"munireports/internal/files"
)

type convertResult struct {
	Workspace string   `json:"workspace"`
	Converted []string `json:"converted"`
	Failed    []string `json:"failed,omitempty"`
}

func newConvertCmd(g *globalOptions) *cobra.Command {
	var (
		city string
		year int
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a workspace's raw .xls files again",
		Long: `Converts every raw/<name>.xls of one city-year workspace into
converted/<name>.xlsx, replacing earlier conversions. The portal is not
contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateYear(year); err != nil {
				return err
			}
			key := config.NormalizeCityName(city)
			if !config.ValidCityKey(key) {
				return fmt.Errorf("%q is not a municipality name", city)
			}
			env, err := g.load()
			if err != nil {
				return err
			}
			defer env.Close()

			root := env.paths.WorkspaceDir(key, year)
			if _, err := os.Stat(root); err != nil {
				return fmt.Errorf("no workspace for %s/%d at %s", city, year, root)
			}

			ws := files.NewWorkspace(root, env.logger)
			res, err := ws.ConvertAllRaw(cmd.Context(), files.NewXLSCodec())
			if err != nil {
				return err
			}

			out := convertResult{Workspace: root, Converted: res.Converted}
			for _, ferr := range res.Failed {
				out.Failed = append(out.Failed, ferr.Error())
			}
			if g.json {
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				renderConversion(cmd, out)
			}

			if len(out.Failed) > 0 {
				return fmt.Errorf("%d file(s) failed to convert", len(out.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "municipality name or key")
	cmd.Flags().IntVar(&year, "year", 0, "fiscal year")
	_ = cmd.MarkFlagRequired("city")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func renderConversion(cmd *cobra.Command, res convertResult) {
	tw := newTable(cmd.OutOrStdout(), table.Row{"File", "Result"})
	for _, name := range res.Converted {
		tw.AppendRow(table.Row{name, "converted"})
	}
	for _, msg := range res.Failed {
		tw.AppendRow(table.Row{msg, "failed"})
	}
	tw.SetTitle(res.Workspace)
	tw.Render()
}
