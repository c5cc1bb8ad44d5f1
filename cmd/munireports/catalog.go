package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"munireports/internal/config"
	"munireports/internal/recipes"
)

type cityRow struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Username    string   `json:"username"`
	Reports     []string `json:"reports"`
}

func newCitiesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cities",
		Short: "List the configured municipalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load()
			if err != nil {
				return err
			}
			defer env.Close()

			cities, err := env.cities()
			if err != nil {
				return err
			}
			reg, err := env.registry(cities)
			if err != nil {
				return err
			}

			rows := make([]cityRow, 0, len(cities))
			for _, key := range cities.Keys() {
				c := cities[key]
				rows = append(rows, cityRow{
					Key:         key,
					DisplayName: c.DisplayName,
					Username:    c.Username,
					Reports:     reg.ReportList(key),
				})
			}

			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, rows)
			}
			tw := newTable(out, table.Row{"Key", "Name", "User", "Reports"})
			for _, r := range rows {
				tw.AppendRow(table.Row{r.Key, r.DisplayName, r.Username, len(r.Reports)})
			}
			tw.Render()
			return nil
		},
	}
}

type recipeRow struct {
	Order         int      `json:"order"`
	Name          string   `json:"name"`
	Steps         int      `json:"steps"`
	ExpectedFiles int      `json:"expected_files"`
	Params        []string `json:"params,omitempty"`
}

func newRecipesCmd(g *globalOptions) *cobra.Command {
	var city string
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "List the report recipes in run order",
		Long: `Lists the report recipes a city runs, in submission order. Without --city
the default catalog is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load()
			if err != nil {
				return err
			}
			defer env.Close()

			key := recipes.DefaultKey
			cities := config.Cities{}
			if city != "" {
				if cities, err = env.cities(); err != nil {
					return err
				}
				c, err := cities.Lookup(city)
				if err != nil {
					return err
				}
				key = c.Key
			}
			reg, err := env.registry(cities)
			if err != nil {
				return err
			}

			rows, err := recipeRows(reg, key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, rows)
			}
			tw := newTable(out, table.Row{"#", "Report", "Steps", "Files", "Params"})
			for _, r := range rows {
				tw.AppendRow(table.Row{r.Order, r.Name, r.Steps, r.ExpectedFiles, strings.Join(r.Params, ", ")})
			}
			tw.AppendFooter(table.Row{"", fmt.Sprintf("%d report(s)", len(rows)), "", "", ""})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "show the list and overrides of one city")
	return cmd
}

func recipeRows(reg *recipes.Registry, cityKey string) ([]recipeRow, error) {
	names := reg.ReportList(cityKey)
	rows := make([]recipeRow, 0, len(names))
	for i, name := range names {
		rec, err := reg.Resolve(cityKey, name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, recipeRow{
			Order:         i + 1,
			Name:          rec.Name,
			Steps:         len(rec.Steps),
			ExpectedFiles: rec.ExpectedFiles,
			Params:        rec.Params,
		})
	}
	return rows, nil
}
