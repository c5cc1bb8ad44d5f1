// Command munireports drives the report harvester from a terminal: it runs
// city-year pairs without the web UI, lists the catalogs, re-runs
// conversions and reads the run history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"munireports/internal/config"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configFile  string
	dataRoot    string
	citiesFile  string
	recipesFile string
	verbose     bool
	json        bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "munireports",
		Short: "Harvest municipal accounting reports",
		Long: `munireports logs into the accounting portal once per city and year,
submits every report recipe, harvests the downloads and converts them to
.xlsx under <data-root>/MuniReports/<city>/<year>/converted.

Configuration comes from config.yaml and MUNIREPORTS_* environment
variables; cities and their credentials come from cities.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: config.yaml lookup)")
	flags.StringVar(&opts.dataRoot, "data-root", "", "parent directory of the MuniReports data folder")
	flags.StringVar(&opts.citiesFile, "cities", "", "city configuration file (default: cities.yaml next to the binary)")
	flags.StringVar(&opts.recipesFile, "recipes", "", "recipe catalog file (default: the built-in catalog)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "also write logs to stdout")
	flags.BoolVar(&opts.json, "json", false, "output JSON")

	root.AddCommand(
		newRunCmd(opts),
		newCitiesCmd(opts),
		newRecipesCmd(opts),
		newConvertCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", config.AppName, config.AppVersion)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
