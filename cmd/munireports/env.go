package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"munireports/internal/config"
	"munireports/internal/infrastructure"
	"munireports/internal/recipes"
)

const cliLogFile = "munireports-cli.log"

// environment is what every subcommand starts from
type environment struct {
	cfg    *config.Config
	paths  *config.Paths
	logger *slog.Logger
}

// load resolves the configuration and the data root and opens the CLI log.
// Logs go to a file so tables on stdout stay readable.
func (o *globalOptions) load() (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFrom(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.dataRoot != "" {
		cfg.Paths.DataRoot = o.dataRoot
	}

	paths, err := config.GetPaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if o.citiesFile != "" {
		paths.CitiesFile = o.citiesFile
	}
	if o.recipesFile != "" {
		paths.RecipesFile = o.recipesFile
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	logCfg := infrastructure.DefaultLoggingConfig(paths.LogsDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = filepath.Join(paths.LogsDir, cliLogFile)
	logCfg.Output = infrastructure.OutputFile
	if o.verbose {
		logCfg.Output = infrastructure.OutputBoth
		logCfg.Level = "debug"
	}
	logger, err := infrastructure.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return &environment{cfg: cfg, paths: paths, logger: logger}, nil
}

func (e *environment) Close() {
	infrastructure.CloseLogFile()
}

// cities loads the city file with a hint when it is missing
func (e *environment) cities() (config.Cities, error) {
	cities, err := config.LoadCities(e.paths.CitiesFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no city configuration at %s (see cities.example.yaml)", e.paths.CitiesFile)
	}
	return cities, err
}

// registry loads the recipe catalog and installs the overrides of cities
func (e *environment) registry(cities config.Cities) (*recipes.Registry, error) {
	reg, err := recipes.Load(e.paths.RecipesFile)
	if err != nil {
		return nil, err
	}
	for _, key := range cities.Keys() {
		if err := reg.ApplyCity(cities[key]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
