// Package config provides configuration loading and path resolution for
// MuniReports.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. config.yaml (MUNIREPORTS_CONFIG_FILE, ./config.yaml or ./configs/config.yaml)
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern MUNIREPORTS_<SECTION>_<KEY>:
//
//	MUNIREPORTS_SERVER_PORT=8080
//	MUNIREPORTS_PORTAL_ENTRY_URL=https://portal.example/login
//	MUNIREPORTS_HARVEST_COOLING_OFF_BATCH1=10m
//	MUNIREPORTS_POOL_CONCURRENCY=3
//	MUNIREPORTS_PATHS_DATA_ROOT=/srv/reports
//
// # Path Management
//
// GetPaths distinguishes shipped resources (cities.yaml, recipes.yaml) from
// per-user data (workspaces, logs, run history):
//
//	paths, _ := config.GetPaths(cfg.Paths)
//	cities, _ := config.LoadCities(paths.CitiesFile)
//	dir := paths.WorkspaceDir("congonhas", 2025)
//
// # Cities
//
// cities.yaml maps a city name to its portal credentials and optional
// recipe overrides. Keys are normalized with NormalizeCityName.
package config
