package config

import "time"

// Application constants for MuniReports
const (
	// Application Info
	AppName    = "MuniReports"
	AppVersion = "1.0.0"

	// ProductDir is appended to the data root on desktop systems.
	ProductDir = "MuniReports"
	// UnixProductDir is the hidden per-user directory used on servers.
	UnixProductDir = ".munireports"

	// EnvPrefix namespaces every environment variable (MUNIREPORTS_*)
	EnvPrefix = "MUNIREPORTS"

	// Reserved resource files. These never follow the data-root override.
	CitiesFileName  = "cities.yaml"
	RecipesFileName = "recipes.yaml"
	ConfigFileName  = "config.yaml"

	// Other data files
	HistoryFileName = "history.db"
	LogFileName     = "munireports.log"

	// Workspace subdirectories
	DownloadDirName  = "download"
	RawDirName       = "raw"
	ConvertedDirName = "converted"

	// Domain
	MinYear              = 1998
	PlanningPeriodLength = 4

	// Concurrency
	DefaultConcurrency = 1
	MinConcurrency     = 1
	MaxConcurrency     = 5

	// Batch checkpoints (recipe indexes after which a harvest runs)
	DefaultFirstCheckpoint  = 5
	DefaultSecondCheckpoint = 10

	// Harvest timing
	DefaultCoolingOffBatch1  = 600 * time.Second
	DefaultCoolingOffBatch2  = 900 * time.Second
	DefaultCheckInterval     = 60 * time.Second
	DefaultClickSettle       = 5 * time.Second
	DefaultDownloadTimeout   = 30 * time.Second
	DefaultSettlingWindow    = 2 * time.Second
	DefaultEmptyHarvestRetry = 3
	DefaultEmptyHarvestWait  = 5 * time.Minute
	DefaultNavigationRetries = 3

	// Browser timing
	DefaultStepTimeout       = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSubmitSettle      = 1 * time.Second

	// Portal
	DefaultEntryURL = "https://portal.publica.example.com.br/contabil/"

	// Network Timeouts
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second
)
