package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Portal    PortalConfig    `yaml:"portal" envconfig:"PORTAL"`
	Harvest   HarvestConfig   `yaml:"harvest" envconfig:"HARVEST"`
	Pool      PoolConfig      `yaml:"pool" envconfig:"POOL"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	OpenBrowser     bool          `yaml:"open_browser" envconfig:"OPEN_BROWSER"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration.
// Empty values mean "detect".
type PathsConfig struct {
	Mode        string `yaml:"mode" envconfig:"MODE"`
	DataRoot    string `yaml:"data_root" envconfig:"DATA_ROOT"`
	ResourceDir string `yaml:"resource_dir" envconfig:"RESOURCE_DIR"`
}

// PortalConfig describes how the browser reaches the accounting portal
type PortalConfig struct {
	EntryURL          string        `yaml:"entry_url" envconfig:"ENTRY_URL"`
	Headless          bool          `yaml:"headless" envconfig:"HEADLESS"`
	ChromePath        string        `yaml:"chrome_path" envconfig:"CHROME_PATH"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" envconfig:"NAVIGATION_TIMEOUT"`
	StepTimeout       time.Duration `yaml:"step_timeout" envconfig:"STEP_TIMEOUT"`
	SubmitSettle      time.Duration `yaml:"submit_settle" envconfig:"SUBMIT_SETTLE"`
}

// HarvestConfig controls the cooling-off and download phase
type HarvestConfig struct {
	CoolingOffBatch1  time.Duration `yaml:"cooling_off_batch1" envconfig:"COOLING_OFF_BATCH1"`
	CoolingOffBatch2  time.Duration `yaml:"cooling_off_batch2" envconfig:"COOLING_OFF_BATCH2"`
	CheckInterval     time.Duration `yaml:"check_interval" envconfig:"CHECK_INTERVAL"`
	ClickSettle       time.Duration `yaml:"click_settle" envconfig:"CLICK_SETTLE"`
	DownloadTimeout   time.Duration `yaml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	SettlingWindow    time.Duration `yaml:"settling_window" envconfig:"SETTLING_WINDOW"`
	EmptyRetries      int           `yaml:"empty_retries" envconfig:"EMPTY_RETRIES"`
	EmptyRetryWait    time.Duration `yaml:"empty_retry_wait" envconfig:"EMPTY_RETRY_WAIT"`
	NavigationRetries int           `yaml:"navigation_retries" envconfig:"NAVIGATION_RETRIES"`
}

// PoolConfig controls worker concurrency and batch checkpoints
type PoolConfig struct {
	Concurrency      int `yaml:"concurrency" envconfig:"CONCURRENCY"`
	FirstCheckpoint  int `yaml:"first_checkpoint" envconfig:"FIRST_CHECKPOINT"`
	SecondCheckpoint int `yaml:"second_checkpoint" envconfig:"SECOND_CHECKPOINT"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, then the optional config
// file, then MUNIREPORTS_* environment variables (highest priority).
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := loadFromFile(configFile, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file on top of cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration and normalizes soft values
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Portal.EntryURL == "" {
		return fmt.Errorf("portal entry url is required")
	}

	if c.Portal.StepTimeout <= 0 || c.Portal.StepTimeout > DefaultStepTimeout {
		return fmt.Errorf("portal step timeout must be in (0, %s]", DefaultStepTimeout)
	}

	if c.Portal.SubmitSettle > time.Second {
		return fmt.Errorf("portal submit settle must not exceed 1s")
	}

	if c.Harvest.CheckInterval <= 0 || c.Harvest.CheckInterval > DefaultCheckInterval {
		return fmt.Errorf("harvest check interval must be in (0, %s]", DefaultCheckInterval)
	}

	if c.Pool.FirstCheckpoint <= 0 || c.Pool.SecondCheckpoint <= c.Pool.FirstCheckpoint {
		return fmt.Errorf("invalid batch checkpoints %d/%d", c.Pool.FirstCheckpoint, c.Pool.SecondCheckpoint)
	}

	c.Pool.Concurrency = ClampConcurrency(c.Pool.Concurrency)

	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "both"
	}

	switch strings.ToLower(c.Paths.Mode) {
	case "", ModeAuto, ModePackaged, ModeDevelopment:
	default:
		return fmt.Errorf("unknown paths mode %q", c.Paths.Mode)
	}

	return nil
}

// ClampConcurrency forces a worker count into [MinConcurrency, MaxConcurrency]
func ClampConcurrency(k int) int {
	if k < MinConcurrency {
		return MinConcurrency
	}
	if k > MaxConcurrency {
		return MaxConcurrency
	}
	return k
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		ConfigFileName,
		filepath.Join("configs", ConfigFileName),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			OpenBrowser:     true,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   25,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "",
		},
		Paths: PathsConfig{
			Mode: ModeAuto,
		},
		Portal: PortalConfig{
			EntryURL:          DefaultEntryURL,
			Headless:          true,
			NavigationTimeout: DefaultNavigationTimeout,
			StepTimeout:       DefaultStepTimeout,
			SubmitSettle:      DefaultSubmitSettle,
		},
		Harvest: HarvestConfig{
			CoolingOffBatch1:  DefaultCoolingOffBatch1,
			CoolingOffBatch2:  DefaultCoolingOffBatch2,
			CheckInterval:     DefaultCheckInterval,
			ClickSettle:       DefaultClickSettle,
			DownloadTimeout:   DefaultDownloadTimeout,
			SettlingWindow:    DefaultSettlingWindow,
			EmptyRetries:      DefaultEmptyHarvestRetry,
			EmptyRetryWait:    DefaultEmptyHarvestWait,
			NavigationRetries: DefaultNavigationRetries,
		},
		Pool: PoolConfig{
			Concurrency:      DefaultConcurrency,
			FirstCheckpoint:  DefaultFirstCheckpoint,
			SecondCheckpoint: DefaultSecondCheckpoint,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      WebSocketPingPeriod,
			PongWait:        WebSocketPongWait,
		},
	}
}
