package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Deployment modes for path resolution
const (
	ModeAuto        = "auto"
	ModePackaged    = "packaged"
	ModeDevelopment = "development"
)

const moduleName = "munireports"

// reservedNames always resolve as resources, whatever the data root says.
var reservedNames = map[string]bool{
	CitiesFileName:  true,
	RecipesFileName: true,
}

// Paths contains all the application paths.
// It is the single source of truth for file locations; nothing else in the
// application joins paths against the executable or home directory.
type Paths struct {
	Mode        string
	ResourceDir string // read-only, shipped with the application
	DataRoot    string // per-user, read-write; product directory included
	LogsDir     string

	CitiesFile  string
	RecipesFile string
	HistoryDB   string
}

// GetPaths resolves the application paths for the given configuration
func GetPaths(cfg PathsConfig) (*Paths, error) {
	mode := strings.ToLower(cfg.Mode)
	projectRoot := ""
	if mode == "" || mode == ModeAuto {
		mode = ModePackaged
		if root, ok := findProjectRoot(); ok {
			mode = ModeDevelopment
			projectRoot = root
		}
	} else if mode == ModeDevelopment {
		root, ok := findProjectRoot()
		if !ok {
			return nil, fmt.Errorf("development mode requested but no %s project root found", moduleName)
		}
		projectRoot = root
	}

	resourceDir := cfg.ResourceDir
	if resourceDir == "" {
		if mode == ModeDevelopment {
			resourceDir = projectRoot
		} else {
			exeDir, err := executableDir()
			if err != nil {
				return nil, err
			}
			resourceDir = exeDir
		}
	}

	var dataRoot string
	switch {
	case cfg.DataRoot != "":
		dataRoot = filepath.Join(cfg.DataRoot, ProductDir)
	case mode == ModeDevelopment:
		dataRoot = filepath.Join(projectRoot, "data", ProductDir)
	default:
		root, err := defaultUserDataRoot()
		if err != nil {
			return nil, err
		}
		dataRoot = root
	}

	resourceDir, err := filepath.Abs(resourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve resource dir: %w", err)
	}
	dataRoot, err = filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}

	p := &Paths{
		Mode:        mode,
		ResourceDir: resourceDir,
		DataRoot:    dataRoot,
		LogsDir:     filepath.Join(dataRoot, "logs"),
	}
	p.CitiesFile = p.DataPath(CitiesFileName)
	p.RecipesFile = p.DataPath(RecipesFileName)
	p.HistoryDB = p.DataPath(HistoryFileName)
	return p, nil
}

// ResourcePath returns the absolute path of a shipped, read-only file
func (p *Paths) ResourcePath(name string) string {
	return filepath.Join(p.ResourceDir, name)
}

// DataPath returns the absolute path of a per-user file. Reserved names are
// redirected to the resource directory.
func (p *Paths) DataPath(name string) string {
	if reservedNames[filepath.Base(name)] && filepath.Dir(name) == "." {
		return p.ResourcePath(name)
	}
	return filepath.Join(p.DataRoot, name)
}

// WorkspaceDir returns <data-root>/<city-key>/<year>
func (p *Paths) WorkspaceDir(cityKey string, year int) string {
	return filepath.Join(p.DataRoot, cityKey, strconv.Itoa(year))
}

// EnsureDirectories creates the base directories. Safe to call repeatedly.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataRoot, p.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPathResolution logs the resolved layout at startup
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution",
		slog.String("mode", p.Mode),
		slog.String("resource_dir", p.ResourceDir),
		slog.String("data_root", p.DataRoot),
		slog.String("cities_file", p.CitiesFile),
		slog.String("history_db", p.HistoryDB))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// defaultUserDataRoot picks ~/Documents/MuniReports on desktops and
// ~/.munireports on headless Unix machines.
func defaultUserDataRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if isDesktop() {
		return filepath.Join(home, "Documents", ProductDir), nil
	}
	return filepath.Join(home, UnixProductDir), nil
}

func isDesktop() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// findProjectRoot walks up from the working directory looking for the
// go.mod that declares this module.
func findProjectRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if declaresModule(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func declaresModule(goMod string) bool {
	f, err := os.Open(goMod)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module ")) == moduleName
		}
	}
	return false
}
