package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"munireports/internal/config"
)

// TempPaths lays out a development-mode resource dir and data root under
// t.TempDir(). Neither cities.yaml nor recipes.yaml exists yet.
func TempPaths(t *testing.T) *config.Paths {
	t.Helper()
	root := t.TempDir()
	resources := filepath.Join(root, "resources")
	data := filepath.Join(root, "data", config.ProductDir)
	if err := os.MkdirAll(resources, 0o755); err != nil {
		t.Fatalf("create resource dir: %v", err)
	}

	return &config.Paths{
		Mode:        config.ModeDevelopment,
		ResourceDir: resources,
		DataRoot:    data,
		LogsDir:     filepath.Join(data, "logs"),
		CitiesFile:  filepath.Join(resources, config.CitiesFileName),
		RecipesFile: filepath.Join(resources, config.RecipesFileName),
		HistoryDB:   filepath.Join(data, config.HistoryFileName),
	}
}

// WriteCities writes doc as the city configuration of paths
func WriteCities(t *testing.T, paths *config.Paths, doc string) {
	t.Helper()
	if err := os.WriteFile(paths.CitiesFile, []byte(doc), 0o600); err != nil {
		t.Fatalf("write cities: %v", err)
	}
}
