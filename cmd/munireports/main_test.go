package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/config"
	"munireports/internal/exporter"
	"munireports/internal/history"
	"munireports/internal/operations"
)

const testCities = `
cities:
  Congonhas:
    username: congonhas.user
    password: secret
    recipes: ["Balancete da Receita"]
  Ribeirão das Neves:
    display_name: Ribeirão das Neves
    username: neves.user
    password: secret
`

type cliFixture struct {
	dir      string
	dataRoot string
	cities   string
}

func newCLIFixture(t *testing.T, cities string) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	f := &cliFixture{
		dir:      dir,
		dataRoot: filepath.Join(dir, "data"),
		cities:   filepath.Join(dir, "cities.yaml"),
	}
	if cities != "" {
		require.NoError(t, os.WriteFile(f.cities, []byte(cities), 0o600))
	}
	return f
}

// execute runs the CLI against the fixture's isolated data root
func (f *cliFixture) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--config", filepath.Join(f.dir, "config.yaml"),
		"--data-root", f.dataRoot,
		"--cities", f.cities,
		"--recipes", filepath.Join(f.dir, "recipes.yaml"),
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(base, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *cliFixture) historyDB() string {
	return filepath.Join(f.dataRoot, config.ProductDir, config.HistoryFileName)
}

func TestVersion(t *testing.T) {
	out, err := newCLIFixture(t, "").execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, config.AppVersion)
}

func TestCities(t *testing.T) {
	f := newCLIFixture(t, testCities)

	out, err := f.execute(t, "cities")
	require.NoError(t, err)
	assert.Contains(t, out, "congonhas")
	assert.Contains(t, out, "Ribeirão das Neves")
	assert.NotContains(t, out, "secret")

	out, err = f.execute(t, "cities", "--json")
	require.NoError(t, err)
	var rows []cityRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "congonhas", rows[0].Key)
	assert.Equal(t, []string{"Balancete da Receita"}, rows[0].Reports)
	assert.Greater(t, len(rows[1].Reports), 1, "cities without a list run the whole catalog")
}

func TestCitiesWithoutFile(t *testing.T) {
	_, err := newCLIFixture(t, "").execute(t, "cities")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no city configuration")
}

func TestRecipes(t *testing.T) {
	f := newCLIFixture(t, testCities)

	tests := []struct {
		name      string
		args      []string
		wantFirst string
		wantLen   int
		wantErr   error
	}{
		{name: "default catalog", args: nil, wantFirst: "Balancete da Receita"},
		{name: "city list", args: []string{"--city", "Congonhas"}, wantFirst: "Balancete da Receita", wantLen: 1},
		{name: "unknown city", args: []string{"--city", "Atlantis"}, wantErr: config.ErrCityNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.execute(t, append([]string{"recipes", "--json"}, tt.args...)...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			var rows []recipeRow
			require.NoError(t, json.Unmarshal([]byte(out), &rows))
			require.NotEmpty(t, rows)
			assert.Equal(t, tt.wantFirst, rows[0].Name)
			assert.Equal(t, 1, rows[0].Order)
			assert.Positive(t, rows[0].Steps)
			if tt.wantLen > 0 {
				assert.Len(t, rows, tt.wantLen)
			}
		})
	}
}

func TestRecipesTable(t *testing.T) {
	out, err := newCLIFixture(t, "").execute(t, "recipes")
	require.NoError(t, err)
	assert.Contains(t, out, "Balancete da Despesa")
	assert.Contains(t, out, "report(s)")
}

func TestConvert(t *testing.T) {
	f := newCLIFixture(t, testCities)

	_, err := f.execute(t, "convert", "--city", "Congonhas", "--year", "2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace")

	_, err = f.execute(t, "convert", "--city", "Congonhas", "--year", "1990")
	require.Error(t, err)

	raw := filepath.Join(f.dataRoot, config.ProductDir, "congonhas", "2025", config.RawDirName)
	require.NoError(t, os.MkdirAll(raw, 0o755))

	out, err := f.execute(t, "convert", "--city", "Congonhas", "--year", "2025", "--json")
	require.NoError(t, err)
	var res convertResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Converted)
	assert.Empty(t, res.Failed)
	assert.DirExists(t, filepath.Join(filepath.Dir(raw), config.ConvertedDirName))

	require.NoError(t, os.WriteFile(filepath.Join(raw, "Balancete.xls"), []byte("not a workbook"), 0o644))
	_, err = f.execute(t, "convert", "--city", "Congonhas", "--year", "2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 file(s) failed")
}

func TestHistory(t *testing.T) {
	f := newCLIFixture(t, testCities)

	// create the data root first so the store can be seeded
	_, err := f.execute(t, "history", "--json")
	require.NoError(t, err)

	store, err := history.Open(context.Background(), f.historyDB(), nil)
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordAll(context.Background(), []operations.Outcome{
		{RunID: "run-a", City: "congonhas", Display: "Congonhas", Year: 2025, State: operations.StateDone, Status: operations.StatusSuccess, StartedAt: base, FinishedAt: base.Add(20 * time.Minute)},
		{RunID: "run-a", City: "ribeirao_das_neves", Display: "Ribeirão das Neves", Year: 2025, State: operations.StateFailed, Status: operations.StatusError, ErrorKind: "authentication", StartedAt: base, FinishedAt: base.Add(time.Minute)},
	}))
	require.NoError(t, store.Close())

	out, err := f.execute(t, "history", "--json", "--city", "Congonhas")
	require.NoError(t, err)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "congonhas", entries[0].City)

	out, err = f.execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "authentication")
	assert.Contains(t, out, "20m0s")

	out, err = f.execute(t, "history", "runs", "--json")
	require.NoError(t, err)
	var runs []history.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Pairs)

	dst := filepath.Join(f.dir, "history.xlsx")
	_, err = f.execute(t, "history", "export", "--format", "xlsx", "--output", dst)
	require.NoError(t, err)
	assert.FileExists(t, dst)

	out, err = f.execute(t, "history", "export", "--city", "Ribeirão das Neves")
	require.NoError(t, err)
	assert.Contains(t, out, "Ribeirão das Neves")
	assert.NotContains(t, out, "run-a,congonhas")

	_, err = f.execute(t, "history", "export", "--format", "pdf")
	assert.ErrorIs(t, err, exporter.ErrUnsupportedFormat)
}

func TestRunRequiresPairs(t *testing.T) {
	_, err := newCLIFixture(t, testCities).execute(t, "run", "--city", "Congonhas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "year" not set`)
}

func TestRunUnknownCityFailsThePair(t *testing.T) {
	f := newCLIFixture(t, testCities)

	out, err := f.execute(t, "run", "--city", "Atlantis", "--year", "2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished with status error")
	assert.Contains(t, out, "atlantis")
	assert.Contains(t, out, "configuration")
}
