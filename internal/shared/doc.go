// Package shared groups helpers used by more than one package.
//
// The testutil subpackage captures slog output and lays out throwaway
// data roots for tests that wire the whole application:
//
//	logger, logs := testutil.NewTestLogger(t)
//	paths := testutil.TempPaths(t)
//	testutil.WriteCities(t, paths, citiesYAML)
//
// Nothing here is imported by production code.
package shared
