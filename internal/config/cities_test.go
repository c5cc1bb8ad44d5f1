package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const citiesYAML = `
cities:
  congonhas:
    display_name: Congonhas
    username: user_congonhas
    password: secret
  Ribeirão das Neves:
    username: user_neves
    password: secret
    recipes:
      - Balancete da Receita
      - Extrato Bancário
    locators:
      "id:1093": "id:2211"
    recipe_overrides:
      Extrato Bancário:
        name: Extrato Bancário
        steps:
          - action: click
            target: id:9000
          - action: submit
            target: id:btnGerar
`

func TestParseCities(t *testing.T) {
	cities, err := ParseCities([]byte(citiesYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"congonhas", "ribeirao_das_neves"}, cities.Keys())

	neves, err := cities.Lookup("Ribeirão das Neves")
	require.NoError(t, err)
	assert.Equal(t, "ribeirao_das_neves", neves.Key)
	assert.Equal(t, "Ribeirão das Neves", neves.DisplayName, "display name defaults to the raw key")
	assert.Equal(t, []string{"Balancete da Receita", "Extrato Bancário"}, neves.Recipes)
	assert.Equal(t, "id:2211", neves.Locators["id:1093"])
	require.Contains(t, neves.RecipeOverrides, "Extrato Bancário")
	assert.Len(t, neves.RecipeOverrides["Extrato Bancário"].Steps, 2)

	congonhas, err := cities.Lookup("CONGONHAS")
	require.NoError(t, err)
	assert.Equal(t, "Congonhas", congonhas.DisplayName)
}

func TestParseCitiesValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing password", "cities:\n  a:\n    username: u\n"},
		{"missing username", "cities:\n  a:\n    password: p\n"},
		{"duplicate after normalization", "cities:\n  São Paulo:\n    username: u\n    password: p\n  sao_paulo:\n    username: u\n    password: p\n"},
		{"bad override step", "cities:\n  a:\n    username: u\n    password: p\n    recipe_overrides:\n      X:\n        name: X\n        steps:\n          - action: hover\n            target: id:1\n"},
		{"malformed yaml", "cities: [unterminated"},
		{"parent directory key", "cities:\n  \"..\":\n    username: u\n    password: p\n"},
		{"path separator in key", "cities:\n  a/b:\n    username: u\n    password: p\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCities([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestCitiesLookupMissing(t *testing.T) {
	cities, err := ParseCities([]byte(citiesYAML))
	require.NoError(t, err)

	_, err = cities.Lookup("Belo Horizonte")
	assert.True(t, errors.Is(err, ErrCityNotFound))
}

func TestLoadCities(t *testing.T) {
	path := filepath.Join(t.TempDir(), CitiesFileName)
	require.NoError(t, os.WriteFile(path, []byte(citiesYAML), 0600))

	cities, err := LoadCities(path)
	require.NoError(t, err)
	assert.Len(t, cities, 2)

	_, err = LoadCities(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
