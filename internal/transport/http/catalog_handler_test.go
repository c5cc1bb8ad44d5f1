package http

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/operations/testutil"
)

const testCities = `
cities:
  Congonhas:
    username: congonhas.user
    password: secret
    recipes: ["Extrato"]
  Ribeirão das Neves:
    display_name: Ribeirão das Neves
    username: neves.user
    password: secret
`

func setupCatalogRouter(t *testing.T) http.Handler {
	t.Helper()
	d := newTestDeps()

	cities, err := config.ParseCities([]byte(testCities))
	require.NoError(t, err)
	reg := testutil.Catalog(t, "Balancete", "Extrato")
	for _, key := range cities.Keys() {
		require.NoError(t, reg.ApplyCity(cities[key]))
	}

	h := NewCatalogHandler(cities, reg, d.errorHandler, d.logger)
	r := chi.NewRouter()
	r.Mount("/api/v1/cities", h.CityRoutes())
	r.Mount("/api/v1/recipes", h.RecipeRoutes())
	return r
}

func TestListCities(t *testing.T) {
	router := setupCatalogRouter(t)

	rec := serve(t, router, http.MethodGet, "/api/v1/cities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "username")

	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
	cities := body["cities"].([]interface{})

	first := cities[0].(map[string]interface{})
	assert.Equal(t, "congonhas", first["key"])
	assert.Equal(t, []interface{}{"Extrato"}, first["reports"])

	second := cities[1].(map[string]interface{})
	assert.Equal(t, config.NormalizeCityName("Ribeirão das Neves"), second["key"])
	assert.Equal(t, "Ribeirão das Neves", second["display_name"])
	assert.Equal(t, []interface{}{"Balancete", "Extrato"}, second["reports"])
}

func TestListRecipes(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantNames []string
	}{
		{"default catalog", "/api/v1/recipes", []string{"Balancete", "Extrato"}},
		{"city list", "/api/v1/recipes?city=Congonhas", []string{"Extrato"}},
		{"city by display name", "/api/v1/recipes?city=Ribeir%C3%A3o%20das%20Neves", []string{"Balancete", "Extrato"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, setupCatalogRouter(t), http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var names []string
			for _, r := range decodeBody(t, rec)["recipes"].([]interface{}) {
				info := r.(map[string]interface{})
				names = append(names, info["name"].(string))
				assert.EqualValues(t, 3, info["steps"])
				assert.EqualValues(t, 1, info["expected_files"])
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestListRecipesUnknownCity(t *testing.T) {
	rec := serve(t, setupCatalogRouter(t), http.MethodGet, "/api/v1/recipes?city=Atlantis", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.TypeNotFound, decodeBody(t, rec)["type"])
}
