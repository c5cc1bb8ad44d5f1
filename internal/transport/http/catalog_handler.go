package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/recipes"
)

// CityInfo is the public view of a configured city. Credentials never
// leave the process.
type CityInfo struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Reports     []string `json:"reports"`
}

// RecipeInfo summarizes one report recipe
type RecipeInfo struct {
	Name          string   `json:"name"`
	ExpectedFiles int      `json:"expected_files"`
	Steps         int      `json:"steps"`
	Params        []string `json:"params,omitempty"`
}

// CatalogHandler serves the configured cities and the report catalog
type CatalogHandler struct {
	cities       config.Cities
	registry     *recipes.Registry
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewCatalogHandler creates a catalog handler
func NewCatalogHandler(cities config.Cities, registry *recipes.Registry, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{
		cities:       cities,
		registry:     registry,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "catalog")),
	}
}

// CityRoutes returns the cities router
func (h *CatalogHandler) CityRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListCities)
	return r
}

// RecipeRoutes returns the recipes router
func (h *CatalogHandler) RecipeRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListRecipes)
	return r
}

// ListCities handles GET /api/v1/cities
func (h *CatalogHandler) ListCities(w http.ResponseWriter, r *http.Request) {
	out := make([]CityInfo, 0, len(h.cities))
	for _, key := range h.cities.Keys() {
		city := h.cities[key]
		out = append(out, CityInfo{
			Key:         key,
			DisplayName: city.DisplayName,
			Reports:     h.registry.ReportList(key),
		})
	}
	render.JSON(w, r, map[string]interface{}{
		"cities": out,
		"count":  len(out),
	})
}

// ListRecipes handles GET /api/v1/recipes. With ?city= it lists that
// city's reports with its overrides applied.
func (h *CatalogHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	cityKey := recipes.DefaultKey
	if name := r.URL.Query().Get("city"); name != "" {
		city, err := h.cities.Lookup(name)
		if err != nil {
			h.errorHandler.HandleError(w, r, translateError(err, ""))
			return
		}
		cityKey = city.Key
	}

	names := h.registry.ReportList(cityKey)
	out := make([]RecipeInfo, 0, len(names))
	for _, name := range names {
		rec, err := h.registry.Resolve(cityKey, name)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "report list names an unknown recipe",
				slog.String("city", cityKey),
				slog.String("recipe", name),
			)
			h.errorHandler.HandleError(w, r, translateError(err, ""))
			return
		}
		out = append(out, RecipeInfo{
			Name:          rec.Name,
			ExpectedFiles: rec.ExpectedFiles,
			Steps:         len(rec.Steps),
			Params:        rec.Params,
		})
	}
	render.JSON(w, r, map[string]interface{}{
		"city":    cityKey,
		"recipes": out,
		"count":   len(out),
	})
}
