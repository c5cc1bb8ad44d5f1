package recipes

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"munireports/internal/browser"
	"munireports/internal/config"
)

// DefaultKey is the city key of the shared catalog tier
const DefaultKey = "default"

// ErrRecipeNotFound is returned when neither the city nor the default tier
// knows a report
var ErrRecipeNotFound = errors.New("recipe not found")

//go:embed catalog.yaml
var embeddedCatalog []byte

type recipeKey struct {
	city string
	name string
}

// Registry is the two-tier recipe catalog: (city, report) falling back to
// (default, report).
type Registry struct {
	mu       sync.RWMutex
	recipes  map[recipeKey]Recipe
	reports  []string // default report order
	lists    map[string][]string
	locators map[string]map[browser.Locator]browser.Locator
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		recipes:  make(map[recipeKey]Recipe),
		lists:    make(map[string][]string),
		locators: make(map[string]map[browser.Locator]browser.Locator),
	}
}

// Default returns a registry holding the embedded catalog
func Default() (*Registry, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalog file, falling back to the embedded catalog when the
// file does not exist.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from a catalog document
func Parse(data []byte) (*Registry, error) {
	var catalog config.RecipeCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse recipe catalog: %w", err)
	}
	if err := validator.New().Struct(catalog); err != nil {
		return nil, fmt.Errorf("invalid recipe catalog: %w", err)
	}

	r := NewRegistry()
	for _, def := range catalog.Recipes {
		rec, err := FromDefinition(def)
		if err != nil {
			return nil, err
		}
		if err := r.Register(DefaultKey, rec); err != nil {
			return nil, err
		}
	}
	for _, name := range catalog.Reports {
		if _, ok := r.recipes[recipeKey{DefaultKey, name}]; !ok {
			return nil, fmt.Errorf("report %q listed but not defined", name)
		}
	}
	r.reports = append([]string(nil), catalog.Reports...)
	return r, nil
}

// Register adds a recipe to a tier. A city may replace its own override
// but the default tier is write-once per name.
func (r *Registry) Register(cityKey string, rec Recipe) error {
	if rec.Name == "" {
		return fmt.Errorf("cannot register recipe without name")
	}
	if cityKey == "" {
		cityKey = DefaultKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := recipeKey{cityKey, rec.Name}
	if _, exists := r.recipes[k]; exists && cityKey == DefaultKey {
		return fmt.Errorf("recipe %q already registered", rec.Name)
	}
	r.recipes[k] = rec.Clone()
	return nil
}

// ApplyCity installs a city's report list, recipe overrides and locator
// substitutions.
func (r *Registry) ApplyCity(city config.CityConfig) error {
	locs := make(map[browser.Locator]browser.Locator, len(city.Locators))
	for from, to := range city.Locators {
		f, err := browser.ParseLocator(from)
		if err != nil {
			return fmt.Errorf("city %s locator %q: %w", city.Key, from, err)
		}
		t, err := browser.ParseLocator(to)
		if err != nil {
			return fmt.Errorf("city %s locator %q: %w", city.Key, to, err)
		}
		locs[f] = t
	}

	for name, def := range city.RecipeOverrides {
		if def.Name == "" {
			def.Name = name
		}
		rec, err := FromDefinition(def)
		if err != nil {
			return fmt.Errorf("city %s: %w", city.Key, err)
		}
		if err := r.Register(city.Key, rec); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(locs) > 0 {
		r.locators[city.Key] = locs
	}
	if len(city.Recipes) > 0 {
		for _, name := range city.Recipes {
			if !r.knownLocked(city.Key, name) {
				return fmt.Errorf("city %s: %w: %s", city.Key, ErrRecipeNotFound, name)
			}
		}
		r.lists[city.Key] = append([]string(nil), city.Recipes...)
	}
	return nil
}

// Resolve returns a deep copy of the recipe for (city, name) with the
// city's locator substitutions applied.
func (r *Registry) Resolve(cityKey, name string) (Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recipes[recipeKey{cityKey, name}]
	if !ok {
		rec, ok = r.recipes[recipeKey{DefaultKey, name}]
	}
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %s", ErrRecipeNotFound, name)
	}
	return rec.bind(nil, r.locators[cityKey]), nil
}

// ReportList returns the ordered report names a city runs
func (r *Registry) ReportList(cityKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list, ok := r.lists[cityKey]; ok {
		return append([]string(nil), list...)
	}
	return append([]string(nil), r.reports...)
}

// Names returns the default report order
func (r *Registry) Names() []string {
	return r.ReportList(DefaultKey)
}

// Count returns the number of registered recipes across all tiers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipes)
}

func (r *Registry) knownLocked(cityKey, name string) bool {
	if _, ok := r.recipes[recipeKey{cityKey, name}]; ok {
		return true
	}
	_, ok := r.recipes[recipeKey{DefaultKey, name}]
	return ok
}
