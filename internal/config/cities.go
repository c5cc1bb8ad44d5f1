package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// ErrCityNotFound is returned by Cities.Lookup for unknown keys
var ErrCityNotFound = errors.New("city not configured")

// CityConfig holds what one municipality needs to run. Credentials are
// only ever held in memory.
type CityConfig struct {
	Key         string `yaml:"key,omitempty" json:"key"`
	DisplayName string `yaml:"display_name" json:"display_name" validate:"required"`
	Username    string `yaml:"username" json:"-" validate:"required"`
	Password    string `yaml:"password" json:"-" validate:"required"`

	// Recipes replaces the default report list when set
	Recipes []string `yaml:"recipes,omitempty" json:"recipes,omitempty"`
	// RecipeOverrides maps a report name to a city-specific recipe
	RecipeOverrides map[string]RecipeDefinition `yaml:"recipe_overrides,omitempty" json:"-" validate:"omitempty,dive"`
	// Locators maps a default locator ("id:123") to this city's locator
	Locators map[string]string `yaml:"locators,omitempty" json:"-"`
}

// Cities is the parsed city configuration file keyed by normalized name
type Cities map[string]CityConfig

type citiesFile struct {
	Cities map[string]CityConfig `yaml:"cities"`
}

// LoadCities reads and validates a city configuration file
func LoadCities(path string) (Cities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read city config: %w", err)
	}
	return ParseCities(data)
}

// ParseCities decodes a city document. Map keys are normalized, so
// "Ribeirão das Neves" and "ribeirao_das_neves" address the same entry.
func ParseCities(data []byte) (Cities, error) {
	var doc citiesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse city config: %w", err)
	}

	v := validator.New()
	cities := make(Cities, len(doc.Cities))
	for rawKey, city := range doc.Cities {
		key := NormalizeCityName(rawKey)
		if key == "" {
			return nil, fmt.Errorf("city config: empty key")
		}
		if !ValidCityKey(key) {
			return nil, fmt.Errorf("city config: %q cannot name a workspace directory", rawKey)
		}
		if _, dup := cities[key]; dup {
			return nil, fmt.Errorf("city config: %q duplicates an existing key", rawKey)
		}
		if city.DisplayName == "" {
			city.DisplayName = rawKey
		}
		if err := v.Struct(city); err != nil {
			return nil, fmt.Errorf("city config %q: %w", key, describeValidation(err))
		}
		city.Key = key
		cities[key] = city
	}
	return cities, nil
}

// Lookup returns the configuration for a city name or key
func (c Cities) Lookup(name string) (CityConfig, error) {
	key := NormalizeCityName(name)
	city, ok := c[key]
	if !ok {
		return CityConfig{}, fmt.Errorf("%w: %s", ErrCityNotFound, key)
	}
	return city, nil
}

// Keys returns the configured city keys in sorted order
func (c Cities) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
