package config

import "time"

// RecipeDefinition is the on-disk form of a report recipe. It lives here so
// that city files can carry full recipe overrides.
type RecipeDefinition struct {
	Name          string           `yaml:"name" json:"name" validate:"required"`
	ExpectedFiles int              `yaml:"expected_files,omitempty" json:"expected_files,omitempty"`
	Params        []string         `yaml:"params,omitempty" json:"params,omitempty"`
	Steps         []StepDefinition `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// StepDefinition is one form interaction. Which fields apply depends on
// Action.
type StepDefinition struct {
	Action    string        `yaml:"action" json:"action" validate:"required,oneof=click set_text pick_dropdown toggle_radio wait submit"`
	Target    string        `yaml:"target" json:"target" validate:"required"`
	Value     string        `yaml:"value,omitempty" json:"value,omitempty"`
	Option    string        `yaml:"option,omitempty" json:"option,omitempty"`
	Results   string        `yaml:"results,omitempty" json:"results,omitempty"`
	Label     string        `yaml:"label,omitempty" json:"label,omitempty"`
	Strategy  string        `yaml:"strategy,omitempty" json:"strategy,omitempty" validate:"omitempty,oneof=direct via_label"`
	Condition string        `yaml:"condition,omitempty" json:"condition,omitempty" validate:"omitempty,oneof=visible present gone"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RecipeCatalog is the document shape of recipes.yaml
type RecipeCatalog struct {
	Reports []string           `yaml:"reports" validate:"required,min=1"`
	Recipes []RecipeDefinition `yaml:"recipes" validate:"required,min=1,dive"`
}
