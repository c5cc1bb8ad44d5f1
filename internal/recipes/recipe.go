package recipes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
)

// Recipe is an ordered list of steps that queues one report on the portal.
// Recipes are plain values and never touch the browser themselves.
type Recipe struct {
	Name          string   `json:"name"`
	ExpectedFiles int      `json:"expected_files"`
	Params        []string `json:"params,omitempty"`
	Steps         []Step   `json:"steps"`
}

// FromDefinition converts and validates an on-disk recipe
func FromDefinition(def config.RecipeDefinition) (Recipe, error) {
	if strings.TrimSpace(def.Name) == "" {
		return Recipe{}, fmt.Errorf("recipe has no name")
	}
	if len(def.Steps) == 0 {
		return Recipe{}, fmt.Errorf("recipe %q has no steps", def.Name)
	}

	r := Recipe{
		Name:          def.Name,
		ExpectedFiles: def.ExpectedFiles,
		Params:        append([]string(nil), def.Params...),
		Steps:         make([]Step, 0, len(def.Steps)),
	}
	if r.ExpectedFiles <= 0 {
		r.ExpectedFiles = 1
	}

	submits := 0
	for i, sd := range def.Steps {
		s, err := stepFromDefinition(sd)
		if err != nil {
			return Recipe{}, fmt.Errorf("recipe %q step %d: %w", def.Name, i+1, err)
		}
		if s.Action == ActionSubmit {
			submits++
		}
		r.Steps = append(r.Steps, s)
	}
	if submits != 1 {
		return Recipe{}, fmt.Errorf("recipe %q must have exactly one submit step, has %d", def.Name, submits)
	}
	return r, nil
}

// Clone returns a deep copy
func (r Recipe) Clone() Recipe {
	out := r
	out.Params = append([]string(nil), r.Params...)
	out.Steps = append([]Step(nil), r.Steps...)
	return out
}

// Bind returns a copy with parameters interpolated into every step
func (r Recipe) Bind(p Params) Recipe {
	return r.bind(p.Replacer(), nil)
}

func (r Recipe) bind(rep *strings.Replacer, locators map[browser.Locator]browser.Locator) Recipe {
	out := r.Clone()
	for i, s := range out.Steps {
		out.Steps[i] = s.bind(rep, locators)
	}
	return out
}

// MonthNames as the portal spells them
var MonthNames = [12]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// Params are the values a recipe may reference at execution time
type Params struct {
	Year         int
	Month        int
	Municipality string
	PeriodStart  int
	PeriodEnd    int
}

// NewParams derives the execution parameters for a city and year. Closed
// years report through December; the current year reports through the
// current month.
func NewParams(municipality string, year int, now time.Time) Params {
	month := 12
	if year == now.Year() {
		month = int(now.Month())
	}
	start, end := config.PlanningPeriod(year)
	return Params{
		Year:         year,
		Month:        month,
		Municipality: municipality,
		PeriodStart:  start,
		PeriodEnd:    end,
	}
}

// MonthName returns the portal's name for p.Month
func (p Params) MonthName() string {
	if p.Month < 1 || p.Month > 12 {
		return ""
	}
	return MonthNames[p.Month-1]
}

// Replacer substitutes {year}, {month}, {month_name}, {municipality},
// {period_start} and {period_end}.
func (p Params) Replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{year}", strconv.Itoa(p.Year),
		"{month}", fmt.Sprintf("%02d", p.Month),
		"{month_name}", p.MonthName(),
		"{municipality}", p.Municipality,
		"{period_start}", strconv.Itoa(p.PeriodStart),
		"{period_end}", strconv.Itoa(p.PeriodEnd),
	)
}
