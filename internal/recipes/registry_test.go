package recipes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/browser"
	"munireports/internal/config"
)

func TestDefaultCatalog(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	names := reg.Names()
	require.Len(t, names, 10)
	assert.Equal(t, "Balancete da Receita", names[0])
	assert.Equal(t, "Anexo VII - Restos a Pagar", names[6])
	assert.Equal(t, "Extrato Bancário", names[9])

	for _, name := range names {
		rec, err := reg.Resolve(DefaultKey, name)
		require.NoError(t, err, name)
		assert.Equal(t, 1, rec.ExpectedFiles, name)
		last := rec.Steps[len(rec.Steps)-1]
		assert.Equal(t, ActionSubmit, last.Action, "%s must end with submit", name)
		assert.Equal(t, browser.ID("btnGerar"), last.Target)
	}
}

func TestAnexoVIIStepFourIsUnique(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	anexo, err := reg.Resolve(DefaultKey, "Anexo VII - Restos a Pagar")
	require.NoError(t, err)
	target := anexo.Steps[3].Target

	for _, name := range reg.Names() {
		if name == anexo.Name {
			continue
		}
		rec, err := reg.Resolve(DefaultKey, name)
		require.NoError(t, err)
		for _, s := range rec.Steps {
			assert.NotEqual(t, target, s.Target, "%s shares %s", name, target)
		}
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	rec, err := reg.Resolve("congonhas", "Balancete da Receita")
	require.NoError(t, err)
	assert.Equal(t, "Balancete da Receita", rec.Name)

	_, err = reg.Resolve("congonhas", "Anexo XIX")
	assert.True(t, errors.Is(err, ErrRecipeNotFound))
}

func TestApplyCity(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	city := config.CityConfig{
		Key:      "ribeirao_das_neves",
		Recipes:  []string{"Extrato Bancário", "Balancete da Receita"},
		Locators: map[string]string{"id:s2id_1093": "id:s2id_7781"},
		RecipeOverrides: map[string]config.RecipeDefinition{
			"Extrato Bancário": {
				Steps: []config.StepDefinition{
					{Action: "click", Target: "id:9000"},
					{Action: "submit", Target: "id:btnGerar"},
				},
			},
		},
	}
	require.NoError(t, reg.ApplyCity(city))

	assert.Equal(t, []string{"Extrato Bancário", "Balancete da Receita"}, reg.ReportList(city.Key))
	assert.Len(t, reg.ReportList("congonhas"), 10, "other cities keep the default list")

	extrato, err := reg.Resolve(city.Key, "Extrato Bancário")
	require.NoError(t, err)
	require.Len(t, extrato.Steps, 2)
	assert.Equal(t, browser.ID("9000"), extrato.Steps[0].Target)

	balancete, err := reg.Resolve(city.Key, "Balancete da Receita")
	require.NoError(t, err)
	assert.Equal(t, browser.ID("s2id_7781"), balancete.Steps[2].Target)

	fromDefault, err := reg.Resolve(DefaultKey, "Balancete da Receita")
	require.NoError(t, err)
	assert.Equal(t, browser.ID("s2id_1093"), fromDefault.Steps[2].Target, "default tier untouched")
}

func TestApplyCityUnknownReport(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	err = reg.ApplyCity(config.CityConfig{Key: "x", Recipes: []string{"Nope"}})
	assert.True(t, errors.Is(err, ErrRecipeNotFound))
}

func TestResolveReturnsDeepCopy(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	a, err := reg.Resolve(DefaultKey, "Balancete da Receita")
	require.NoError(t, err)
	a.Steps[0].Target = browser.ID("mutated")

	b, err := reg.Resolve(DefaultKey, "Balancete da Receita")
	require.NoError(t, err)
	assert.NotEqual(t, browser.ID("mutated"), b.Steps[0].Target)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"listed but undefined", "reports: [A]\nrecipes:\n  - name: B\n    steps:\n      - {action: submit, target: 'id:x'}\n"},
		{"no submit", "reports: [A]\nrecipes:\n  - name: A\n    steps:\n      - {action: click, target: 'id:x'}\n"},
		{"two submits", "reports: [A]\nrecipes:\n  - name: A\n    steps:\n      - {action: submit, target: 'id:x'}\n      - {action: submit, target: 'id:y'}\n"},
		{"unknown action", "reports: [A]\nrecipes:\n  - name: A\n    steps:\n      - {action: hover, target: 'id:x'}\n"},
		{"dropdown without option", "reports: [A]\nrecipes:\n  - name: A\n    steps:\n      - {action: pick_dropdown, target: 'id:x'}\n      - {action: submit, target: 'id:y'}\n"},
		{"duplicate name", "reports: [A]\nrecipes:\n  - name: A\n    steps:\n      - {action: submit, target: 'id:x'}\n  - name: A\n    steps:\n      - {action: submit, target: 'id:x'}\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestBindParams(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	rec, err := reg.Resolve(DefaultKey, "Extrato Bancário")
	require.NoError(t, err)

	p := NewParams("Congonhas", 2023, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bound := rec.Bind(p)

	assert.Equal(t, "01/2023", bound.Steps[2].Value)
	assert.Equal(t, "12/2023", bound.Steps[3].Value)
	assert.Equal(t, "{month}/{year}", rec.Steps[3].Value, "unbound recipe untouched")
}

func TestNewParams(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	current := NewParams("Congonhas", 2025, now)
	assert.Equal(t, 3, current.Month)
	assert.Equal(t, "Março", current.MonthName())
	assert.Equal(t, 2022, current.PeriodStart)
	assert.Equal(t, 2025, current.PeriodEnd)

	closed := NewParams("Congonhas", 2024, now)
	assert.Equal(t, 12, closed.Month)
	assert.Equal(t, "Dezembro", closed.MonthName())

	r := current.Replacer()
	assert.Equal(t, "Congonhas 2022-2025 03 Março", r.Replace("{municipality} {period_start}-{period_end} {month} {month_name}"))
}
