package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanningPeriodCoversEveryYear(t *testing.T) {
	for year := MinYear; year <= 2100; year++ {
		start, end := PlanningPeriod(year)
		if !assert.Equal(t, 3, end-start, "year %d", year) {
			return
		}
		assert.Zero(t, (start-MinYear)%4, "year %d start %d not aligned", year, start)
		assert.True(t, start <= year && year <= end, "year %d outside [%d, %d]", year, start, end)
	}
}

func TestPlanningPeriodKnownWindows(t *testing.T) {
	tests := []struct {
		year       int
		start, end int
	}{
		{1998, 1998, 2001},
		{2001, 1998, 2001},
		{2002, 2002, 2005},
		{2022, 2022, 2025},
		{2025, 2022, 2025},
		{2026, 2026, 2029},
		{1997, 1994, 1997},
	}
	for _, tt := range tests {
		start, end := PlanningPeriod(tt.year)
		assert.Equal(t, tt.start, start, "year %d", tt.year)
		assert.Equal(t, tt.end, end, "year %d", tt.year)
	}
}

func TestNormalizeCityName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ribeirão das Neves", "ribeirao_das_neves"},
		{"CONGONHAS", "congonhas"},
		{"São João del-Rei", "sao_joao_del-rei"},
		{"  Conceição   do Mato  Dentro ", "conceicao_do_mato_dentro"},
		{"Ibiá", "ibia"},
		{"Itaú", "itau"},
		{"Açucena", "acucena"},
		{"Pará de Minas", "para_de_minas"},
		{"ÀÁÂÃÄÅ ÈÉÊË ÌÍÎÏ ÒÓÔÕÖ ÙÚÛÜ Ç Ñ Ý", "aaaaaa_eeee_iiii_ooooo_uuuu_c_n_y"},
		{"congonhas", "congonhas"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCityName(tt.in))
		})
	}
}

func TestValidCityKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"congonhas", true},
		{"sao_joao_del-rei", true},
		{"d._pedro", true},
		{"", false},
		{".", false},
		{"..", false},
		{".hidden", false},
		{"a..b", false},
		{"../etc", false},
		{"a/b", false},
		{`a\b`, false},
		{"c:", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCityKey(tt.key))
		})
	}
	assert.False(t, ValidCityKey(NormalizeCityName(" .. ")))
}

func TestValidateYear(t *testing.T) {
	assert.NoError(t, ValidateYear(1998))
	assert.NoError(t, ValidateYear(2025))

	err := ValidateYear(1997)
	var yErr *YearError
	assert.ErrorAs(t, err, &yErr)
	assert.Equal(t, 1997, yErr.Year)
}
