package config

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeCityName turns a display name into a city key: lowercase,
// accents stripped, whitespace runs collapsed into a single underscore.
//
//	NormalizeCityName("Ribeirão das Neves") == "ribeirao_das_neves"
func NormalizeCityName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), "_")
}

// ValidCityKey reports whether key can name a directory directly under the
// data root: non-empty, no path separators or drive colons, no leading dot
// and no "..".
func ValidCityKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") || strings.Contains(key, "..") {
		return false
	}
	return !strings.ContainsAny(key, `/\:`)
}

// PlanningPeriod returns the four-year budgetary window containing year.
// Windows are aligned to 1998.
func PlanningPeriod(year int) (start, end int) {
	offset := year - MinYear
	// floor division for years before the anchor
	q := offset / PlanningPeriodLength
	if offset < 0 && offset%PlanningPeriodLength != 0 {
		q--
	}
	start = MinYear + PlanningPeriodLength*q
	return start, start + PlanningPeriodLength - 1
}

// ValidateYear rejects years before the first planning period
func ValidateYear(year int) error {
	if year < MinYear {
		return &YearError{Year: year}
	}
	return nil
}

// YearError reports a year outside the supported range
type YearError struct {
	Year int
}

func (e *YearError) Error() string {
	return fmt.Sprintf("year %d is before %d", e.Year, MinYear)
}
