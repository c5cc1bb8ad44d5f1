package browser

import (
	"fmt"
	"strings"
)

// By selects how a Locator value is interpreted
type By string

const (
	ByID    By = "id"
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// Locator addresses one or more elements on the page
type Locator struct {
	By    By
	Value string
}

// ID, CSS and XPath build locators
func ID(v string) Locator    { return Locator{By: ByID, Value: v} }
func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }

// ParseLocator reads the textual form "id:foo", "css:.bar" or "xpath://div".
// A value without a known prefix is an element id.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	if i := strings.Index(s, ":"); i > 0 {
		switch By(s[:i]) {
		case ByID, ByCSS, ByXPath:
			v := s[i+1:]
			if v == "" {
				return Locator{}, fmt.Errorf("locator %q has no value", s)
			}
			return Locator{By: By(s[:i]), Value: v}, nil
		}
	}
	return ID(s), nil
}

// MustParseLocator is ParseLocator for compile-time constants
func MustParseLocator(s string) Locator {
	l, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return l
}

// String returns the textual form accepted by ParseLocator
func (l Locator) String() string {
	if l.IsZero() {
		return ""
	}
	return string(l.By) + ":" + l.Value
}

// MarshalText implements encoding.TextMarshaler
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Locator) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*l = Locator{}
		return nil
	}
	parsed, err := ParseLocator(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// IsZero reports whether the locator is unset
func (l Locator) IsZero() bool {
	return l.Value == ""
}

// Expand substitutes {placeholders} in the locator value
func (l Locator) Expand(r *strings.Replacer) Locator {
	if r == nil || l.IsZero() {
		return l
	}
	return Locator{By: l.By, Value: r.Replace(l.Value)}
}

// XPathLiteral quotes s for use inside an XPath expression, falling back to
// concat() when s contains both quote characters.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
