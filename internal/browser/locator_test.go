package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Locator
		wantErr bool
	}{
		{"bare value is id", "btnGerar", ID("btnGerar"), false},
		{"id prefix", "id:ano", ID("ano"), false},
		{"css prefix", "css:.select2-results li", CSS(".select2-results li"), false},
		{"xpath prefix", "xpath://a[@title='x']", XPath("//a[@title='x']"), false},
		{"surrounding space", "  css:#x  ", CSS("#x"), false},
		{"empty", "", Locator{}, true},
		{"prefix without value", "css:", Locator{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocator(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorStringRoundTrip(t *testing.T) {
	for _, loc := range []Locator{ID("a"), CSS("div > span"), XPath("//td[2]")} {
		parsed, err := ParseLocator(loc.String())
		require.NoError(t, err)
		assert.Equal(t, loc, parsed)
	}
}

func TestLocatorExpand(t *testing.T) {
	loc := XPath("//span[text()={year}]")
	got := loc.Expand(strings.NewReplacer("{year}", "'2024'"))
	assert.Equal(t, XPath("//span[text()='2024']"), got)
	assert.Equal(t, "//span[text()={year}]", loc.Value, "original untouched")
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'São Paulo'", XPathLiteral("São Paulo"))
	assert.Equal(t, `"D'Oeste"`, XPathLiteral("D'Oeste"))
	assert.Equal(t, `concat('a"b', "'", 'c')`, XPathLiteral(`a"b'c`))
}
