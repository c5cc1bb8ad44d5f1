package files

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestXLSCodecWritesDecodedValues(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Balancete.xls")
	touch(t, src)
	dst := filepath.Join(dir, "out", "Balancete.xlsx")

	codec := &XLSCodec{Decode: func(path string) ([]Sheet, error) {
		return []Sheet{
			{Name: "Receita", Rows: [][]string{
				{"Código", "Descrição", "Valor"},
				{"0012", "IPTU", "1500.25"},
			}},
			{Name: "Receita", Rows: [][]string{{"dup"}}},
		}, nil
	}}
	require.NoError(t, codec.Convert(src, dst))

	f, err := excelize.OpenFile(dst)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Receita", "Receita (2)"}, f.GetSheetList())

	v, err := f.GetCellValue("Receita", "A2")
	require.NoError(t, err)
	assert.Equal(t, "0012", v, "leading zeros survive")

	typ, err := f.GetCellType("Receita", "C2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ, "numbers stored as numbers")
	assert.NotEqual(t, excelize.CellTypeInlineString, typ)
}

func TestXLSCodecPropagatesDecodeErrors(t *testing.T) {
	codec := &XLSCodec{Decode: func(string) ([]Sheet, error) {
		return nil, errors.New("bad header")
	}}
	err := codec.Convert("in.xls", filepath.Join(t.TempDir(), "out.xlsx"))
	assert.EqualError(t, err, "bad header")
}

func TestDecodeXLSRejectsNonBIFF(t *testing.T) {
	src := filepath.Join(t.TempDir(), "fake.xls")
	require.NoError(t, os.WriteFile(src, []byte("<html><table></table></html>"), 0644))

	_, err := decodeXLS(src, "utf-8")
	assert.Error(t, err)
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "Sheet1", sheetName("  ", 0, used))
	assert.Equal(t, "a_b_c", sheetName("a/b:c", 1, used))

	long := strings.Repeat("x", 40)
	got := sheetName(long, 2, used)
	assert.Len(t, []rune(got), 31)

	again := sheetName(long, 3, used)
	assert.NotEqual(t, got, again)
	assert.LessOrEqual(t, len([]rune(again)), 31)
}

func TestWriteXLSXRequiresSheets(t *testing.T) {
	assert.Error(t, WriteXLSX(filepath.Join(t.TempDir(), "x.xlsx"), nil))
}
