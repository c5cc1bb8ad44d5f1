package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Codec converts one legacy .xls file into an .xlsx file. Only cell values
// are carried over.
type Codec interface {
	Convert(src, dst string) error
}

// Sheet is a decoded worksheet
type Sheet struct {
	Name string
	Rows [][]string
}

// Decoder reads a legacy workbook into memory
type Decoder func(path string) ([]Sheet, error)

// XLSCodec decodes BIFF .xls files with extrame/xls and writes .xlsx with
// excelize.
type XLSCodec struct {
	Decode  Decoder
	Charset string
}

// NewXLSCodec returns the default codec
func NewXLSCodec() *XLSCodec {
	return &XLSCodec{Charset: "utf-8"}
}

// Convert implements Codec
func (c *XLSCodec) Convert(src, dst string) error {
	decode := c.Decode
	if decode == nil {
		decode = func(path string) ([]Sheet, error) { return decodeXLS(path, c.Charset) }
	}
	sheets, err := decode(src)
	if err != nil {
		return err
	}
	return WriteXLSX(dst, sheets)
}

// decodeXLS reads every sheet of a BIFF workbook. The parser panics on some
// malformed inputs, which is turned into an error here.
func decodeXLS(path, charset string) (sheets []Sheet, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = fmt.Errorf("failed to decode %s: %v", filepath.Base(path), r)
		}
	}()

	wb, err := xls.OpenReader(f, charset)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("%s has no sheets", filepath.Base(path))
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		sheet := Sheet{Name: ws.Name}
		for r := 0; r <= int(ws.MaxRow); r++ {
			sheet.Rows = append(sheet.Rows, readRow(ws, r))
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

// readRow returns the cells of row r, or nil when the row is absent
func readRow(ws *xls.WorkSheet, r int) (cells []string) {
	defer func() {
		if recover() != nil {
			cells = nil
		}
	}()
	row := ws.Row(r)
	if row == nil {
		return nil
	}
	last := row.LastCol()
	cells = make([]string, last)
	for c := 0; c < last; c++ {
		cells[c] = row.Col(c)
	}
	return cells
}

// WriteXLSX writes sheets to dst, replacing any existing file. Numeric
// looking cells are stored as numbers.
func WriteXLSX(dst string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool)
	for i, s := range sheets {
		name := sheetName(s.Name, i, used)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("failed to name sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", name, err)
		}

		for r, row := range s.Rows {
			for c, v := range row {
				if v == "" {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(name, cell, cellValue(v)); err != nil {
					return fmt.Errorf("failed to write %s!%s: %w", name, cell, err)
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return f.SaveAs(dst)
}

// cellValue stores v as a number only when that loses nothing, so codes
// like "0012" stay text.
func cellValue(v string) interface{} {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || strconv.FormatFloat(n, 'f', -1, 64) != v {
		return v
	}
	return n
}

// sheetName makes a name excelize accepts: at most 31 runes, none of
// :\/?*[] and unique within the workbook.
func sheetName(name string, index int, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = fmt.Sprintf("Sheet%d", index+1)
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		runes := []rune(base)
		if len(runes)+len(suffix) > 31 {
			runes = runes[:31-len(suffix)]
		}
		name = string(runes) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}
