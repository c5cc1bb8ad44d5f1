package exporter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"munireports/internal/history"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// HistorySheet names the worksheet of XLSX exports
const HistorySheet = "History"

// ErrUnsupportedFormat is returned by ParseFormat
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts "csv" or "xlsx" in any case. An empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType is the MIME type served for the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Extension is the file extension including the dot
func (f Format) Extension() string {
	return "." + string(f)
}

// HistoryColumns are the export headers in column order
var HistoryColumns = []string{
	"Run", "City", "Municipality", "Year", "Status", "State", "Error kind", "Error",
	"Submissions attempted", "Submissions succeeded", "Files downloaded", "Files converted",
	"Expected", "Errors", "Warnings", "Started", "Finished", "Duration (s)", "Workspace", "Report",
}

// HistoryExporter writes history entries in a spreadsheet format
type HistoryExporter struct {
	logger *slog.Logger
}

// NewHistoryExporter creates an exporter
func NewHistoryExporter(logger *slog.Logger) *HistoryExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryExporter{logger: logger.With(slog.String("component", "exporter"))}
}

// Export writes entries to w in the given format
func (e *HistoryExporter) Export(w io.Writer, format Format, entries []history.Entry) error {
	var err error
	switch format {
	case FormatCSV:
		err = e.writeCSV(w, entries)
	case FormatXLSX:
		err = e.writeXLSX(w, entries)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("failed to export history as %s: %w", format, err)
	}

	e.logger.Info("History exported",
		slog.String("format", string(format)),
		slog.Int("record_count", len(entries)))
	return nil
}

func (e *HistoryExporter) writeCSV(w io.Writer, entries []history.Entry) error {
	cw, err := NewCSVWriter(w, WriteOptions{Headers: HistoryColumns, BOMPrefix: true})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := cw.WriteRecord(entryRecord(entry)); err != nil {
			return err
		}
	}
	return cw.Flush()
}

func (e *HistoryExporter) writeXLSX(w io.Writer, entries []history.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), HistorySheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(HistorySheet)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, len(HistoryColumns), 18); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	header := make([]interface{}, len(HistoryColumns))
	for i, h := range HistoryColumns {
		header[i] = h
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return err
	}

	for i, entry := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, entryCells(entry)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func entryRecord(e history.Entry) []string {
	return []string{
		e.RunID, e.City, e.Display, formatInt(e.Year), e.Status, e.State, e.ErrorKind, e.Error,
		formatInt(e.Attempted), formatInt(e.Submitted), formatInt(e.Downloaded), formatInt(e.Converted),
		formatInt(e.Expected), formatInt(e.Errors), formatInt(e.Warnings),
		formatTime(e.StartedAt), formatTime(e.FinishedAt), formatSeconds(e.Duration()),
		e.Workspace, e.ReportPath,
	}
}

// entryCells keeps counters numeric so the sheet can be summed
func entryCells(e history.Entry) []interface{} {
	return []interface{}{
		e.RunID, e.City, e.Display, e.Year, e.Status, e.State, e.ErrorKind, e.Error,
		e.Attempted, e.Submitted, e.Downloaded, e.Converted,
		e.Expected, e.Errors, e.Warnings,
		formatTime(e.StartedAt), formatTime(e.FinishedAt), seconds(e.Duration()),
		e.Workspace, e.ReportPath,
	}
}
