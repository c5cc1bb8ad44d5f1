// Package exporter writes recorded workflows as spreadsheets.
//
// CSVWriter streams rows with a UTF-8 BOM so Excel opens accented city
// names correctly. HistoryExporter turns history entries into either a
// CSV file or a single sheet XLSX workbook.
//
// Example usage:
//
//	exp := exporter.NewHistoryExporter(logger)
//	entries, _ := store.List(ctx, history.Filter{City: "congonhas"})
//	err := exp.Export(w, exporter.FormatXLSX, entries)
package exporter
