package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	Headers   []string
	BOMPrefix bool // Excel only detects UTF-8 with a BOM
	Comma     rune
}

// CSVWriter streams records to an io.Writer
type CSVWriter struct {
	writer *csv.Writer
	rows   int
}

// NewCSVWriter writes the optional BOM and headers and returns a writer
// ready for records.
func NewCSVWriter(w io.Writer, options WriteOptions) (*CSVWriter, error) {
	if options.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return nil, fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	cw := csv.NewWriter(w)
	if options.Comma != 0 {
		cw.Comma = options.Comma
	}
	if len(options.Headers) > 0 {
		if err := cw.Write(options.Headers); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}
	return &CSVWriter{writer: cw}, nil
}

// WriteRecord writes a single record to the stream
func (c *CSVWriter) WriteRecord(record []string) error {
	if err := c.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record %d: %w", c.rows, err)
	}
	c.rows++
	return nil
}

// Rows is the number of records written so far, headers excluded
func (c *CSVWriter) Rows() int {
	return c.rows
}

// Flush flushes buffered records and reports any write error
func (c *CSVWriter) Flush() error {
	c.writer.Flush()
	return c.writer.Error()
}
