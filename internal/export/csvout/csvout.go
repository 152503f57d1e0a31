// Package csvout streams rows as CSV.
package csvout

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/michr/ops-toolkit/internal/export/models"
)

// Writer writes a header then one record per row, each flushed as soon as written.
type Writer struct {
	w      *csv.Writer
	header []string
}

// NewWriter returns a Writer to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// WriteHeader writes the column names. It must be called once, before any row.
func (w *Writer) WriteHeader(header []string) error {
	if w.header != nil {
		return fmt.Errorf("header already written")
	}
	w.header = append([]string{}, header...)
	return w.flush(w.header)
}

// WriteRow writes the values of row in header order. Columns absent from row
// are empty and columns absent from the header are dropped.
func (w *Writer) WriteRow(row models.Row) error {
	if w.header == nil {
		return fmt.Errorf("row written before the header")
	}
	record := make([]string, len(w.header))
	for i, c := range w.header {
		record[i] = row.Text(c)
	}
	return w.flush(record)
}

func (w *Writer) flush(record []string) error {
	if err := w.w.Write(record); err != nil {
		return fmt.Errorf("could not write CSV record: %v", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("could not write CSV record: %v", err)
	}
	return nil
}
