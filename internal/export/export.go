// Package export runs the activity export: rows are read from the database,
// enriched and written as CSV one at a time.
package export

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/michr/ops-toolkit/internal/export/csvout"
	"github.com/michr/ops-toolkit/internal/export/enrich"
	"github.com/michr/ops-toolkit/internal/export/models"
)

type options struct {
	log *slog.Logger
}

// Options represents an optional function to override Run default values.
type Options func(*options)

// Run enriches every row of rows with enrichers, applied in order, and writes
// them to w as CSV. The header is computed from the first row. Nothing is
// written when there is no row. It returns the number of rows written.
func Run(ctx context.Context, rows iter.Seq2[models.Row, error], w io.Writer, enrichers []enrich.Enricher, args ...Options) (n int, err error) {
	opts := options{log: slog.Default()}
	for _, opt := range args {
		opt(&opts)
	}

	out := csvout.NewWriter(w)
	for row, err := range rows {
		if err != nil {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}

		row = row.Upper()
		if n == 0 {
			if err := out.WriteHeader(Header(row, enrichers)); err != nil {
				return n, err
			}
		}
		for _, e := range enrichers {
			row = e.Enrich(ctx, row)
		}
		if err := out.WriteRow(row); err != nil {
			return n, fmt.Errorf("could not write row %d: %w", n+1, err)
		}
		n++
	}

	if n == 0 {
		opts.log.Info("No rows returned from the query")
		return 0, nil
	}
	opts.log.Info("Export complete", "rows", n)
	return n, nil
}

// Header returns the output columns for rows like first: its columns, minus
// the ones an enricher sets, then the fields of each enricher in order.
func Header(first models.Row, enrichers []enrich.Enricher) []string {
	var added []string
	for _, e := range enrichers {
		added = append(added, e.HeaderFields()...)
	}

	var header []string
	for _, c := range first.Columns() {
		if !slices.Contains(added, c) {
			header = append(header, c)
		}
	}
	return append(header, added...)
}
