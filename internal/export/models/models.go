// Package models defines the records flowing through the activity export.
package models

import (
	"database/sql/driver"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Row is one result record keyed by column name.
// Columns keep the order in which they were first set.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow returns an empty row.
func NewRow() Row {
	return Row{values: make(map[string]any)}
}

// Set stores value under column, adding the column at the end if it is new.
func (r *Row) Set(column string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Get returns the value of column and whether it is set.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Text returns the value of column as text. Unset columns are empty.
func (r Row) Text(column string) string {
	v, ok := r.values[column]
	if !ok {
		return ""
	}
	return Format(v)
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Clone returns a copy of r that can be changed without affecting r.
func (r Row) Clone() Row {
	c := Row{
		columns: append([]string(nil), r.columns...),
		values:  make(map[string]any, len(r.values)),
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Upper returns a copy of r with every column name in upper case.
// When two names fold to the same one, the last value wins.
func (r Row) Upper() Row {
	upper := cases.Upper(language.Und)
	u := NewRow()
	for _, c := range r.columns {
		u.Set(upper.String(c), r.values[c])
	}
	return u
}

// Format renders a column value the way it is exported.
func Format(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case netip.Prefix:
		if v.IsSingleIP() {
			return v.Addr().String()
		}
		return v.String()
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if _, ok := dv.(driver.Valuer); ok {
			return fmt.Sprint(dv)
		}
		return Format(dv)
	default:
		return fmt.Sprint(v)
	}
}
