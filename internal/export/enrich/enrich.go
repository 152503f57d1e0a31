// Package enrich adds derived columns to exported rows.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/michr/ops-toolkit/internal/export/geolocation"
	"github.com/michr/ops-toolkit/internal/export/models"
)

// Enricher adds columns to a row.
type Enricher interface {
	// Enrich returns row with the columns of HeaderFields set.
	// It may read the columns added by the enrichers applied before it.
	Enrich(ctx context.Context, row models.Row) models.Row
	// HeaderFields are the columns added, in output order.
	HeaderFields() []string
}

// Locator resolves an address to its location.
type Locator interface {
	Get(ctx context.Context, ip string) geolocation.Record
}

// Target is an address column to locate.
type Target struct {
	// Column holds the address.
	Column string
	// Prefix is prepended to each location column.
	Prefix string
}

var locationFields = []string{"CITY", "REGION", "COUNTRY", "POSTAL", "ORG"}

// Target sets.
var (
	// SourceTargets locates the address the activity came from.
	SourceTargets = []Target{{Column: "SOURCE_ADDRESS"}}
	// ActivityTargets locates the interest and the activation addresses.
	ActivityTargets = []Target{
		{Column: "INTEREST_SOURCE_ADDRESS", Prefix: "INTEREST_"},
		{Column: "ACTIVATION_SOURCE_ADDRESS", Prefix: "ACTIVATION_"},
	}
)

var targetSets = map[string][]Target{
	"source":   SourceTargets,
	"activity": ActivityTargets,
}

// TargetsByName returns the target set called name.
func TargetsByName(name string) ([]Target, error) {
	t, ok := targetSets[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(targetSets))
		for n := range targetSets {
			names = append(names, n)
		}
		slices.Sort(names)
		return nil, fmt.Errorf("unknown targets %q, expected one of: %s", name, strings.Join(names, ", "))
	}
	return t, nil
}

// Geolocation adds the location of address columns.
type Geolocation struct {
	locator Locator
	targets []Target
	fields  []string
}

// NewGeolocation returns an enricher locating every target in order.
func NewGeolocation(locator Locator, targets ...Target) *Geolocation {
	var fields []string
	for _, t := range targets {
		for _, f := range locationFields {
			fields = append(fields, t.Prefix+f)
		}
	}
	return &Geolocation{locator: locator, targets: targets, fields: fields}
}

// HeaderFields implements Enricher.
func (g *Geolocation) HeaderFields() []string {
	return append([]string(nil), g.fields...)
}

// Enrich implements Enricher.
// A target with no address, or with the address of the target before it,
// reuses the location of that previous target.
func (g *Geolocation) Enrich(ctx context.Context, row models.Row) models.Row {
	row = row.Clone()
	var prevIP string
	var prev geolocation.Record
	for i, t := range g.targets {
		ip := row.Text(t.Column)
		slog.Debug("Enriching address", "column", t.Column, "ip", ip)

		rec := prev
		if i == 0 || (ip != "" && ip != prevIP) {
			rec = g.locator.Get(ctx, ip)
		}
		set(&row, t.Prefix, rec)
		prevIP, prev = ip, rec
	}
	return row
}

func set(row *models.Row, prefix string, r geolocation.Record) {
	for i, v := range []string{r.City, r.Region, r.Country, r.Postal, r.Org} {
		row.Set(prefix+locationFields[i], v)
	}
}
