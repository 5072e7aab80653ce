// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// CanonicalCountryNames maps the country slugs used in site
// descriptions and on the command line to the names the OSM boundary
// data carries.
var CanonicalCountryNames = map[string]string{
	"england":          "England",
	"scotland":         "Scotland",
	"wales":            "Wales / Cymru",
	"northern-ireland": "Northern Ireland",
}

// NormalizeAreaName resolves a user-supplied area name to the form the
// boundaries table uses, passing through anything that is not a known
// country slug.
func NormalizeAreaName(area string) string {
	if canonical, ok := CanonicalCountryNames[strings.ToLower(area)]; ok {
		return canonical
	}
	return area
}

// Bounds is a bounding box in the output CRS.
type Bounds struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// AreaExists reports whether an administrative area of the given name
// is known to the OSM boundaries table, matching either the area name
// or its council name case-insensitively.
func (c *Client) AreaExists(ctx context.Context, area string) (bool, error) {
	name := NormalizeAreaName(area)
	var exists bool
	err := c.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT FROM %s WHERE name ILIKE $1 OR council_name ILIKE $1)`,
		pq.QuoteIdentifier(OSMBoundariesTable)), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("looking up area %q: %w", area, err)
	}
	return exists, nil
}

// AreasBounds returns the collective bounding box of the named areas,
// transformed into the output CRS. Returns nil when none of the names
// match.
func (c *Client) AreasBounds(ctx context.Context, areas []string) (*Bounds, error) {
	normalized := make([]string, len(areas))
	for i, a := range areas {
		normalized[i] = NormalizeAreaName(a)
	}

	q := fmt.Sprintf(`
		SELECT ST_XMin(ext), ST_YMin(ext), ST_XMax(ext), ST_YMax(ext)
		FROM (
			SELECT ST_Transform(ST_SetSRID(ST_Extent(geom), %d), %d) AS ext
			FROM %s
			WHERE name ILIKE ANY ($1) OR council_name ILIKE ANY ($1)
		) sub`,
		WorkingSRID, OutputSRID, pq.QuoteIdentifier(OSMBoundariesTable))

	var b Bounds
	err := c.db.QueryRowContext(ctx, q, pq.Array(normalized)).Scan(&b.Left, &b.Bottom, &b.Right, &b.Top)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching bounds for %v: %w", areas, err)
	}
	return &b, nil
}

// CountryForArea determines which country an area belongs to by
// intersecting it against the country boundaries and taking the
// largest overlap. Returns the empty string when the area matches no
// country.
func (c *Client) CountryForArea(ctx context.Context, area string) (string, error) {
	countries := make([]string, 0, len(CanonicalCountryNames))
	for _, osmName := range CanonicalCountryNames {
		countries = append(countries, osmName)
	}

	boundaries := pq.QuoteIdentifier(OSMBoundariesTable)
	q := fmt.Sprintf(`
		WITH primaryarea AS (
			SELECT geom FROM %s WHERE name ILIKE $1 OR council_name ILIKE $1 LIMIT 1
		)
		SELECT secondaryarea.name
		FROM %s secondaryarea, primaryarea
		WHERE secondaryarea.name = ANY ($2) AND ST_Intersects(primaryarea.geom, secondaryarea.geom)
		ORDER BY ST_Area(ST_Intersection(primaryarea.geom, secondaryarea.geom)) DESC
		LIMIT 1`, boundaries, boundaries)

	var name string
	err := c.db.QueryRowContext(ctx, q, NormalizeAreaName(area), pq.Array(countries)).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("determining country for %q: %w", area, err)
	}
	return name, nil
}
