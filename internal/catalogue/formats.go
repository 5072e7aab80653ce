// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package catalogue

// Format labels as published by the catalogue. The two YML formats carry
// configuration rather than spatial data: one is an osm-export-tool
// mapping, the other a site description.
const (
	FormatGPKG         = "GPKG"
	FormatWFS          = "WFS"
	FormatArcGIS       = "ArcGIS GeoServices REST API"
	FormatGeoJSON      = "GeoJSON"
	FormatKML          = "KML"
	FormatOSM          = "OSM"
	FormatOSMExportYML = "osm-export-tool YML"
	FormatSitesYML     = "Open Site Energy YML"
)

// Formats lists every format the builder accepts from the catalogue, in
// resource selection priority order.
var Formats = []string{
	FormatGPKG,
	FormatWFS,
	FormatArcGIS,
	FormatGeoJSON,
	FormatKML,
	FormatOSMExportYML,
	FormatSitesYML,
}

// FileExtensions maps a format to the extension its download produces.
// Service-backed formats (WFS, ArcGIS) are fetched through an export
// endpoint, so their extension differs from the format name.
var FileExtensions = map[string]string{
	FormatGPKG:         "gpkg",
	FormatArcGIS:       "geojson",
	FormatGeoJSON:      "geojson",
	FormatWFS:          "gpkg",
	FormatKML:          "geojson",
	FormatOSMExportYML: "yml",
	FormatSitesYML:     "yml",
}

// DownloadsPriority orders downloads when size probing is enabled: OSM
// extracts first because everything OSM-derived waits on them, then the
// configuration YMLs that gate further graph work.
var DownloadsPriority = []string{
	FormatOSM,
	FormatSitesYML,
	FormatOSMExportYML,
}

// AlwaysDownload lists formats fetched fresh on every run; they are small
// and change without their URL changing.
var AlwaysDownload = []string{
	FormatSitesYML,
	FormatOSMExportYML,
}

// OSMDownloads lists formats stored under downloads/osm so the extraction
// runner finds extracts and mapping files together.
var OSMDownloads = []string{
	FormatOSM,
	FormatOSMExportYML,
}

// ChoosePriorityResource returns the resource whose format ranks highest
// in the given priority list, stopping early once the top-ranked format is
// found. Resources sharing a format keep encounter order. Returns nil when
// no resource carries an accepted format.
func ChoosePriorityResource(resources []Resource, priority []string) *Resource {
	bestIndex := len(priority)
	var best *Resource
	for i := range resources {
		for idx, format := range priority {
			if format != resources[i].Format {
				continue
			}
			if idx < bestIndex {
				bestIndex = idx
				best = &resources[i]
				if idx == 0 {
					return best
				}
			}
			break
		}
	}
	return best
}
