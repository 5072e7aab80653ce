// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Every table managed by this application lives in one of two namespaces:
// data tables carry the TablePrefix and are derived from node content,
// while internal bookkeeping tables carry the InternalPrefix and have
// fixed names.
const (
	TablePrefix    = "opensite_"
	InternalPrefix = "_" + TablePrefix
)

// Internal table names. These are never dropped by registry
// synchronization.
const (
	RegistryTable       = InternalPrefix + "registry"
	BranchTable         = InternalPrefix + "branch"
	ClippingMasterTable = InternalPrefix + "clipping_master"
	ClippingTempTable   = InternalPrefix + "clipping_temp"
	GridProcessingTable = InternalPrefix + "grid_processing"
	GridOutputTable     = InternalPrefix + "grid_output"
	GridBuffedgesTable  = InternalPrefix + "grid_buffedges"
	OSMBoundariesTable  = InternalPrefix + "osm_boundaries"
)

// Spatial reference systems. The working SRID is metre-based so that
// buffer distances and grid spacings are expressed in metres; the output
// SRID is geographic and is applied on export only.
const (
	WorkingSRID = 25830
	OutputSRID  = 4326

	WorkingCRS = "EPSG:25830"
	OutputCRS  = "EPSG:4326"
)

// Grid spacings in metres. The processing grid keeps ST_Union memory
// bounded during per-square dissolves; the output grid partitions final
// layers for rendering.
const (
	GridProcessingSpacing = 100 * 1000
	GridOutputSpacing     = 100 * 1000
)

// ClippingMasterFile is the boundary polygon bundled with every install,
// named after the working CRS it is stored in.
var ClippingMasterFile = "clipping-master-" + strings.ReplaceAll(WorkingCRS, ":", "-") + ".gpkg"

// protectedTables are exempt from registry synchronization: the internal
// tables above plus the tables PostGIS itself manages.
var protectedTables = map[string]struct{}{
	RegistryTable:       {},
	BranchTable:         {},
	ClippingMasterTable: {},
	ClippingTempTable:   {},
	GridProcessingTable: {},
	GridOutputTable:     {},
	GridBuffedgesTable:  {},
	OSMBoundariesTable:  {},
	"spatial_ref_sys":   {},
	"geography_columns": {},
	"geometry_columns":  {},
	"raster_columns":    {},
	"raster_overview":   {},
}

// ProtectedTable reports whether name must survive registry
// synchronization and database purges of unreferenced tables.
func ProtectedTable(name string) bool {
	_, ok := protectedTables[name]
	return ok
}

// HashedTableName derives a stable data-table name from arbitrary
// content. The same content always yields the same name, which is what
// lets a rerun detect and reuse tables built by an earlier run.
func HashedTableName(content string) string {
	sum := md5.Sum([]byte(content))
	return TablePrefix + hex.EncodeToString(sum[:])
}

// ManagedTable reports whether name belongs to either application
// namespace.
func ManagedTable(name string) bool {
	return strings.HasPrefix(name, TablePrefix) || strings.HasPrefix(name, InternalPrefix)
}

// ScratchTableName names the numbered intermediate tables used while a
// multi-stage operation assembles its output.
func ScratchTableName(stage int, output string) string {
	return fmt.Sprintf("_s%d_%s", stage, output)
}
