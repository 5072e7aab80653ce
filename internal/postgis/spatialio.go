// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"

	"github.com/apparentlymart/go-shquot/shquot"
)

// OGRPath is the GDAL conversion tool used for all file/database
// transfers. Overridable for tests.
var OGRPath = "ogr2ogr"

// ImportOptions are the per-dataset corrections an import may need on
// top of the standard conversion.
type ImportOptions struct {
	// SourceCRS overrides the CRS declared by the file, for sources
	// whose declaration is wrong or missing.
	SourceCRS string

	// Layer selects one layer from a multi-layer source.
	Layer string

	// Where filters source features by an OGR SQL predicate.
	Where string

	// TargetCRS defaults to the working CRS.
	TargetCRS string
}

// ImportSpatialData loads a spatial file into a table, reprojected to
// the working CRS with geometries repaired and promoted to multi.
func (c *Client) ImportSpatialData(ctx context.Context, file, table string, opts ...ImportOptions) error {
	var o ImportOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.TargetCRS == "" {
		o.TargetCRS = WorkingCRS
	}

	args := []string{
		"-f", "PostgreSQL",
		c.ogrConn,
		file,
		"-overwrite",
		"-lco", "GEOMETRY_NAME=geom",
		"-nln", table,
		"-nlt", "PROMOTE_TO_MULTI",
		"-makevalid",
		"-t_srs", o.TargetCRS,
		"--config", "PG_USE_COPY", "YES",
		"--config", "OGR_PG_ENABLE_METADATA", "NO",
	}
	if o.SourceCRS != "" {
		args = append(args, "-s_srs", o.SourceCRS)
	}
	if o.Where != "" {
		args = append(args, "-where", o.Where)
	}
	if o.Layer != "" {
		args = append(args, o.Layer)
	}
	return c.runOGR(ctx, args, fmt.Sprintf("importing %s into %s", filepath.Base(file), table))
}

// ExportSpatialData writes a table to a spatial file in the output
// CRS, under the given layer name.
func (c *Client) ExportSpatialData(ctx context.Context, table, layerName, file string) error {
	args := []string{
		file,
		c.ogrConn,
		"-overwrite",
		"-nln", layerName,
		"-nlt", "POLYGON",
		"-dialect", "sqlite",
		"-sql", fmt.Sprintf("SELECT geom geometry FROM '%s'", table),
		"-s_srs", WorkingCRS,
		"-t_srs", OutputCRS,
	}
	return c.runOGR(ctx, args, fmt.Sprintf("exporting %s to %s", table, filepath.Base(file)))
}

func (c *Client) runOGR(ctx context.Context, args []string, what string) error {
	log.Printf("[INFO] postgis: %s", what)
	log.Printf("[TRACE] postgis: running %s", shquot.POSIXShell(append([]string{OGRPath}, args...)))

	cmd := exec.CommandContext(ctx, OGRPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w\n%s", what, err, out)
	}
	return nil
}
