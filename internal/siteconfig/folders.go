// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package siteconfig

import (
	"fmt"
	"path/filepath"
)

// Folder layout under BuildFolder. Raw downloads are kept apart from
// derived artifacts so that the purge modes can target them separately.

func (c *Config) DownloadsDir() string {
	return filepath.Join(c.BuildFolder, "downloads")
}

// OSMDownloadsDir holds OSM extracts and their mapping configurations,
// which share a folder so the extraction runner finds both together.
func (c *Config) OSMDownloadsDir() string {
	return filepath.Join(c.BuildFolder, "downloads", "osm")
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.BuildFolder, "cache")
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.BuildFolder, "logs")
}

func (c *Config) OutputDir() string {
	return filepath.Join(c.BuildFolder, "output")
}

// OutputLayersDir receives the per-layer export files.
func (c *Config) OutputLayersDir() string {
	return filepath.Join(c.BuildFolder, "output", "layers")
}

func (c *Config) TileserverDir() string {
	return filepath.Join(c.BuildFolder, "tileserver")
}

func (c *Config) InstallDir() string {
	return filepath.Join(c.BuildFolder, "install")
}

// LogFile is the default build log location; logging tees here once the
// folder tree exists.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogsDir(), "opensite.log")
}

// EnsureFolders creates the whole working tree. Safe to call repeatedly.
func (c *Config) EnsureFolders() error {
	for _, dir := range []string{
		c.BuildFolder,
		c.DownloadsDir(),
		c.OSMDownloadsDir(),
		c.CacheDir(),
		c.LogsDir(),
		c.OutputDir(),
		c.OutputLayersDir(),
		c.TileserverDir(),
		c.InstallDir(),
	} {
		if err := c.FS.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating folder %s: %w", dir, err)
		}
	}
	return nil
}
