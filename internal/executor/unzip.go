// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// runUnzip extracts a node's archive and promotes the largest file
// matching the target extension to the node's output name. Archives
// often carry several representations of the same data plus metadata
// sidecars; size is the only reliable way to find the payload.
func runUnzip(ctx context.Context, p *Params, node *sitegraph.Node) error {
	archive := p.downloadPath(node.Format, node.Input)
	dest := p.downloadPath(node.Format, node.Output)

	archiveInfo, err := os.Stat(archive)
	if err != nil {
		return fmt.Errorf("archive %s missing: %w", archive, err)
	}
	if !p.Overwrite {
		if destInfo, err := os.Stat(dest); err == nil && destInfo.ModTime().After(archiveInfo.ModTime()) {
			log.Printf("[DEBUG] executor: %s is newer than its archive, skipping extraction", dest)
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	workDir := dest + ".extract"
	if err := os.RemoveAll(workDir); err != nil {
		return err
	}
	if err := (&getter.ZipDecompressor{}).Decompress(workDir, archive, true, 0022); err != nil {
		return fmt.Errorf("extracting %s: %w", archive, err)
	}
	defer os.RemoveAll(workDir)

	payload, err := largestWithExtension(workDir, filepath.Ext(dest))
	if err != nil {
		return fmt.Errorf("searching %s: %w", archive, err)
	}
	if payload == "" {
		return fmt.Errorf("archive %s contains no %s file", archive, filepath.Ext(dest))
	}

	if err := os.Rename(payload, dest); err != nil {
		return err
	}
	log.Printf("[DEBUG] executor: extracted %s from %s", dest, filepath.Base(archive))
	return nil
}

// largestWithExtension walks root and returns the path of the biggest
// regular file carrying ext (case-insensitive), or "" when none match.
func largestWithExtension(root, ext string) (string, error) {
	var best string
	var bestSize int64 = -1
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	return best, err
}
