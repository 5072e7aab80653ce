// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"
	"strings"

	"github.com/openwindenergy/opensite/internal/catalogue"
)

// DownloadsTransformer gives every leaf node with a remote input a
// download child. The URL moves to the child; the parent is rewritten
// to consume the local file the download will produce, named
// "<name>.<ext>" with the extension implied by the dataset format.
type DownloadsTransformer struct{}

func (t *DownloadsTransformer) Transform(_ context.Context, g *Graph) error {
	added := 0
	for _, leaf := range g.Leaves() {
		if !strings.HasPrefix(leaf.Input, "http") {
			continue
		}

		ext, ok := catalogue.FileExtensions[leaf.Format]
		if !ok {
			log.Printf("[WARN] sitegraph: dataset %q has unrecognized format %q, cannot derive download filename", leaf.Name, leaf.Format)
			continue
		}

		download := g.NewNode(leaf.Name)
		download.Title = "Download - " + leaf.Title
		download.Type = TypeDownload
		download.Action = ActionDownload
		download.Format = leaf.Format
		download.Input = leaf.Input
		download.Output = leaf.Name + "." + ext

		leaf.Input = download.Output
		leaf.AddChild(download)
		added++
	}

	log.Printf("[DEBUG] sitegraph: added %d download nodes", added)
	return nil
}

// UnzipsTransformer splits every download whose URL names a zip archive
// into a fetch/extract pair: a new child downloads "<output>.zip" and
// the original node becomes the unzip step that recovers the target
// file from the archive.
type UnzipsTransformer struct{}

func (t *UnzipsTransformer) Transform(_ context.Context, g *Graph) error {
	split := 0
	for _, leaf := range g.Leaves() {
		if !zipURL(leaf.Input) {
			continue
		}

		fetch := g.NewNode(leaf.Name + "-file")
		fetch.Title = leaf.Title
		fetch.Type = TypeDownload
		fetch.Action = ActionDownload
		fetch.Format = leaf.Format
		fetch.Input = leaf.Input
		fetch.Output = leaf.Output + ".zip"

		leaf.Type = TypeProcess
		leaf.Action = ActionUnzip
		leaf.Title = "Unzip - " + leaf.Title
		leaf.Input = fetch.Output

		leaf.AddChild(fetch)
		split++
		log.Printf("[TRACE] sitegraph: inserted unzip step for %q", fetch.Output)
	}

	if split > 0 {
		log.Printf("[DEBUG] sitegraph: split %d zip downloads into fetch and extract", split)
	}
	return nil
}

// zipURL reports whether the URL path names a zip archive, ignoring any
// query string.
func zipURL(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "http") {
		return false
	}
	path, _, _ := strings.Cut(rawURL, "?")
	return strings.HasSuffix(strings.ToLower(path), ".zip")
}
