// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package siteconfig

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// ResolveSiteFiles expands site description glob patterns relative to the
// working directory. Patterns use doublestar syntax, so "sites/**/*.yml"
// selects a whole tree. Matches are deduplicated and sorted so graph
// construction order is stable across runs.
func (c *Config) ResolveSiteFiles(patterns []string) ([]string, error) {
	iofs := afero.NewIOFS(c.FS.Fs)
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(iofs, pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid site pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}
