// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

import "testing"

func TestInterestingDependencies(t *testing.T) {
	// The exact set depends on what the test binary links, but every
	// reported module must come from the allowlist and carry a version.
	for _, mod := range InterestingDependencies() {
		if _, ok := interestingDependencies[mod.Path]; !ok {
			t.Errorf("unexpected module %s reported", mod.Path)
		}
		if mod.Version == "" {
			t.Errorf("module %s reported without a version", mod.Path)
		}
	}
}
