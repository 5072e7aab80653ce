// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"

	"github.com/openwindenergy/opensite/internal/postgis"
)

// StructureTransformer promotes the structure section of each branch to
// be the branch's direct children, typing categories as groups and
// datasets as sources. Every dataset is assigned the database table its
// import will produce. A branch without a structure section yields no
// datasets at all.
type StructureTransformer struct{}

func (t *StructureTransformer) Transform(_ context.Context, g *Graph) error {
	for _, branch := range g.Branches() {
		structure := branch.Child("structure")
		if structure == nil {
			log.Printf("[WARN] sitegraph: branch %q has no structure section, skipping its datasets", branch.Name)
			branch.Children = nil
			continue
		}

		datasets := 0
		for _, category := range structure.Children {
			category.Type = TypeGroup
			for _, dataset := range category.Children {
				dataset.Type = TypeSource
				dataset.Output = postgis.HashedTableName(dataset.Name)
				datasets++
			}
		}

		branch.Children = structure.Children
		log.Printf("[DEBUG] sitegraph: branch %q structured into %d categories, %d datasets", branch.Name, len(structure.Children), datasets)
	}
	return nil
}
