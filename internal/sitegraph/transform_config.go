// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	ctyyaml "github.com/zclconf/go-cty-yaml"
)

// fingerprintLength is the number of hex characters of the configuration
// digest kept as a branch hash. Sixteen characters of SHA-256 keep the
// hash readable in the registry while still making collisions between
// site configurations vanishingly unlikely.
const fingerprintLength = 16

// Fingerprint derives the stable branch hash from the canonical JSON
// rendering of a site configuration.
func Fingerprint(config []byte) string {
	sum := sha256.Sum256(config)
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// ConfigTransformer attaches one branch to the graph for every site
// description file, rendering the YAML document as a subtree: mapping
// keys become child nodes, scalars become the "value" property of the
// node that carries them.
type ConfigTransformer struct {
	FS afero.Afero

	// Files are the site description paths, attached in order.
	Files []string
}

func (t *ConfigTransformer) Transform(_ context.Context, g *Graph) error {
	for _, path := range t.Files {
		if err := t.attachFile(g, path); err != nil {
			return err
		}
	}
	return nil
}

func (t *ConfigTransformer) attachFile(g *Graph, path string) error {
	src, err := t.FS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading site description %s: %w", path, err)
	}

	ty, err := ctyyaml.ImpliedType(src)
	if err != nil {
		return fmt.Errorf("parsing site description %s: %w", path, err)
	}
	v, err := ctyyaml.Unmarshal(src, ty)
	if err != nil {
		return fmt.Errorf("decoding site description %s: %w", path, err)
	}

	config, err := ctyjson.Marshal(v, ty)
	if err != nil {
		return fmt.Errorf("encoding site description %s: %w", path, err)
	}

	name := branchName(path)
	log.Printf("[DEBUG] sitegraph: attaching branch %q from %s", name, path)

	branch := g.NewNode(name)
	branch.Config = config
	branch.SetProperty(PropHash, cty.StringVal(Fingerprint(config)))
	branch.SetProperty(PropYML, cty.StringVal(filepath.Base(path)))

	attachValue(g, branch, v)
	g.Root.AddChild(branch)
	return nil
}

// branchName derives the branch slug from the file name.
func branchName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// attachValue renders a decoded YAML value beneath parent. Mappings
// become named children, sequences become one child per entry, and
// scalars are stored as the parent's "value" property.
func attachValue(g *Graph, parent *Node, v cty.Value) {
	if v.IsNull() {
		return
	}

	ty := v.Type()
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			child := g.NewNode(k.AsString())
			attachValue(g, child, ev)
			parent.AddChild(child)
		}

	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			attachElement(g, parent, ev)
		}

	default:
		parent.SetProperty(PropValue, v)
	}
}

// attachElement renders one sequence entry. A bare string names a child;
// a mapping contributes one child per key.
func attachElement(g *Graph, parent *Node, v cty.Value) {
	if v.IsNull() {
		return
	}

	ty := v.Type()
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		attachValue(g, parent, v)
	case ty == cty.String:
		parent.AddChild(g.NewNode(v.AsString()))
	default:
		child := g.NewNode("")
		child.SetProperty(PropValue, v)
		child.Name = child.PropertyString(PropValue)
		parent.AddChild(child)
	}
}
