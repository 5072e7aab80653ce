// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"strings"
	"testing"
)

func TestHashedTableName(t *testing.T) {
	a := HashedTableName("railway-lines--buffer-187.5")
	if !strings.HasPrefix(a, TablePrefix) {
		t.Errorf("hashed name %q lacks the managed prefix", a)
	}
	if len(a) != len(TablePrefix)+32 {
		t.Errorf("hashed name %q has unexpected length", a)
	}
	if b := HashedTableName("railway-lines--buffer-187.5"); b != a {
		t.Errorf("same content hashed to %q and %q", a, b)
	}
	if c := HashedTableName("railway-lines--buffer-200"); c == a {
		t.Error("different content shares a table name")
	}
}

func TestManagedTable(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{HashedTableName("anything"), true},
		{RegistryTable, true},
		{BranchTable, true},
		{"spatial_ref_sys", false},
		{"users", false},
		{"", false},
	}
	for _, test := range tests {
		if got := ManagedTable(test.name); got != test.want {
			t.Errorf("ManagedTable(%q) = %v; want %v", test.name, got, test.want)
		}
	}
}

func TestProtectedTable(t *testing.T) {
	for _, name := range []string{
		RegistryTable,
		BranchTable,
		ClippingMasterTable,
		GridProcessingTable,
		GridBuffedgesTable,
		GridOutputTable,
		OSMBoundariesTable,
		"spatial_ref_sys",
		"geometry_columns",
	} {
		if !ProtectedTable(name) {
			t.Errorf("%q should be protected", name)
		}
	}
	if ProtectedTable(HashedTableName("some-layer")) {
		t.Error("data tables must not be protected")
	}
}

func TestScratchTableName(t *testing.T) {
	got := ScratchTableName(2, "opensite_abc")
	if got != "_s2_opensite_abc" {
		t.Errorf("ScratchTableName = %q", got)
	}
	// Scratch tables sit outside both managed namespaces; their owning
	// executor drops them itself.
	if ManagedTable(got) {
		t.Errorf("scratch name %q should not collide with the managed namespaces", got)
	}
}

func TestNormalizeAreaName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"england", "England"},
		{"England", "England"},
		{"SCOTLAND", "Scotland"},
		{"wales", "Wales / Cymru"},
		{"northern-ireland", "Northern Ireland"},
		{"Allerdale", "Allerdale"},
	}
	for _, test := range tests {
		if got := NormalizeAreaName(test.in); got != test.want {
			t.Errorf("NormalizeAreaName(%q) = %q; want %q", test.in, got, test.want)
		}
	}
}
