// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package traceattrs

import (
	"go.opentelemetry.io/otel/attribute"
)

// This file contains some functions representing opensite-specific semantic
// conventions, which we use alongside the general OpenTelemetry-specified
// semantic conventions.
//
// These functions tend to take strings that are expected to be the canonical
// string representation of some more specific type from elsewhere in opensite,
// but we make the caller produce the string representation rather than doing it
// inline because this package needs to avoid importing any other packages
// from this codebase so that the rest of opensite can use this package without
// creating import cycles.
//
// We only create functions in here for attribute names that we want to use
// consistently across many different callers. For one-off attribute names that
// are only used in a single kind of span, use the semantic convention wrappers
// like [URLFull] and [FilePath] instead.

// OpenSiteNodeName returns an attribute definition for indicating which
// build graph node is relevant to a particular trace span.
//
// The given name should be the node's slugified name.
func OpenSiteNodeName(name string) attribute.KeyValue {
	return attribute.String(NodeName, name)
}

// OpenSiteNodeAction returns an attribute definition for indicating which
// executor action is relevant to a particular trace span.
//
// This should typically be used alongside [OpenSiteNodeName] to indicate
// which node the action is running for.
func OpenSiteNodeAction(action string) attribute.KeyValue {
	return attribute.String(NodeAction, action)
}

// OpenSiteNodeURN returns an attribute definition for indicating the
// branch-local identifier of the build graph node that a particular trace
// span is working on.
func OpenSiteNodeURN(urn int) attribute.KeyValue {
	return attribute.Int(NodeURN, urn)
}

// OpenSiteBranch returns an attribute definition for indicating which
// configuration branch a particular trace span belongs to.
//
// The given name should be the slugified branch name derived from the
// site configuration hash.
func OpenSiteBranch(name string) attribute.KeyValue {
	return attribute.String(BranchName, name)
}

// OpenSiteTable returns an attribute definition for indicating which
// PostGIS table a particular trace span reads or writes.
func OpenSiteTable(name string) attribute.KeyValue {
	return attribute.String(TableName, name)
}
