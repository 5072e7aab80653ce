// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package traceattrs

const (
	// Common attributes names used across the codebase

	NodeName   = "opensite.node.name"
	NodeAction = "opensite.node.action"
	NodeURN    = "opensite.node.urn"

	BranchName = "opensite.branch.name"
	TableName  = "opensite.table.name"
)
