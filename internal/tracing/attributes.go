// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package tracing

const (
	// Common attributes names used across the codebase

	NodeNameAttributeName   = "opensite.node.name"
	NodeActionAttributeName = "opensite.node.action"
)
