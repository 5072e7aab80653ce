// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"context"
	"log"

	"github.com/hashicorp/go-multierror"
)

// PurgeDatabase drops every managed table, internal bookkeeping tables
// included. Failures on individual tables are collected rather than
// aborting the sweep, so one stubborn dependency does not strand the
// rest.
func (c *Client) PurgeDatabase(ctx context.Context) error {
	names, err := c.TableNames(ctx)
	if err != nil {
		return err
	}

	var dropped int
	var result *multierror.Error
	for _, name := range names {
		if !ManagedTable(name) {
			continue
		}
		if err := c.DropTable(ctx, name); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		log.Printf("[DEBUG] postgis: dropped %s", name)
		dropped++
	}

	if dropped == 0 && result.ErrorOrNil() == nil {
		log.Printf("[INFO] postgis: no managed tables found to purge")
		return nil
	}
	log.Printf("[WARN] postgis: purged %d tables from the database", dropped)
	return result.ErrorOrNil()
}
