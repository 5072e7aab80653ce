// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/openwindenergy/opensite/internal/postgis"
)

// purge removes the artifact classes the options select, then rebuilds
// the empty folder tree so a following run starts clean.
func (a *App) purge(ctx context.Context) error {
	var result *multierror.Error

	if a.Options.PurgeDB || a.Options.PurgeAll {
		result = multierror.Append(result, a.purgeDatabase(ctx))
	}
	if a.Options.PurgeDownloads || a.Options.PurgeAll {
		log.Printf("[WARN] command: deleting downloaded files")
		result = multierror.Append(result, a.Config.FS.RemoveAll(a.Config.DownloadsDir()))
	}
	if a.Options.PurgeOutputs || a.Options.PurgeAll {
		log.Printf("[WARN] command: deleting generated outputs")
		for _, dir := range []string{
			a.Config.OutputDir(),
			a.Config.TileserverDir(),
		} {
			result = multierror.Append(result, a.Config.FS.RemoveAll(dir))
		}
	}

	if err := a.Config.EnsureFolders(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	a.UI.Output("Purge complete.")
	return nil
}

func (a *App) purgeDatabase(ctx context.Context) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}
	db, err := postgis.Connect(ctx, a.Config.ConnStr(), a.Config.OGRConnStr())
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PurgeDatabase(ctx)
}
