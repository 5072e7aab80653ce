// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"log"
	"os"
	"runtime"

	"github.com/mitchellh/cli"

	"github.com/openwindenergy/opensite/internal/command"
	"github.com/openwindenergy/opensite/internal/logging"
	"github.com/openwindenergy/opensite/version"
)

func main() {
	// The logging bridge must exist before anything logs.
	logging.HCLogger()

	log.Printf("[INFO] opensite version: %s", version.String())
	if logging.IsDebugOrHigher() {
		for _, depMod := range version.InterestingDependencies() {
			log.Printf("[DEBUG] using %s %s", depMod.Path, depMod.Version)
		}
	}
	log.Printf("[INFO] Go runtime version: %s", runtime.Version())

	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	os.Exit(command.Run(os.Args[1:], ui))
}
