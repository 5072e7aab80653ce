// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package command is the CLI surface: option parsing and validation,
// the run lifecycle, and the auxiliary modes (purges, preview, server).
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/spf13/cobra"

	"github.com/openwindenergy/opensite/internal/siteconfig"
	"github.com/openwindenergy/opensite/version"
)

// Options are the parsed command line of one invocation.
type Options struct {
	// HeightToTip and BladeRadius are the turbine dimensions in metres.
	// BladeRadius is optional; zero means not supplied.
	HeightToTip float64
	BladeRadius float64

	// ClipArea crops every output layer to one administrative area.
	ClipArea string

	// CustomSiteURL adds one remote site description to the working set.
	CustomSiteURL string

	// Sites are glob patterns selecting local site description files.
	// Empty means every site published by the catalogue.
	Sites []string

	OutputFormats []string
	SnapGrid      bool
	Overwrite     bool

	GraphOnly bool
	Preview   bool

	PurgeDB        bool
	PurgeDownloads bool
	PurgeOutputs   bool
	PurgeAll       bool

	// ServerPort switches to server mode when non-zero.
	ServerPort int
}

func (o *Options) purgeRequested() bool {
	return o.PurgeDB || o.PurgeDownloads || o.PurgeOutputs || o.PurgeAll
}

// Run parses args and executes the selected mode, returning the process
// exit code. All failures surface through ui and exit code 1.
func Run(args []string, ui cli.Ui) int {
	opts := &Options{}

	root := &cobra.Command{
		Use:     "opensite <height-to-tip> [blade-radius]",
		Short:   "Build geospatial constraint layers for onshore wind sites",
		Version: version.String(),
		Args:    cobra.RangeArgs(0, 2),
		// Errors are reported through the ui once, below.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, positional []string) error {
			if err := parseDimensions(opts, positional); err != nil {
				return err
			}
			app := &App{Options: opts, Config: siteconfig.Load(nil), UI: ui}
			return app.Run(cmd.Context())
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.ClipArea, "clip", "", "clip all outputs to the named administrative area")
	flags.StringVar(&opts.CustomSiteURL, "custom", "", "add a site description from a URL")
	flags.StringSliceVar(&opts.Sites, "sites", nil, "glob patterns selecting local site descriptions")
	flags.StringSliceVar(&opts.OutputFormats, "outputformats", []string{"gpkg", "geojson"}, "output file formats")
	flags.BoolVar(&opts.SnapGrid, "snapgrid", false, "snap geometries to a metre grid during preprocessing")
	flags.BoolVar(&opts.Overwrite, "overwrite", false, "rebuild artifacts even when reusable ones exist")
	flags.BoolVar(&opts.GraphOnly, "graphonly", false, "build and render the graph without executing it")
	flags.BoolVar(&opts.Preview, "preview", false, "render the graph tree before executing")
	flags.BoolVar(&opts.PurgeDB, "purgedb", false, "drop all managed database tables and exit")
	flags.BoolVar(&opts.PurgeDownloads, "purgedownloads", false, "delete downloaded files and exit")
	flags.BoolVar(&opts.PurgeOutputs, "purgeoutputs", false, "delete generated outputs and exit")
	flags.BoolVar(&opts.PurgeAll, "purgeall", false, "purge database, downloads and outputs, then exit")
	flags.IntVar(&opts.ServerPort, "server", 0, "serve build state over HTTP on the given port")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		ui.Error(fmt.Sprintf("Error: %s", err))
		return 1
	}
	return 0
}

// parseDimensions validates the positional turbine dimensions. They are
// required for a build but irrelevant to the purge and server modes.
func parseDimensions(opts *Options, positional []string) error {
	if len(positional) == 0 {
		if opts.purgeRequested() || opts.ServerPort != 0 {
			return nil
		}
		return fmt.Errorf("a height-to-tip value in metres is required")
	}

	names := []string{"height-to-tip", "blade-radius"}
	values := make([]float64, len(positional))
	for i, arg := range positional {
		v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("%s must be a positive number, got %q", names[i], arg)
		}
		values[i] = v
	}
	opts.HeightToTip = values[0]
	if len(values) > 1 {
		opts.BladeRadius = values[1]
	}
	return nil
}
