// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package siteconfig

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State flag files written to the build root. A wrapper daemon polls
// these to display progress and to decide when another build may start:
// PROCESSING holds the active command line and exists only while a build
// runs; PROCESSINGSTART and PROCESSINGCOMPLETE hold RFC3339 timestamps.
const (
	processingFlagName     = "PROCESSING"
	processingStartName    = "PROCESSINGSTART"
	processingCompleteName = "PROCESSINGCOMPLETE"
)

// ProcessingState reports the flag files as last written.
type ProcessingState struct {
	Active      bool
	CommandLine string
	StartedAt   string
	CompletedAt string
}

func (c *Config) flagPath(name string) string {
	return filepath.Join(c.BuildFolder, name)
}

// MarkProcessingStarted records the active command line and start time and
// clears any completion marker left by an earlier run.
func (c *Config) MarkProcessingStarted(commandLine string) error {
	if err := c.FS.WriteFile(c.flagPath(processingFlagName), []byte(commandLine+"\n"), 0644); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := c.FS.WriteFile(c.flagPath(processingStartName), []byte(stamp+"\n"), 0644); err != nil {
		return err
	}
	if err := c.FS.Remove(c.flagPath(processingCompleteName)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MarkProcessingComplete removes the active flag and records completion.
func (c *Config) MarkProcessingComplete() error {
	if err := c.FS.Remove(c.flagPath(processingFlagName)); err != nil && !os.IsNotExist(err) {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	return c.FS.WriteFile(c.flagPath(processingCompleteName), []byte(stamp+"\n"), 0644)
}

// ReadProcessingState reads whichever flag files exist. Missing files are
// not errors; they just leave the corresponding fields empty.
func (c *Config) ReadProcessingState() (ProcessingState, error) {
	var state ProcessingState

	data, err := c.FS.ReadFile(c.flagPath(processingFlagName))
	switch {
	case err == nil:
		state.Active = true
		state.CommandLine = strings.TrimSpace(string(data))
	case !os.IsNotExist(err):
		return state, err
	}

	if data, err := c.FS.ReadFile(c.flagPath(processingStartName)); err == nil {
		state.StartedAt = strings.TrimSpace(string(data))
	} else if !os.IsNotExist(err) {
		return state, err
	}

	if data, err := c.FS.ReadFile(c.flagPath(processingCompleteName)); err == nil {
		state.CompletedAt = strings.TrimSpace(string(data))
	} else if !os.IsNotExist(err) {
		return state, err
	}

	return state, nil
}
