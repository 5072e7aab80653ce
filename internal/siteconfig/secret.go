// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package siteconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const secretKeyPrefix = "SECRET_KEY="

// EnsureSecretKey returns the secret key for server mode, generating and
// persisting one on first use so that restarts keep their sessions.
//
// Resolution order: SECRET_KEY from the environment (already on the
// Config), then a SECRET_KEY line in the build root's .env file, then a
// freshly generated key appended to that file.
func (c *Config) EnsureSecretKey() (string, error) {
	if c.SecretKey != "" {
		return c.SecretKey, nil
	}

	envPath := filepath.Join(c.BuildFolder, ".env")
	data, err := c.FS.ReadFile(envPath)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(line), secretKeyPrefix); ok && v != "" {
				c.SecretKey = v
				return v, nil
			}
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	key := uuid.NewString()
	f, err := c.FS.OpenFile(envPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("persisting secret key: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s%s\n", secretKeyPrefix, key); err != nil {
		return "", fmt.Errorf("persisting secret key: %w", err)
	}

	c.SecretKey = key
	return key, nil
}
