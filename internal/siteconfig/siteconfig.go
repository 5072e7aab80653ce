// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package siteconfig resolves the runtime environment for a build: the
// PostGIS connection settings, the build folder tree, the state flag files
// consumed by the wrapper daemon, and the secret key used by server mode.
package siteconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// Environment variables read by Load. The database settings have no
// defaults because there is no sensible guess for another host's
// credentials.
const (
	envPostgresHost     = "POSTGRES_HOST"
	envPostgresDB       = "POSTGRES_DB"
	envPostgresUser     = "POSTGRES_USER"
	envPostgresPassword = "POSTGRES_PASSWORD"
	envBuildFolder      = "BUILD_FOLDER"
	envQGISPythonPath   = "QGIS_PYTHON_PATH"
	envTileserverURL    = "TILESERVER_URL"
	envCKANURL          = "CKAN_URL"
	envSecretKey        = "SECRET_KEY"
)

const (
	defaultBuildFolder    = "build"
	defaultQGISPythonPath = "/usr/bin/python3"
	defaultTileserverURL  = "http://localhost:8080"
	defaultCKANURL        = "https://data.openwind.energy"
)

// Config carries the resolved environment for one run.
type Config struct {
	// FS is the filesystem every siteconfig operation goes through, so
	// that tests can run against an afero.MemMapFs.
	FS afero.Afero

	PostgresHost     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// BuildFolder is the root of the working tree; every artifact a build
	// produces lives underneath it.
	BuildFolder string

	// QGISPythonPath is the interpreter used for the QGIS project export
	// helper scripts.
	QGISPythonPath string

	TileserverURL string

	// CKANURL is the catalogue endpoint. A site description may override
	// it per branch through its "ckan" property.
	CKANURL string

	// SecretKey is empty until EnsureSecretKey has run, unless SECRET_KEY
	// was already present in the environment.
	SecretKey string
}

// Load resolves a Config from the process environment. A nil fs selects
// the real filesystem; tests pass an afero.NewMemMapFs.
func Load(fs afero.Fs) *Config {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Config{
		FS:               afero.Afero{Fs: fs},
		PostgresHost:     os.Getenv(envPostgresHost),
		PostgresDB:       os.Getenv(envPostgresDB),
		PostgresUser:     os.Getenv(envPostgresUser),
		PostgresPassword: os.Getenv(envPostgresPassword),
		BuildFolder:      envDefault(envBuildFolder, defaultBuildFolder),
		QGISPythonPath:   envDefault(envQGISPythonPath, defaultQGISPythonPath),
		TileserverURL:    envDefault(envTileserverURL, defaultTileserverURL),
		CKANURL:          envDefault(envCKANURL, defaultCKANURL),
		SecretKey:        os.Getenv(envSecretKey),
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks the settings that every database-touching command needs.
// All missing settings are reported together.
func (c *Config) Validate() error {
	var result *multierror.Error
	for _, check := range []struct {
		env   string
		value string
	}{
		{envPostgresHost, c.PostgresHost},
		{envPostgresDB, c.PostgresDB},
		{envPostgresUser, c.PostgresUser},
		{envPostgresPassword, c.PostgresPassword},
	} {
		if check.value == "" {
			result = multierror.Append(result, fmt.Errorf("environment variable %s must be set", check.env))
		}
	}
	return result.ErrorOrNil()
}

// ConnStr returns a keyword/value connection string for database/sql with
// the postgres driver. The database runs alongside the build without TLS,
// so sslmode is disabled.
func (c *Config) ConnStr() string {
	return fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=disable",
		connValue(c.PostgresHost),
		connValue(c.PostgresDB),
		connValue(c.PostgresUser),
		connValue(c.PostgresPassword),
	)
}

// OGRConnStr returns the GDAL PG datasource string equivalent to
// ConnStr, for the ogr2ogr subprocesses.
func (c *Config) OGRConnStr() string {
	return fmt.Sprintf("PG:host=%s dbname=%s user=%s password=%s",
		connValue(c.PostgresHost),
		connValue(c.PostgresDB),
		connValue(c.PostgresUser),
		connValue(c.PostgresPassword),
	)
}

// connValue quotes a connection string value per the keyword/value syntax:
// values containing spaces, quotes or backslashes must be single-quoted
// with backslash escaping.
func connValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
