// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package catalogue queries the CKAN open data repository that describes
// the raw datasources: which datasets exist, which groups they belong to,
// and the per-format resource URLs a build can download.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/openwindenergy/opensite/internal/httpclient"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// Resource is one downloadable representation of a dataset.
type Resource struct {
	Format string `json:"format"`
	URL    string `json:"url"`
}

// Dataset is a catalogue package: a named datasource with one resource
// per published format.
type Dataset struct {
	PackageName string
	Title       string
	Resources   []Resource
}

// Group collects the datasets of one catalogue group. Ungrouped datasets
// land under the synthetic "default" group.
type Group struct {
	Title    string
	Datasets []Dataset
}

// Model is the catalogue pivoted by group slug.
type Model map[string]Group

// DefaultGroup keys datasets that belong to no catalogue group.
const DefaultGroup = "default"

// Client queries one CKAN endpoint.
type Client struct {
	// client is used for all requests.
	client *retryablehttp.Client

	baseURL string
}

// NewClient returns a catalogue client for the given CKAN base URL.
func NewClient(ctx context.Context, baseURL string, client *retryablehttp.Client) *Client {
	if client == nil {
		// Fallback configuration intended primarily for tests that call
		// this function directly.
		client = httpclient.NewRetryable(ctx, 1, 10*time.Second)
	}

	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// URL returns the CKAN base URL this client queries.
func (c *Client) URL() string {
	return c.baseURL
}

// actionResponse is the CKAN envelope: every action returns success plus
// either a result payload or an error object.
type actionResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	} `json:"error"`
}

type packageResponse struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Groups []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"groups"`
	Resources []Resource `json:"resources"`
}

// Query fetches the complete package list and pivots it into a Model.
// Datasets keep catalogue order within their group.
func (c *Client) Query(ctx context.Context) (Model, error) {
	endpoint := c.baseURL + "/api/3/action/current_package_list_with_resources"

	ctx, span := tracing.Tracer().Start(ctx, "Query Catalogue",
		trace.WithAttributes(
			traceattrs.URLFull(endpoint),
		),
	)
	defer span.End()

	log.Printf("[DEBUG] catalogue: fetching package list from %q", endpoint)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("catalogue query failed: %s", resp.Status)
		tracing.SetSpanError(span, err)
		return nil, err
	}

	var envelope actionResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding catalogue response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("catalogue query failed: %s", envelope.Error.Message)
	}

	var packages []packageResponse
	if err := json.Unmarshal(envelope.Result, &packages); err != nil {
		return nil, fmt.Errorf("decoding catalogue package list: %w", err)
	}

	model := make(Model)
	for _, pkg := range packages {
		groupName := DefaultGroup
		groupTitle := ""
		if len(pkg.Groups) > 0 {
			groupName = pkg.Groups[0].Name
			groupTitle = pkg.Groups[0].Title
		}

		group := model[groupName]
		if group.Title == "" {
			group.Title = groupTitle
		}
		group.Datasets = append(group.Datasets, Dataset{
			PackageName: pkg.Name,
			Title:       pkg.Title,
			Resources:   pkg.Resources,
		})
		model[groupName] = group
	}

	log.Printf("[DEBUG] catalogue: %d groups in package list", len(model))
	return model, nil
}

// DownloadSites fetches the site description YMLs published in the
// catalogue into destDir and returns their paths. A non-empty selection
// restricts the download to the named packages; the returned error names
// any selected package the catalogue does not publish.
func (c *Client) DownloadSites(ctx context.Context, destDir string, selection []string) ([]string, error) {
	model, err := c.Query(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(selection))
	for _, name := range selection {
		wanted[name] = false
	}

	var files []string
	for _, group := range model {
		for _, dataset := range group.Datasets {
			if len(selection) > 0 {
				if _, ok := wanted[dataset.PackageName]; !ok {
					continue
				}
			}
			var siteResource *Resource
			for i := range dataset.Resources {
				if dataset.Resources[i].Format == FormatSitesYML {
					siteResource = &dataset.Resources[i]
					break
				}
			}
			if siteResource == nil {
				continue
			}
			if len(selection) > 0 {
				wanted[dataset.PackageName] = true
			}

			dest := filepath.Join(destDir, dataset.PackageName+".yml")
			if err := c.Fetch(ctx, siteResource.URL, dest); err != nil {
				return nil, fmt.Errorf("downloading site description %s: %w", dataset.PackageName, err)
			}
			files = append(files, dest)
		}
	}

	for name, found := range wanted {
		if !found {
			return nil, fmt.Errorf("site %q not published by catalogue %s", name, c.baseURL)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Fetch downloads one small file to destPath. Intended for configuration
// files; bulk dataset downloads go through the download executor instead.
func (c *Client) Fetch(ctx context.Context, rawURL, destPath string) error {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %q: %s", rawURL, resp.Status)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
