// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package catalogue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const packageListPath = "/api/3/action/current_package_list_with_resources"

func testCatalogueServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == packageListPath:
			fmt.Fprintf(w, `{
				"success": true,
				"result": [
					{
						"name": "railway-lines",
						"title": "Railway Lines",
						"groups": [{"name": "infrastructure", "title": "Infrastructure"}],
						"resources": [
							{"format": "GeoJSON", "url": "https://example.com/railways.geojson"},
							{"format": "GPKG", "url": "https://example.com/railways.gpkg"}
						]
					},
					{
						"name": "national-parks",
						"title": "National Parks",
						"groups": [{"name": "infrastructure", "title": "Infrastructure"}],
						"resources": [
							{"format": "KML", "url": "https://example.com/parks.kml"}
						]
					},
					{
						"name": "uk-wind",
						"title": "UK Wind Constraints",
						"groups": [],
						"resources": [
							{"format": "Open Site Energy YML", "url": "%[1]s/files/uk-wind.yml"}
						]
					},
					{
						"name": "uk-solar",
						"title": "UK Solar Constraints",
						"groups": [],
						"resources": [
							{"format": "Open Site Energy YML", "url": "%[1]s/files/uk-solar.yml"}
						]
					}
				]
			}`, srv.URL)
		case strings.HasPrefix(r.URL.Path, "/files/"):
			fmt.Fprintf(w, "title: %s\n", strings.TrimSuffix(filepath.Base(r.URL.Path), ".yml"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuery(t *testing.T) {
	srv := testCatalogueServer(t)
	client := NewClient(context.Background(), srv.URL, nil)

	got, err := client.Query(context.Background())
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	want := Model{
		"infrastructure": {
			Title: "Infrastructure",
			Datasets: []Dataset{
				{
					PackageName: "railway-lines",
					Title:       "Railway Lines",
					Resources: []Resource{
						{Format: "GeoJSON", URL: "https://example.com/railways.geojson"},
						{Format: "GPKG", URL: "https://example.com/railways.gpkg"},
					},
				},
				{
					PackageName: "national-parks",
					Title:       "National Parks",
					Resources: []Resource{
						{Format: "KML", URL: "https://example.com/parks.kml"},
					},
				},
			},
		},
		"default": {
			Datasets: []Dataset{
				{
					PackageName: "uk-wind",
					Title:       "UK Wind Constraints",
					Resources: []Resource{
						{Format: "Open Site Energy YML", URL: srv.URL + "/files/uk-wind.yml"},
					},
				},
				{
					PackageName: "uk-solar",
					Title:       "UK Solar Constraints",
					Resources: []Resource{
						{Format: "Open Site Energy YML", URL: srv.URL + "/files/uk-solar.yml"},
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong model\n%s", diff)
	}
}

func TestQueryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error": {"__type": "Authorization Error", "message": "Access denied"}}`)
	}))
	defer srv.Close()

	client := NewClient(context.Background(), srv.URL, nil)
	_, err := client.Query(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Access denied") {
		t.Errorf("error %q does not carry the catalogue message", err)
	}
}

func TestChoosePriorityResource(t *testing.T) {
	tests := []struct {
		name      string
		resources []Resource
		want      string // URL of the expected resource; "" means nil
	}{
		{
			"top priority wins over earlier lower priority",
			[]Resource{
				{Format: FormatGeoJSON, URL: "geojson"},
				{Format: FormatGPKG, URL: "gpkg"},
				{Format: FormatWFS, URL: "wfs"},
			},
			"gpkg",
		},
		{
			"wfs beats geojson",
			[]Resource{
				{Format: FormatGeoJSON, URL: "geojson"},
				{Format: FormatWFS, URL: "wfs"},
			},
			"wfs",
		},
		{
			"ties keep encounter order",
			[]Resource{
				{Format: FormatKML, URL: "first"},
				{Format: FormatKML, URL: "second"},
			},
			"first",
		},
		{
			"unknown formats are ignored",
			[]Resource{
				{Format: "CSV", URL: "csv"},
				{Format: FormatKML, URL: "kml"},
			},
			"kml",
		},
		{
			"no accepted format",
			[]Resource{
				{Format: "CSV", URL: "csv"},
			},
			"",
		},
		{
			"empty resource list",
			nil,
			"",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ChoosePriorityResource(test.resources, Formats)
			if test.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %q, got nil", test.want)
			}
			if got.URL != test.want {
				t.Errorf("chose %q; want %q", got.URL, test.want)
			}
		})
	}
}

func TestDownloadSites(t *testing.T) {
	srv := testCatalogueServer(t)
	client := NewClient(context.Background(), srv.URL, nil)
	dir := t.TempDir()

	files, err := client.DownloadSites(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	want := []string{
		filepath.Join(dir, "uk-solar.yml"),
		filepath.Join(dir, "uk-wind.yml"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("wrong files\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "uk-wind.yml"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if got, want := string(data), "title: uk-wind\n"; got != want {
		t.Errorf("file content = %q; want %q", got, want)
	}
}

func TestDownloadSitesSelection(t *testing.T) {
	srv := testCatalogueServer(t)
	client := NewClient(context.Background(), srv.URL, nil)
	dir := t.TempDir()

	files, err := client.DownloadSites(context.Background(), dir, []string{"uk-solar"})
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	want := []string{filepath.Join(dir, "uk-solar.yml")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("wrong files\n%s", diff)
	}

	if _, err := client.DownloadSites(context.Background(), dir, []string{"no-such-site"}); err == nil {
		t.Fatal("expected error for unknown site, got nil")
	}
}
