// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	ctyyaml "github.com/zclconf/go-cty-yaml"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/httpclient"
	"github.com/openwindenergy/opensite/internal/siteconfig"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

func testParams(t *testing.T) *Params {
	t.Helper()
	cfg := &siteconfig.Config{
		FS:          afero.Afero{Fs: afero.NewOsFs()},
		BuildFolder: t.TempDir(),
	}
	if err := cfg.EnsureFolders(); err != nil {
		t.Fatalf("err: %s", err)
	}
	return &Params{
		Config:   cfg,
		Metadata: NewMetadata(),
		HTTP:     httpclient.NewRetryable(context.Background(), 1, 0),
	}
}

func TestDownload(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("spatial payload"))
	}))
	defer ts.Close()

	p := testParams(t)
	node := &sitegraph.Node{
		Name:   "public-roads",
		Action: sitegraph.ActionDownload,
		Format: catalogue.FormatGPKG,
		Input:  ts.URL,
		Output: "public-roads.gpkg",
	}

	if err := runDownload(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}

	dest := filepath.Join(p.Config.DownloadsDir(), "public-roads.gpkg")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if string(data) != "spatial payload" {
		t.Errorf("downloaded %q", data)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp shadow %s.tmp left behind", dest)
	}

	// A second run reuses the existing file.
	if err := runDownload(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}
	if hits != 1 {
		t.Errorf("server hit %d times; want 1", hits)
	}

	// Overwrite forces a refetch.
	p.Overwrite = true
	if err := runDownload(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}
	if hits != 2 {
		t.Errorf("server hit %d times; want 2 with overwrite", hits)
	}
}

func TestDownloadMappingConfigIsAlwaysFetched(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("roads:\n  types:\n    - lines\n"))
	}))
	defer ts.Close()

	p := testParams(t)
	node := &sitegraph.Node{
		Name:   "public-roads",
		Action: sitegraph.ActionDownload,
		Format: catalogue.FormatOSMExportYML,
		Input:  ts.URL,
		Output: "public-roads.yml",
	}

	for i := 0; i < 2; i++ {
		if err := runDownload(context.Background(), p, node); err != nil {
			t.Fatalf("err: %s", err)
		}
	}
	if hits != 2 {
		t.Errorf("server hit %d times; want 2, mapping configs are never cached", hits)
	}

	// Mapping configs live in the OSM downloads folder.
	if _, err := os.Stat(filepath.Join(p.Config.OSMDownloadsDir(), "public-roads.yml")); err != nil {
		t.Errorf("err: %s", err)
	}
}

func TestDownloadServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	p := testParams(t)
	node := &sitegraph.Node{
		Name:   "missing",
		Action: sitegraph.ActionDownload,
		Format: catalogue.FormatGPKG,
		Input:  ts.URL,
		Output: "missing.gpkg",
	}
	if err := runDownload(context.Background(), p, node); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if _, err := os.Stat(filepath.Join(p.Config.DownloadsDir(), "missing.gpkg")); !os.IsNotExist(err) {
		t.Error("failed download left an output file behind")
	}
}

func TestProbeSize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "HEAD" {
			t.Errorf("probe used %s; want HEAD", r.Method)
		}
		switch r.URL.Path {
		case "/sized":
			w.Header().Set("Content-Length", "123456")
		case "/unsized":
		}
	}))
	defer ts.Close()

	p := testParams(t)

	n, err := ProbeSize(context.Background(), p, ts.URL+"/sized")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if n != 123456 {
		t.Errorf("size = %d; want 123456", n)
	}

	n, err = ProbeSize(context.Background(), p, ts.URL+"/unsized")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if n != -1 {
		t.Errorf("size = %d; want -1 when the server will not say", n)
	}
}

func writeTestZip(t *testing.T, dest string, files map[string]string) {
	t.Helper()
	f, err := os.Create(dest)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("err: %s", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func TestUnzip(t *testing.T) {
	p := testParams(t)
	archive := filepath.Join(p.Config.DownloadsDir(), "railway-lines.gpkg.zip")
	writeTestZip(t, archive, map[string]string{
		"readme.txt":          "metadata sidecar",
		"sample/small.gpkg":   "tiny",
		"data/railways.GPKG":  strings.Repeat("x", 4096),
		"data/secondary.gpkg": strings.Repeat("y", 64),
	})

	node := &sitegraph.Node{
		Name:   "railway-lines",
		Action: sitegraph.ActionUnzip,
		Format: catalogue.FormatGPKG,
		Input:  "railway-lines.gpkg.zip",
		Output: "railway-lines.gpkg",
	}
	if err := runUnzip(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}

	dest := filepath.Join(p.Config.DownloadsDir(), "railway-lines.gpkg")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if len(data) != 4096 {
		t.Errorf("extracted %d bytes; want the 4096-byte payload", len(data))
	}
	if _, err := os.Stat(dest + ".extract"); !os.IsNotExist(err) {
		t.Error("extraction work dir left behind")
	}

	// A dest newer than its archive short-circuits extraction.
	if err := os.WriteFile(dest, []byte("already current"), 0644); err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := runUnzip(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}
	data, err = os.ReadFile(dest)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if string(data) != "already current" {
		t.Error("up-to-date output was re-extracted")
	}
}

func TestUnzipMissingPayload(t *testing.T) {
	p := testParams(t)
	archive := filepath.Join(p.Config.DownloadsDir(), "empty.gpkg.zip")
	writeTestZip(t, archive, map[string]string{"readme.txt": "no spatial data here"})

	node := &sitegraph.Node{
		Name:   "empty",
		Action: sitegraph.ActionUnzip,
		Format: catalogue.FormatGPKG,
		Input:  "empty.gpkg.zip",
		Output: "empty.gpkg",
	}
	err := runUnzip(context.Background(), p, node)
	if err == nil || !strings.Contains(err.Error(), "no .gpkg file") {
		t.Fatalf("err: %v; want missing payload error", err)
	}
}

func TestConcatenate(t *testing.T) {
	p := testParams(t)
	configs := map[string]string{
		"hedgerows.yml":    "hedges:\n  types:\n    - lines\nshared: from-hedgerows\n",
		"public-roads.yml": "roads:\n  types:\n    - lines\nshared: from-roads\n",
	}
	for name, content := range configs {
		path := filepath.Join(p.Config.OSMDownloadsDir(), name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("err: %s", err)
		}
	}

	node := &sitegraph.Node{
		Name:      "osm-consolidator--test",
		Action:    sitegraph.ActionConcatenate,
		GlobalURN: 7,
		Inputs:    []string{"hedgerows.yml", "public-roads.yml"},
	}
	node.SetProperty(sitegraph.PropOSM, cty.StringVal("https://download.example.com/gb.osm.pbf"))

	if err := runConcatenate(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}

	if !strings.HasPrefix(filepath.Base(node.Output), "osm_config_") {
		t.Errorf("merged config named %q", node.Output)
	}
	published, ok := p.Metadata.Resolve(sitegraph.GlobalOutputKey(7))
	if !ok || published != node.Output {
		t.Errorf("published %q, %v; want the merged config path", published, ok)
	}

	data, err := os.ReadFile(node.Output)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	ty, err := ctyyaml.ImpliedType(data)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	v, err := ctyyaml.Unmarshal(data, ty)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	merged := v.AsValueMap()
	for _, key := range []string{"hedges", "roads", "shared"} {
		if _, ok := merged[key]; !ok {
			t.Errorf("merged config is missing %q", key)
		}
	}
	// Inputs are sorted, so the later config wins the shared key.
	if shared := merged["shared"]; shared.Type() != cty.String || shared.AsString() != "from-roads" {
		t.Errorf("shared key = %#v; want the last definition", shared)
	}
}

func TestConcatenateStableName(t *testing.T) {
	p := testParams(t)
	path := filepath.Join(p.Config.OSMDownloadsDir(), "roads.yml")
	if err := os.WriteFile(path, []byte("roads:\n  types:\n    - lines\n"), 0644); err != nil {
		t.Fatalf("err: %s", err)
	}

	run := func(osmURL string) string {
		node := &sitegraph.Node{
			Name:   "osm-consolidator--test",
			Action: sitegraph.ActionConcatenate,
			Inputs: []string{"roads.yml"},
		}
		node.SetProperty(sitegraph.PropOSM, cty.StringVal(osmURL))
		if err := runConcatenate(context.Background(), p, node); err != nil {
			t.Fatalf("err: %s", err)
		}
		return node.Output
	}

	a := run("https://download.example.com/gb.osm.pbf")
	if b := run("https://download.example.com/gb.osm.pbf"); b != a {
		t.Errorf("same content and extract produced %q and %q", a, b)
	}
	// A different extract must produce a distinct config even with
	// identical mapping content.
	if c := run("https://download.example.com/ni.osm.pbf"); c == a {
		t.Error("different extracts share a merged config name")
	}
}

func TestExportTool(t *testing.T) {
	p := testParams(t)

	mapping := filepath.Join(p.Config.OSMDownloadsDir(), "osm_config_test.yml")
	if err := os.WriteFile(mapping, []byte("roads:\n  types:\n    - lines\n"), 0644); err != nil {
		t.Fatalf("err: %s", err)
	}
	extract := filepath.Join(p.Config.OSMDownloadsDir(), "gb.osm.pbf")
	if err := os.WriteFile(extract, []byte("pbf"), 0644); err != nil {
		t.Fatalf("err: %s", err)
	}

	// Stand-in for osm-export-tool: writes the gpkg the runner expects.
	tool := filepath.Join(t.TempDir(), "fake-export-tool")
	script := "#!/bin/sh\nprintf 'gpkg-payload' > \"$4.gpkg\"\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatalf("err: %s", err)
	}
	orig := OSMExportToolPath
	OSMExportToolPath = tool
	defer func() { OSMExportToolPath = orig }()

	node := &sitegraph.Node{
		Name:      "osm-runner--test",
		Action:    sitegraph.ActionRun,
		GlobalURN: 9,
		Input:     sitegraph.GlobalOutputKey(3),
	}
	node.SetProperty(sitegraph.PropOSM, cty.StringVal("https://download.example.com/gb.osm.pbf"))
	p.Metadata.PublishOutput(&sitegraph.Node{GlobalURN: 3}, mapping)

	if err := runExportTool(context.Background(), p, node); err != nil {
		t.Fatalf("err: %s", err)
	}

	want := strings.TrimSuffix(mapping, ".yml") + ".gpkg"
	if node.Output != want {
		t.Errorf("output = %q; want %q", node.Output, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if string(data) != "gpkg-payload" {
		t.Errorf("gpkg content = %q", data)
	}
	if published, ok := p.Metadata.Resolve(sitegraph.GlobalOutputKey(9)); !ok || published != want {
		t.Errorf("published %q, %v", published, ok)
	}
}

func TestExportToolFailure(t *testing.T) {
	p := testParams(t)
	mapping := filepath.Join(p.Config.OSMDownloadsDir(), "osm_config_bad.yml")
	if err := os.WriteFile(mapping, []byte("roads: {}\n"), 0644); err != nil {
		t.Fatalf("err: %s", err)
	}

	tool := filepath.Join(t.TempDir(), "fake-export-tool")
	script := "#!/bin/sh\necho 'mapping rejected' >&2\nexit 3\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatalf("err: %s", err)
	}
	orig := OSMExportToolPath
	OSMExportToolPath = tool
	defer func() { OSMExportToolPath = orig }()

	node := &sitegraph.Node{
		Name:   "osm-runner--bad",
		Action: sitegraph.ActionRun,
		Input:  mapping,
	}
	node.SetProperty(sitegraph.PropOSM, cty.StringVal("https://download.example.com/gb.osm.pbf"))

	err := runExportTool(context.Background(), p, node)
	if err == nil || !strings.Contains(err.Error(), "mapping rejected") {
		t.Fatalf("err: %v; want tool output in the error", err)
	}
}

func TestMetadataResolve(t *testing.T) {
	m := NewMetadata()

	// Literal inputs pass straight through.
	if v, ok := m.Resolve("opensite_abc123"); !ok || v != "opensite_abc123" {
		t.Errorf("Resolve(literal) = %q, %v", v, ok)
	}

	key := sitegraph.GlobalOutputKey(42)
	if _, ok := m.Resolve(key); ok {
		t.Error("unpublished key resolved")
	}

	node := &sitegraph.Node{GlobalURN: 42}
	m.PublishOutput(node, "/build/downloads/osm/merged.yml")
	if node.Output != "/build/downloads/osm/merged.yml" {
		t.Errorf("node output = %q", node.Output)
	}
	if v, ok := m.Resolve(key); !ok || v != "/build/downloads/osm/merged.yml" {
		t.Errorf("Resolve(%s) = %q, %v", key, v, ok)
	}
}

func TestDownloadPath(t *testing.T) {
	p := testParams(t)
	tests := []struct {
		format string
		osm    bool
	}{
		{catalogue.FormatGPKG, false},
		{catalogue.FormatGeoJSON, false},
		{catalogue.FormatOSM, true},
		{catalogue.FormatOSMExportYML, true},
	}
	for _, test := range tests {
		got := p.downloadPath(test.format, "f.dat")
		want := filepath.Join(p.Config.DownloadsDir(), "f.dat")
		if test.osm {
			want = filepath.Join(p.Config.OSMDownloadsDir(), "f.dat")
		}
		if got != want {
			t.Errorf("downloadPath(%q) = %q; want %q", test.format, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, test := range tests {
		if got := formatBytes(test.n); got != test.want {
			t.Errorf("formatBytes(%d) = %q; want %q", test.n, got, test.want)
		}
	}
}

func TestOutputNodeNameParts(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		layer  string
	}{
		{"uk-wind--railway-lines", "uk-wind", "railway-lines"},
		{"uk-wind--national-parks--england", "uk-wind", "national-parks--england"},
		{"railway-lines", "railway-lines", "railway-lines"},
	}
	for _, test := range tests {
		if got := branchOf(test.name); got != test.branch {
			t.Errorf("branchOf(%q) = %q; want %q", test.name, got, test.branch)
		}
		if got := layerOf(test.name); got != test.layer {
			t.Errorf("layerOf(%q) = %q; want %q", test.name, got, test.layer)
		}
	}
}
