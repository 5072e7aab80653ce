// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// serve runs the long-lived introspection listener: the build graph as
// JSON, the processing state flags, and the generated output files.
// Authentication and UI live in front of this process; the secret key
// is ensured here so they can find it in the build root.
func (a *App) serve(ctx context.Context) error {
	if _, err := a.Config.EnsureSecretKey(); err != nil {
		return err
	}

	g, err := a.buildGraph(ctx, nil)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/graph", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, graphJSON(g))
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		state, err := a.Config.ReadProcessingState()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, state)
	})
	mux.Handle("/downloads/", http.StripPrefix("/downloads/",
		http.FileServer(http.Dir(a.Config.OutputDir()))))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Options.ServerPort),
		Handler: otelhttp.NewHandler(mux, "opensite-server"),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] command: serving on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("[WARN] command: writing response: %s", err)
	}
}

// nodeJSON is the introspection rendering of one graph node.
type nodeJSON struct {
	URN       int        `json:"urn"`
	GlobalURN int        `json:"global_urn"`
	Name      string     `json:"name"`
	Title     string     `json:"title,omitempty"`
	Type      string     `json:"type,omitempty"`
	Action    string     `json:"action,omitempty"`
	Format    string     `json:"format,omitempty"`
	Input     string     `json:"input,omitempty"`
	Output    string     `json:"output,omitempty"`
	Status    string     `json:"status"`
	Children  []nodeJSON `json:"children,omitempty"`
}

func graphJSON(g *sitegraph.Graph) nodeJSON {
	return nodeToJSON(g.Root)
}

func nodeToJSON(n *sitegraph.Node) nodeJSON {
	out := nodeJSON{
		URN:       n.URN,
		GlobalURN: n.GlobalURN,
		Name:      n.Name,
		Title:     n.Title,
		Type:      string(n.Type),
		Action:    string(n.Action),
		Format:    n.Format,
		Input:     n.Input,
		Output:    n.Output,
		Status:    string(n.Status),
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, nodeToJSON(c))
	}
	return out
}
