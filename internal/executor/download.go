// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/sitegraph"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// progressInterval is the minimum spacing of download progress lines.
const progressInterval = 10 * time.Second

// runDownload fetches a node's URL to its output file. The transfer
// lands in a .tmp shadow that is renamed over the final name only once
// the body is fully read, so a crash never leaves a plausible-looking
// partial file behind.
func runDownload(ctx context.Context, p *Params, node *sitegraph.Node) error {
	dest := p.downloadPath(node.Format, node.Output)

	if !p.Overwrite && !alwaysDownload(node.Format) {
		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			log.Printf("[DEBUG] executor: reusing existing download %s", dest)
			return nil
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", node.Input, nil)
	if err != nil {
		return fmt.Errorf("building request for %q: %w", node.Input, err)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", node.Input, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %q: %s", node.Input, resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	written, err := copyWithProgress(ctx, f, resp.Body, node.Name, resp.ContentLength)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("downloading %q: %w", node.Input, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	tracing.SpanFromContext(ctx).SetAttributes(
		traceattrs.URLFull(node.Input),
		traceattrs.FilePath(dest),
		traceattrs.FileSize(int(written)),
	)
	log.Printf("[DEBUG] executor: downloaded %s (%s)", dest, formatBytes(written))
	return nil
}

func alwaysDownload(format string) bool {
	for _, f := range catalogue.AlwaysDownload {
		if f == format {
			return true
		}
	}
	return false
}

// copyWithProgress copies src to dst, logging transfer progress at
// most once per progressInterval and honouring context cancellation
// between chunks.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, name string, total int64) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if time.Since(lastReport) >= progressInterval {
			if total > 0 {
				log.Printf("[INFO] executor: downloading %s: %s of %s (%d%%)",
					name, formatBytes(written), formatBytes(total), written*100/total)
			} else {
				log.Printf("[INFO] executor: downloading %s: %s", name, formatBytes(written))
			}
			lastReport = time.Now()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ProbeSize asks the server for a resource's transfer size without
// fetching it. Identity encoding is requested so the answer matches
// the bytes a real download moves. Returns -1 when the server will not
// say.
func ProbeSize(ctx context.Context, p *Params, rawURL string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "HEAD", rawURL, nil)
	if err != nil {
		return -1, err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("probing %q: %s", rawURL, resp.Status)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n, nil
		}
	}
	return -1, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
