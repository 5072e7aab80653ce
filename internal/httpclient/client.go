// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"context"
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/openwindenergy/opensite/version"
)

// New returns the DefaultPooledClient from the cleanhttp
// package that will also send an opensite User-Agent string.
//
// If the given context has an active OpenTelemetry trace span associated with
// it then the returned client is also configured to collect traces for
// outgoing requests. However, those traces will be children of the span
// associated with the context passed _in each individual request_, rather
// than of the span in the context passed to this function; this function
// only checks for the presence of any span as a heuristic for whether the
// caller is in a part of the codebase that has OpenTelemetry plumbing in
// place, and does not actually make use of any information from that span.
func New(ctx context.Context) *http.Client {
	cli := cleanhttp.DefaultPooledClient()
	cli.Transport = &userAgentRoundTripper{
		userAgent: UserAgent(version.Version),
		inner:     cli.Transport,
	}

	if span := otelTrace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		// The presence of an active span is sufficient signal that
		// generating spans for requests made with the returned client will
		// be useful. Doing it unconditionally would begin a separate trace
		// for each request made without an active trace context, which is
		// just noise for whoever is consuming the traces.
		cli.Transport = otelhttp.NewTransport(cli.Transport)
	}

	return cli
}
