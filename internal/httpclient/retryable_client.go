// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openwindenergy/opensite/internal/logging"
)

// NewRetryable is a variant of [New] for requests that should be retried
// automatically on transient failure: catalogue queries and datasource
// downloads. Remote servers for public spatial data are often flaky, and a
// failed node blocks everything above it in the build graph, so a little
// client-side persistence pays for itself.
//
// The retryCount argument specifies how many times requests from the
// resulting client should be automatically retried when certain transient
// errors occur.
//
// The timeout argument specifies a deadline for the completion of each
// request made using the client. A zero timeout disables the deadline, which
// is the right choice for multi-gigabyte datasource downloads.
func NewRetryable(ctx context.Context, retryCount int, timeout time.Duration) *retryablehttp.Client {
	// We'll start with the result of New, so that what we return still
	// honors our general policy for HTTP client behavior.
	baseClient := New(ctx)
	baseClient.Timeout = timeout

	retryableClient := retryablehttp.NewClient()
	retryableClient.HTTPClient = baseClient
	retryableClient.RetryMax = retryCount
	retryableClient.RequestLogHook = requestLogHook
	retryableClient.ErrorHandler = maxRetryErrorHandler
	retryableClient.Logger = logging.HCLogger()

	return retryableClient
}

func requestLogHook(logger retryablehttp.Logger, req *http.Request, i int) {
	if i > 0 {
		logger.Printf("[INFO] Failed request to %s; retrying", req.URL.String())
	}
}

func maxRetryErrorHandler(resp *http.Response, err error, numTries int) (*http.Response, error) {
	// Close the body per library instructions
	if resp != nil {
		resp.Body.Close()
	}

	// Additional error detail: if we have a response, use the status code;
	// if we have an error, use that; otherwise nothing. We will never have
	// both response and error.
	var errMsg string
	if resp != nil {
		errMsg = fmt.Sprintf(": %s returned from %s", resp.Status, resp.Request.URL)
	} else if err != nil {
		errMsg = fmt.Sprintf(": %s", err)
	}

	// This function is always called with numTries=RetryMax+1. If we made any
	// retry attempts, include that in the error message.
	if numTries > 1 {
		return resp, fmt.Errorf("request failed after %d attempts%s",
			numTries, errMsg)
	}
	return resp, fmt.Errorf("request failed%s", errMsg)
}
