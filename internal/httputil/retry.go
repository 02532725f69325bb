// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the retrying HTTP call shared by the research
// backends.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/logging"
)

// RetryBaseDelay controls the base duration for exponential backoff.
// Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// MaxRetryAfter caps a server-supplied Retry-After delay.
var MaxRetryAfter = 30 * time.Second

const defaultMaxRetries = 3

// Retryable reports whether a response status is worth another attempt:
// 429 Too Many Requests and 503 Service Unavailable.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// DoWithRetry executes req and retries retryable statuses with exponential
// backoff starting at RetryBaseDelay. A Retry-After header given in seconds
// replaces the computed delay, capped at MaxRetryAfter.
//
// When maxRetries is 0 the default (3) is used. Before each retry the body
// is drained and closed. A context cancelled during a wait returns
// ctx.Err(). After exhausting retries the last response is returned so the
// caller can inspect its status. Retry notices go to logger, which may be
// nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int, logger *log.Logger) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	logger = logging.OrDiscard(logger)

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			backoff = d
		}
		logger.Debug("retrying", "host", req.URL.Host, "status", resp.StatusCode,
			"wait", backoff, "attempt", attempt+1, "max", maxRetries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, MaxRetryAfter), true
}
