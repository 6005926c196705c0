// Package httpretry provides an HTTP client that retries idempotent requests
// with exponential backoff and full jitter.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a RetryClient. Zero values take the defaults noted per field.
type Options struct {
	MaxRetries int           // default 3
	BaseDelay  time.Duration // default 500ms
	MaxDelay   time.Duration // default 10s
	MinDelay   time.Duration // default 50ms
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client HTTPDoer
	opts   Options
	log    *logger.Logger
}

// New creates a RetryClient around client. A nil client gets a default
// http.Client with a 15s timeout.
func New(client HTTPDoer, opts Options) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = 50 * time.Millisecond
	}
	return &RetryClient{client: client, opts: opts, log: logger.With("component", "httpretry")}
}

// Do executes the request, retrying GET/HEAD/OPTIONS on transport errors and
// retryable status codes (429, 500, 502, 503, 504). Other methods are sent once.
// On the final attempt the response is returned as-is so the caller can
// inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	if !idempotent(req.Method) {
		return rc.client.Do(req)
	}

	var lastErr error
	for attempt := 0; attempt <= rc.opts.MaxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			delay := rc.delay(attempt)
			rc.log.Warn("retrying request", "attempt", attempt, "max", rc.opts.MaxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == rc.opts.MaxRetries {
			return resp, nil
		}

		// drain for connection reuse
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is random(0, min(MaxDelay, BaseDelay * 2^(attempt-1))), floored at MinDelay.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := float64(rc.opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.opts.MaxDelay) {
		exp = float64(rc.opts.MaxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < rc.opts.MinDelay {
		d = rc.opts.MinDelay
	}
	return d
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
