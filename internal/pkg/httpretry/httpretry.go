// Package httpretry provides an HTTP client with bounded retry and
// deterministic exponential backoff for calls to the vendor tracking API.
//
// The vendor contract fixes the retry schedule (1s, then 2s, then give up),
// so unlike a general-purpose retry client there is no jitter: tests and
// operators can rely on the exact attempt count and delays.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with bounded retry on network-level failures
// and transient server errors. A well-formed vendor response (any 2xx/4xx) is
// returned immediately and never retried — retrying a well-formed rejection
// cannot change the outcome.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
}

// NewRetryClient creates a RetryClient around client. maxRetries is the
// number of retry attempts after the initial request; the total attempt
// count is maxRetries+1. Delay before retry n is baseDelay * 2^(n-1).
func NewRetryClient(client HTTPDoer, maxRetries int, baseDelay time.Duration) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryClient{client: client, maxRetries: maxRetries, baseDelay: baseDelay}
}

// Do executes the request, retrying on transport errors and retryable status
// codes (502, 503, 504). Context cancellation aborts immediately, including
// mid-backoff, so the caller's deadline bounds the whole retry sequence.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			logger.Warn("retrying upstream request",
				"attempt", attempt, "max_retries", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "delay", delay.String())

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

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == rc.maxRetries {
			// Last attempt: hand the response back so the caller can
			// read the body and classify the failure.
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: upstream returned status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay returns the deterministic backoff before retry attempt n (1-based):
// baseDelay, 2*baseDelay, 4*baseDelay, ...
func (rc *RetryClient) delay(attempt int) time.Duration {
	return rc.baseDelay << (attempt - 1)
}

// retryableStatus reports whether the status code indicates the upstream was
// unreachable in a transient way. 4xx vendor rejections are well-formed
// responses and are never retried.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
