package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httpretry"
)

// ErrVendorUnreachable wraps transport-level failures after retries are
// exhausted; the handler maps it to a 500.
var ErrVendorUnreachable = errors.New("vendor API unreachable")

// VendorClient performs the outbound call to the upstream Kwai API.
type VendorClient struct {
	apiURL  string
	http    httpretry.HTTPDoer
	timeout time.Duration
}

// NewVendorClient creates a vendor client with the contract's resilience
// settings: a hard per-attempt timeout and bounded retry with deterministic
// backoff (1s, then 2s) on network-level failure only.
func NewVendorClient(apiURL string, timeout time.Duration, maxRetries int) *VendorClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VendorClient{
		apiURL: apiURL,
		http: httpretry.NewRetryClient(&http.Client{
			// Per-attempt transport timeout; a hanging attempt aborts and
			// the retry schedule continues.
			Timeout: timeout,
		}, maxRetries, time.Second),
		timeout: timeout,
	}
}

// SetHTTPClient swaps the underlying HTTP client (tests).
func (c *VendorClient) SetHTTPClient(client httpretry.HTTPDoer) {
	c.http = client
}

// Send forwards the payload to the vendor API and decodes its response.
// A non-nil error means the vendor could not be reached at all; a decoded
// VendorResponse with a rejecting result code is NOT an error here — the
// caller classifies it.
func (c *VendorClient) Send(ctx context.Context, payload VendorPayload) (VendorResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return VendorResponse{}, fmt.Errorf("marshal vendor payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return VendorResponse{}, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accept", "application/json;charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return VendorResponse{}, fmt.Errorf("%w: %v", ErrVendorUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return VendorResponse{}, fmt.Errorf("%w: read response: %v", ErrVendorUnreachable, err)
	}

	var vr VendorResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return VendorResponse{}, fmt.Errorf("%w: malformed response: %v", ErrVendorUnreachable, err)
	}
	return vr, nil
}
