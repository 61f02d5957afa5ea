package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httpretry"
)

// Client is the pipeline-side client for the relay service. It exposes the
// two vendor verbs as distinct calls so the contentView quirk stays visible
// at every layer.
type Client struct {
	baseURL string
	http    httpretry.HTTPDoer
}

// NewClient creates a relay client against baseURL.
func NewClient(baseURL string, client httpretry.HTTPDoer) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: client}
}

// Track sends an event through the generic "track" vendor verb.
func (c *Client) Track(ctx context.Context, req TrackRequest) (TrackResponse, error) {
	req.Verb = VerbTrack
	return c.post(ctx, req)
}

// Page sends a content view through the distinct "page" vendor verb.
func (c *Client) Page(ctx context.Context, req TrackRequest) (TrackResponse, error) {
	req.Verb = VerbPage
	return c.post(ctx, req)
}

func (c *Client) post(ctx context.Context, treq TrackRequest) (TrackResponse, error) {
	body, err := json.Marshal(treq)
	if err != nil {
		return TrackResponse{}, fmt.Errorf("marshal track request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kwai-track", bytes.NewReader(body))
	if err != nil {
		return TrackResponse{}, fmt.Errorf("build track request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return TrackResponse{}, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TrackResponse{}, fmt.Errorf("read relay response: %w", err)
	}

	var tr TrackResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return TrackResponse{}, fmt.Errorf("parse relay response (status %d): %w", resp.StatusCode, err)
	}
	// Rejections arrive as well-formed envelopes with Success=false; that is
	// a result, not a transport error.
	return tr, nil
}
