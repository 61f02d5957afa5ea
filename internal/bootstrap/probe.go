package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httpretry"
	"github.com/betlabs/kwai-pipeline/internal/registry"
)

// SDKProbe checks readiness by fetching the vendor's per-pixel SDK endpoint,
// the same URL the browser loader would inject.
type SDKProbe struct {
	http    httpretry.HTTPDoer
	baseURL string
}

// NewSDKProbe creates a probe against the vendor SDK base URL.
func NewSDKProbe(client httpretry.HTTPDoer, baseURL string) *SDKProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &SDKProbe{http: client, baseURL: baseURL}
}

func (p *SDKProbe) Probe(ctx context.Context, dest registry.Destination) error {
	url := fmt.Sprintf("%s?sdkid=%s&lib=kwaiq", p.baseURL, dest.PublicID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sdk endpoint status %d", resp.StatusCode)
	}
	return nil
}
