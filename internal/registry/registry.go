// Package registry resolves the set of configured tracking destinations.
//
// Resolution priority: a single test destination supplied via URL parameters,
// then the remote settings endpoint, then a previously cached copy in durable
// storage. Misconfiguration is reported through sentinel errors so the host
// can degrade silently instead of crashing.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httpretry"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/store"
)

// Sentinel errors distinguishing "nothing configured" from "could not ask".
var (
	// ErrNoDestinations means the configuration source answered but holds no
	// usable destination.
	ErrNoDestinations = errors.New("no tracking destinations configured")
	// ErrConfigFetch means the remote configuration source was unreachable
	// and no cached copy exists.
	ErrConfigFetch = errors.New("destination configuration fetch failed")
)

const cacheKey = "kwai_pixel_cache"

// URL parameter names accepting a destination override, in priority order.
var overrideParams = []string{"kpid", "kwai_pixel", "pixel_id"}

// Destination is one configured tracking endpoint. Secret is the server-side
// credential; it is excluded from JSON so no browser-visible copy ever
// carries it.
type Destination struct {
	DestinationID string `json:"id"`
	PublicID      string `json:"pixelId"`
	Secret        string `json:"-"`
	DisplayName   string `json:"name,omitempty"`
	Active        bool   `json:"isActive"`
}

// Usable reports whether the destination can receive dispatches at all.
func (d Destination) Usable() bool { return d.PublicID != "" }

// Relayable reports whether the server relay holds a credential for it.
func (d Destination) Relayable() bool { return d.Usable() && d.Secret != "" }

// settingsEntry is the remote settings endpoint's wire shape, which does
// carry the credential (the endpoint is only reachable server-side).
type settingsEntry struct {
	ID          string `json:"id"`
	PixelID     string `json:"pixelId"`
	AccessToken string `json:"accessToken"`
	Name        string `json:"name"`
	IsActive    *bool  `json:"isActive"`
}

type settingsResponse struct {
	Status bool            `json:"status"`
	Data   []settingsEntry `json:"data"`
}

// Registry loads and caches the destination set for the session.
type Registry struct {
	kv          store.KV
	http        httpretry.HTTPDoer
	settingsURL string
	cacheTTL    time.Duration
}

// New creates a Registry. kv may be nil (no caching), settingsURL may be
// empty (no remote source; only URL overrides and cache can resolve).
func New(kv store.KV, client httpretry.HTTPDoer, settingsURL string, cacheTTL time.Duration) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Registry{kv: kv, http: client, settingsURL: settingsURL, cacheTTL: cacheTTL}
}

// Load resolves the destination set. pageURL is the inbound landing URL; if
// it names a pixel via kpid/kwai_pixel/pixel_id, that single ad-hoc
// destination takes priority over everything else (test mode).
func (r *Registry) Load(ctx context.Context, pageURL string) ([]Destination, error) {
	if d, ok := overrideFromURL(pageURL); ok {
		logger.Info("using destination override from URL", "pixel_id", d.PublicID)
		return []Destination{d}, nil
	}

	dests, fetchErr := r.fetchRemote(ctx)
	if fetchErr == nil && len(dests) > 0 {
		r.writeCache(ctx, dests)
		return dests, nil
	}

	if cached, ok := r.readCache(ctx); ok {
		if fetchErr != nil {
			logger.Warn("settings fetch failed, using cached destinations",
				"error", fetchErr.Error(), "count", len(cached))
		}
		return cached, nil
	}

	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, fetchErr)
	}
	return nil, ErrNoDestinations
}

// fetchRemote retrieves and filters the remote destination list. Entries
// without both a public id and a credential are dropped; inactive entries
// are kept but flagged so dispatch can skip them.
func (r *Registry) fetchRemote(ctx context.Context) ([]Destination, error) {
	if r.settingsURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.settingsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build settings request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settings request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read settings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settings endpoint status %d", resp.StatusCode)
	}

	var parsed settingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse settings response: %w", err)
	}
	if !parsed.Status {
		return nil, nil
	}

	var dests []Destination
	for _, e := range parsed.Data {
		d := Destination{
			DestinationID: e.ID,
			PublicID:      e.PixelID,
			Secret:        e.AccessToken,
			DisplayName:   e.Name,
			Active:        e.IsActive == nil || *e.IsActive,
		}
		if !d.Relayable() {
			continue
		}
		dests = append(dests, d)
	}
	return dests, nil
}

// cachedDestination is the durable-storage shape; unlike the public JSON
// form it must round-trip the credential, which is exactly the stale-secret
// risk the cache TTL bounds.
type cachedDestination struct {
	DestinationID string `json:"id"`
	PublicID      string `json:"pixelId"`
	Secret        string `json:"accessToken"`
	DisplayName   string `json:"name,omitempty"`
	Active        bool   `json:"isActive"`
}

func (r *Registry) writeCache(ctx context.Context, dests []Destination) {
	if r.kv == nil {
		return
	}
	cached := make([]cachedDestination, len(dests))
	for i, d := range dests {
		cached[i] = cachedDestination(d)
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, cacheKey, string(raw), r.cacheTTL); err != nil {
		logger.Warn("destination cache write failed", "error", err.Error())
	}
}

func (r *Registry) readCache(ctx context.Context) ([]Destination, bool) {
	if r.kv == nil {
		return nil, false
	}
	raw, ok, err := r.kv.Get(ctx, cacheKey)
	if err != nil || !ok {
		return nil, false
	}
	var cached []cachedDestination
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false
	}
	if len(cached) == 0 {
		return nil, false
	}
	dests := make([]Destination, len(cached))
	for i, c := range cached {
		dests[i] = Destination(c)
	}
	return dests, true
}

// overrideFromURL extracts an ad-hoc test destination from the landing URL.
func overrideFromURL(pageURL string) (Destination, bool) {
	if pageURL == "" {
		return Destination{}, false
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return Destination{}, false
	}
	query := u.Query()
	for _, name := range overrideParams {
		if v := query.Get(name); v != "" {
			return Destination{
				DestinationID: "url-override",
				PublicID:      v,
				DisplayName:   "URL override",
				Active:        true,
			}, true
		}
	}
	return Destination{}, false
}

// DebugEnabled reports whether the landing URL requests debug diagnostics.
func DebugEnabled(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return u.Query().Get("debug") == "true"
}
