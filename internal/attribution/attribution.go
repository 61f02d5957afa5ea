// Package attribution captures and persists the one-shot advertising click
// identifier from an inbound marketing URL. Every dispatch reads the session
// recorded here; a session without a click identifier is unattributed and
// must not produce outbound tracking calls.
package attribution

import (
	"context"
	"net/url"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/store"
)

// Storage keys. The values mirror the cookie names of the vendor's browser
// integration so operators can correlate across deployments.
const (
	keyClickID     = "kwai_clickid"
	keyPartnerCode = "kwai_mmpcode"
)

// DefaultPartnerCode is used when no partner code was captured.
const DefaultPartnerCode = "PL"

// SessionTTL bounds how long a captured attribution is honored.
const SessionTTL = 30 * 24 * time.Hour

// Accepted URL parameter names, in priority order.
var (
	clickIDParams     = []string{"clickid", "click_id", "kwai_clickid", "test_clickid"}
	partnerCodeParams = []string{"mmpcode", "mmp_code", "kwai_mmpcode"}
)

// Session is the attribution state every dispatch is enriched with.
type Session struct {
	ClickID     string `json:"clickid,omitempty"`
	PartnerCode string `json:"mmpcode"`
}

// Attributed reports whether the session carries a click identifier.
func (s Session) Attributed() bool { return s.ClickID != "" }

// Store captures, reads, and clears the attribution session against durable
// storage. A nil KV degrades every operation to a no-op; attribution failure
// must never take down the host.
type Store struct {
	kv store.KV
}

// NewStore creates an attribution store backed by kv. kv may be nil.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Capture inspects rawURL for a click identifier and partner code. On first
// sight both are persisted with a 30-day expiry and true is returned.
// First attribution wins: once a click identifier is stored, later captures
// with a different URL do not overwrite it. A URL without a click identifier
// never mutates stored state.
func (s *Store) Capture(ctx context.Context, rawURL string) (bool, error) {
	if s.kv == nil || rawURL == "" {
		return false, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn("attribution capture: unparseable URL", "error", err.Error())
		return false, nil
	}
	query := u.Query()

	clickID := firstParam(query, clickIDParams)
	if clickID == "" {
		return false, nil
	}

	if existing, ok, err := s.kv.Get(ctx, keyClickID); err != nil {
		return false, err
	} else if ok && existing != "" {
		if existing != clickID {
			logger.Debug("attribution capture: click identifier already set, keeping first",
				"clickid", existing)
		}
		return false, nil
	}

	partnerCode := firstParam(query, partnerCodeParams)
	if partnerCode == "" {
		partnerCode = DefaultPartnerCode
	}

	if err := s.kv.Set(ctx, keyClickID, clickID, SessionTTL); err != nil {
		return false, err
	}
	if err := s.kv.Set(ctx, keyPartnerCode, partnerCode, SessionTTL); err != nil {
		return false, err
	}

	logger.Info("attribution captured", "clickid", clickID, "mmpcode", partnerCode)
	return true, nil
}

// Read returns the current session. The partner code defaults to "PL" when
// absent; the click identifier stays empty for unattributed sessions.
func (s *Store) Read(ctx context.Context) Session {
	sess := Session{PartnerCode: DefaultPartnerCode}
	if s.kv == nil {
		return sess
	}
	if v, ok, err := s.kv.Get(ctx, keyClickID); err == nil && ok {
		sess.ClickID = v
	}
	if v, ok, err := s.kv.Get(ctx, keyPartnerCode); err == nil && ok && v != "" {
		sess.PartnerCode = v
	}
	return sess
}

// Clear removes both attribution fields. Not invoked in normal operation.
func (s *Store) Clear(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, keyClickID); err != nil {
		return err
	}
	return s.kv.Delete(ctx, keyPartnerCode)
}

func firstParam(query url.Values, names []string) string {
	for _, name := range names {
		if v := query.Get(name); v != "" {
			return v
		}
	}
	return ""
}
