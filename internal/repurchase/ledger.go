package repurchase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/store"
)

const (
	keyLastPurchaseAt    = "kwai_last_purchase_date"
	keyLastPurchaseValue = "kwai_last_purchase_value"
	keyEventsFired       = "kwai_repurchase_events_fired"
	keyLastCheck         = "kwai_last_repurchase_check"

	// DateLayout is the calendar-day format used for the daily scan marker.
	DateLayout = "2006-01-02"
)

// Ledger persists the purchase anchor and the fired-milestone record so
// follow-up events survive restarts and never double-fire. The fired record
// is append-only: each milestone fires at most once ever per profile, and
// normal operation never deletes a ledger field.
type Ledger struct {
	kv store.KV
}

// NewLedger creates a ledger on top of kv.
func NewLedger(kv store.KV) *Ledger {
	return &Ledger{kv: kv}
}

// RecordPurchase anchors the milestone clock at the given instant. A new
// purchase moves the anchor but leaves the fired record intact.
func (l *Ledger) RecordPurchase(ctx context.Context, at time.Time, value float64) error {
	if err := l.kv.Set(ctx, keyLastPurchaseAt, at.UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("record purchase time: %w", err)
	}
	if err := l.kv.Set(ctx, keyLastPurchaseValue, strconv.FormatFloat(value, 'f', 2, 64), 0); err != nil {
		return fmt.Errorf("record purchase value: %w", err)
	}
	return nil
}

// LastPurchase returns the recorded purchase anchor. ok is false when no
// purchase has ever been recorded.
func (l *Ledger) LastPurchase(ctx context.Context) (anchor time.Time, value float64, ok bool, err error) {
	raw, ok, err := l.kv.Get(ctx, keyLastPurchaseAt)
	if err != nil || !ok || raw == "" {
		return time.Time{}, 0, false, err
	}
	anchor, perr := time.Parse(time.RFC3339, raw)
	if perr != nil {
		return time.Time{}, 0, false, fmt.Errorf("parse purchase time %q: %w", raw, perr)
	}
	rawVal, has, err := l.kv.Get(ctx, keyLastPurchaseValue)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if has {
		value, _ = strconv.ParseFloat(rawVal, 64)
	}
	return anchor, value, true, nil
}

// MarkFired records a milestone as fired at the given instant. It returns
// true when this call won the record, false when the milestone had already
// fired.
func (l *Ledger) MarkFired(ctx context.Context, m Milestone, at time.Time) (bool, error) {
	fired, err := l.firedSet(ctx)
	if err != nil {
		return false, err
	}
	if _, done := fired[m.Key()]; done {
		return false, nil
	}
	fired[m.Key()] = at.UTC().Format(time.RFC3339)
	raw, err := json.Marshal(fired)
	if err != nil {
		return false, fmt.Errorf("marshal fired record: %w", err)
	}
	if err := l.kv.Set(ctx, keyEventsFired, string(raw), 0); err != nil {
		return false, fmt.Errorf("persist fired record: %w", err)
	}
	return true, nil
}

// Fired reports whether the milestone has already fired for this profile.
func (l *Ledger) Fired(ctx context.Context, m Milestone) (bool, error) {
	fired, err := l.firedSet(ctx)
	if err != nil {
		return false, err
	}
	_, done := fired[m.Key()]
	return done, nil
}

// LastChecked returns the calendar day of the most recent scan, empty when
// no scan has run yet.
func (l *Ledger) LastChecked(ctx context.Context) (string, error) {
	date, _, err := l.kv.Get(ctx, keyLastCheck)
	return date, err
}

// SetLastChecked records today as scanned.
func (l *Ledger) SetLastChecked(ctx context.Context, date string) error {
	return l.kv.Set(ctx, keyLastCheck, date, 0)
}

func (l *Ledger) firedSet(ctx context.Context) (map[string]string, error) {
	raw, ok, err := l.kv.Get(ctx, keyEventsFired)
	if err != nil {
		return nil, fmt.Errorf("read fired record: %w", err)
	}
	fired := map[string]string{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &fired); err != nil {
			// A corrupt record is treated as empty; milestones may re-fire
			// once but never loop.
			return map[string]string{}, nil
		}
	}
	return fired, nil
}
