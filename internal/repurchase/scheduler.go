package repurchase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
)

// EventTracker fires a repurchase follow-up event. The dispatch layer
// implements it; the indirection keeps this package free of transport
// concerns.
type EventTracker interface {
	TrackRepurchase(ctx context.Context, m Milestone, value float64) error
}

// Scheduler scans the purchase ledger on a fixed interval and fires
// milestone events at day 1, 2, 3 and 7 after the last recorded purchase.
// Each milestone fires at most once ever per profile; the scan itself runs
// at most once per calendar day.
type Scheduler struct {
	ledger   *Ledger
	tracker  EventTracker
	grace    time.Duration
	interval time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewScheduler creates a scheduler. grace delays the first scan after
// startup; interval spaces the subsequent ticks.
func NewScheduler(ledger *Ledger, tracker EventTracker, grace, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		ledger:   ledger,
		tracker:  tracker,
		grace:    grace,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-time.After(s.grace):
		case <-ctx.Done():
			return
		}

		if err := s.CheckAndFire(ctx); err != nil {
			logger.Warn("repurchase scan failed", "error", err.Error())
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.CheckAndFire(ctx); err != nil {
					logger.Warn("repurchase scan failed", "error", err.Error())
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CheckAndFire performs one scan. It is safe to call concurrently with the
// loop; the ledger mutations are serialized under the scheduler mutex.
func (s *Scheduler) CheckAndFire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format(DateLayout)

	checked, err := s.ledger.LastChecked(ctx)
	if err != nil {
		return fmt.Errorf("read last check: %w", err)
	}
	if checked == today {
		return nil
	}

	anchor, value, ok, err := s.ledger.LastPurchase(ctx)
	if err != nil {
		return fmt.Errorf("read last purchase: %w", err)
	}
	if !ok {
		// Nothing to scan; leave the check marker untouched so the day is
		// still eligible once a purchase lands.
		return nil
	}

	// Whole elapsed 24h periods since the purchase instant, not midnight
	// crossings.
	days := int(s.now().Sub(anchor) / (24 * time.Hour))

	if m, hit := MilestoneForDays(days); hit {
		fired, err := s.ledger.Fired(ctx, m)
		if err != nil {
			return fmt.Errorf("read fired record: %w", err)
		}
		if !fired {
			if err := s.tracker.TrackRepurchase(ctx, m, value); err != nil {
				// Leave the day unmarked so the next tick retries.
				return fmt.Errorf("fire %s: %w", m, err)
			}
			if _, err := s.ledger.MarkFired(ctx, m, s.now()); err != nil {
				return fmt.Errorf("mark %s fired: %w", m, err)
			}
			logger.Info("repurchase milestone fired",
				"milestone", m.Key(),
				"days_since_purchase", days,
				"value", value)
		}
	}

	if err := s.ledger.SetLastChecked(ctx, today); err != nil {
		return fmt.Errorf("mark day checked: %w", err)
	}
	return nil
}
