package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/betlabs/kwai-pipeline/internal/repurchase"
)

// DefaultCurrency is attached to every monetary event.
const DefaultCurrency = "BRL"

// Convenience trackers mirroring the host application's event surface. Each
// wraps Dispatch with the conventional property shape for its event.

// ContentView dispatches a page view through the "page" verb. contentURL may
// be empty.
func (d *Dispatcher) ContentView(ctx context.Context, contentURL string) (Outcome, error) {
	props := map[string]any{}
	if contentURL != "" {
		props["content_url"] = contentURL
	}
	return d.Dispatch(ctx, ContentView, props)
}

// CompleteRegistration dispatches a sign-up event.
func (d *Dispatcher) CompleteRegistration(ctx context.Context) (Outcome, error) {
	return d.Dispatch(ctx, CompleteRegistration, map[string]any{
		"content_type": "user_registration",
	})
}

// InitiatedCheckout dispatches a checkout-start event with the deposit
// value. transactionID may be empty.
func (d *Dispatcher) InitiatedCheckout(ctx context.Context, value float64, transactionID string) (Outcome, error) {
	props := map[string]any{
		"value":        roundMoney(value),
		"currency":     DefaultCurrency,
		"content_type": "deposit",
	}
	if transactionID != "" {
		props["content_id"] = transactionID
	}
	return d.Dispatch(ctx, InitiatedCheckout, props)
}

// AddToCart dispatches an add-to-cart event.
func (d *Dispatcher) AddToCart(ctx context.Context, contentID string, value float64) (Outcome, error) {
	props := map[string]any{
		"value":    roundMoney(value),
		"currency": DefaultCurrency,
	}
	if contentID != "" {
		props["content_id"] = contentID
	}
	return d.Dispatch(ctx, AddToCart, props)
}

// ButtonClick dispatches a UI interaction event.
func (d *Dispatcher) ButtonClick(ctx context.Context, buttonName string) (Outcome, error) {
	return d.Dispatch(ctx, ButtonClick, map[string]any{
		"button_name": buttonName,
	})
}

// Search dispatches a search event.
func (d *Dispatcher) Search(ctx context.Context, query string) (Outcome, error) {
	return d.Dispatch(ctx, Search, map[string]any{
		"search_string": query,
	})
}

// TrackPurchase dispatches a purchase event. orderID may be empty. On
// success the purchase ledger is updated so follow-up milestones anchor on
// it.
func (d *Dispatcher) TrackPurchase(ctx context.Context, value float64, orderID string) (Outcome, error) {
	props := map[string]any{
		"value":        roundMoney(value),
		"currency":     DefaultCurrency,
		"content_type": "deposit",
	}
	if orderID != "" {
		props["content_id"] = orderID
	}
	return d.Dispatch(ctx, Purchase, props)
}

// TrackRepurchase dispatches the follow-up event for a milestone. It
// implements the repurchase scheduler's tracker dependency; a total fan-out
// failure surfaces as an error so the scheduler can retry on its next tick.
func (d *Dispatcher) TrackRepurchase(ctx context.Context, m repurchase.Milestone, value float64) error {
	kind, ok := milestoneKinds[m]
	if !ok {
		return fmt.Errorf("%w: milestone %s", ErrUnknownEvent, m)
	}
	_, err := d.Dispatch(ctx, kind, map[string]any{
		"value":               roundMoney(value),
		"currency":            DefaultCurrency,
		"days_since_purchase": m.Days(),
	})
	return err
}

// roundMoney normalizes a monetary value to two decimal places.
func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
