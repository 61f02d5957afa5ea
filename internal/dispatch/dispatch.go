// Package dispatch turns logical application events into relay calls fanned
// out across every ready tracking destination. A dispatch is refused outright
// when the session carries no click identifier; partial destination failure
// is tolerated, total failure is an error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betlabs/kwai-pipeline/internal/attribution"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/registry"
	"github.com/betlabs/kwai-pipeline/internal/relay"
)

var (
	// ErrUnattributed means the session has no click identifier; nothing is
	// sent anywhere.
	ErrUnattributed = errors.New("session is unattributed, dispatch refused")
	// ErrNoReadyDestinations means no destination has completed bootstrap.
	ErrNoReadyDestinations = errors.New("no ready tracking destinations")
	// ErrAllDestinationsFailed means the fan-out reached every ready
	// destination and none accepted the event.
	ErrAllDestinationsFailed = errors.New("all destinations rejected the event")
	// ErrUnknownEvent means the kind has no upstream mapping.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Relay is the transport the dispatcher sends through. relay.Client
// implements it.
type Relay interface {
	Track(ctx context.Context, req relay.TrackRequest) (relay.TrackResponse, error)
	Page(ctx context.Context, req relay.TrackRequest) (relay.TrackResponse, error)
}

// Gate answers whether a destination finished bootstrap. bootstrap.Registry
// implements it.
type Gate interface {
	IsReady(destinationID string) bool
}

// PurchaseLedger records a successful purchase so follow-up milestones can
// anchor on it. repurchase.Ledger implements it.
type PurchaseLedger interface {
	RecordPurchase(ctx context.Context, at time.Time, value float64) error
}

// DestinationResult is the per-destination leg of a fan-out.
type DestinationResult struct {
	PixelID string `json:"pixelId"`
	Success bool   `json:"success"`
	Result  *int   `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outcome is the settled record of one dispatch across all destinations.
type Outcome struct {
	DispatchID  string              `json:"dispatchId"`
	Kind        Kind                `json:"kind"`
	EventName   string              `json:"eventName"`
	Verb        string              `json:"verb"`
	ClickID     string              `json:"clickid"`
	PartnerCode string              `json:"mmpcode"`
	Properties  string              `json:"properties"`
	Results     []DestinationResult `json:"results"`
	Succeeded   bool                `json:"succeeded"`
	At          time.Time           `json:"at"`
}

// Observer receives every settled outcome, refusals included. The debug
// console hooks in here.
type Observer interface {
	Dispatched(out Outcome)
}

// Dispatcher fans logical events out to every ready destination through the
// relay.
type Dispatcher struct {
	session      *attribution.Store
	destinations []registry.Destination
	gate         Gate
	relay        Relay
	ledger       PurchaseLedger
	observer     Observer
	testFlag     bool
	now          func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLedger wires the purchase ledger side effect.
func WithLedger(l PurchaseLedger) Option {
	return func(d *Dispatcher) { d.ledger = l }
}

// WithObserver wires an outcome observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithTestFlag marks every dispatched event as a test event.
func WithTestFlag(on bool) Option {
	return func(d *Dispatcher) { d.testFlag = on }
}

// New creates a dispatcher over the given destination set.
func New(session *attribution.Store, destinations []registry.Destination, gate Gate, rly Relay, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:      session,
		destinations: destinations,
		gate:         gate,
		relay:        rly,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends one event to every ready destination concurrently and
// gathers all legs before returning. Overall success requires at least one
// destination to accept; the returned error is nil in that case even when
// other legs failed.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, props map[string]any) (Outcome, error) {
	return d.fanOut(ctx, kind, props, d.readyDestinations())
}

// InitialPageView sends the automatic page view to a single destination.
// The bootstrap registry calls this when a destination first becomes ready;
// targeting it alone keeps already-ready destinations from seeing a second
// page view.
func (d *Dispatcher) InitialPageView(ctx context.Context, dest registry.Destination, contentURL string) (Outcome, error) {
	props := map[string]any{}
	if contentURL != "" {
		props["content_url"] = contentURL
	}
	return d.fanOut(ctx, ContentView, props, []registry.Destination{dest})
}

func (d *Dispatcher) fanOut(ctx context.Context, kind Kind, props map[string]any, ready []registry.Destination) (Outcome, error) {
	eventName, ok := EventName(kind)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	sess := d.session.Read(ctx)
	if !sess.Attributed() {
		logger.Debug("dispatch refused: unattributed session", "event", eventName)
		return Outcome{}, ErrUnattributed
	}

	if len(ready) == 0 {
		return Outcome{}, ErrNoReadyDestinations
	}

	properties, err := encodeProperties(sess, props)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		DispatchID:  uuid.NewString(),
		Kind:        kind,
		EventName:   eventName,
		ClickID:     sess.ClickID,
		PartnerCode: sess.PartnerCode,
		Properties:  properties,
		Results:     make([]DestinationResult, len(ready)),
		At:          d.now(),
	}
	out.Verb = relay.VerbTrack
	if usesPageVerb(kind) {
		out.Verb = relay.VerbPage
	}

	var wg sync.WaitGroup
	for i, dest := range ready {
		wg.Add(1)
		go func(i int, dest registry.Destination) {
			defer wg.Done()
			out.Results[i] = d.sendOne(ctx, kind, eventName, sess, properties, dest)
		}(i, dest)
	}
	wg.Wait()

	for _, r := range out.Results {
		if r.Success {
			out.Succeeded = true
			break
		}
	}

	if kind == Purchase && out.Succeeded && d.ledger != nil {
		value, _ := props["value"].(float64)
		if err := d.ledger.RecordPurchase(ctx, d.now(), value); err != nil {
			logger.Warn("purchase ledger update failed", "error", err.Error())
		}
	}

	logger.Info("event dispatched",
		"dispatch_id", out.DispatchID,
		"event", eventName,
		"verb", out.Verb,
		"destinations", len(ready),
		"succeeded", out.Succeeded)

	if d.observer != nil {
		d.observer.Dispatched(out)
	}
	if !out.Succeeded {
		return out, ErrAllDestinationsFailed
	}
	return out, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, kind Kind, eventName string, sess attribution.Session, properties string, dest registry.Destination) DestinationResult {
	req := relay.TrackRequest{
		AccessToken: dest.Secret,
		ClickID:     sess.ClickID,
		EventName:   eventName,
		PartnerCode: sess.PartnerCode,
		PixelID:     dest.PublicID,
		Properties:  properties,
		TestFlag:    d.testFlag,
	}

	var (
		resp relay.TrackResponse
		err  error
	)
	if usesPageVerb(kind) {
		resp, err = d.relay.Page(ctx, req)
	} else {
		resp, err = d.relay.Track(ctx, req)
	}

	result := DestinationResult{PixelID: dest.PublicID}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = resp.Success
	result.Result = resp.Result
	if !resp.Success {
		result.Error = resp.Error
	}
	return result
}

// readyDestinations filters for active destinations whose bootstrap settled
// successfully. A nil gate treats every active destination as ready.
func (d *Dispatcher) readyDestinations() []registry.Destination {
	var ready []registry.Destination
	for _, dest := range d.destinations {
		if !dest.Usable() || !dest.Active {
			continue
		}
		if d.gate != nil && !d.gate.IsReady(dest.DestinationID) {
			continue
		}
		ready = append(ready, dest)
	}
	return ready
}

// encodeProperties merges caller properties with the attribution fields into
// the opaque JSON string the vendor contract expects.
func encodeProperties(sess attribution.Session, props map[string]any) (string, error) {
	merged := make(map[string]any, len(props)+2)
	for k, v := range props {
		merged[k] = v
	}
	merged["clickid"] = sess.ClickID
	merged["mmpcode"] = sess.PartnerCode
	raw, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(raw), nil
}
