package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betlabs/kwai-pipeline/internal/registry"
)

// flakyProbe fails a fixed number of times per destination before succeeding.
// failures < 0 means fail forever.
type flakyProbe struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFlakyProbe() *flakyProbe {
	return &flakyProbe{failures: make(map[string]int), calls: make(map[string]int)}
}

func (p *flakyProbe) Probe(ctx context.Context, dest registry.Destination) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[dest.DestinationID]++
	n := p.failures[dest.DestinationID]
	if n < 0 || p.calls[dest.DestinationID] <= n {
		return errors.New("not loaded yet")
	}
	return nil
}

func dest(id, pixel string) registry.Destination {
	return registry.Destination{DestinationID: id, PublicID: pixel, Active: true}
}

func TestReadinessAfterRetries(t *testing.T) {
	probe := newFlakyProbe()
	probe.failures["d1"] = 3

	var pageViews int32
	r := NewRegistry(probe, time.Millisecond, 30, func(registry.Destination) {
		atomic.AddInt32(&pageViews, 1)
	})
	r.InstallLoader()
	require.NoError(t, r.LoadInstance(context.Background(), dest("d1", "112572")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.AwaitReady(ctx, "d1"))
	assert.True(t, r.IsReady("d1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pageViews), "initial page view fires exactly once")
}

func TestAttemptCeiling(t *testing.T) {
	probe := newFlakyProbe()
	probe.failures["d1"] = -1

	r := NewRegistry(probe, time.Millisecond, 5, nil)
	r.InstallLoader()
	require.NoError(t, r.LoadInstance(context.Background(), dest("d1", "112572")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.AwaitReady(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, r.IsReady("d1"))

	probe.mu.Lock()
	calls := probe.calls["d1"]
	probe.mu.Unlock()
	assert.Equal(t, 5, calls, "polling stops at the ceiling")
}

func TestFailureIsolation(t *testing.T) {
	probe := newFlakyProbe()
	probe.failures["bad"] = -1
	probe.failures["good"] = 0

	r := NewRegistry(probe, time.Millisecond, 5, nil)
	r.InstallLoader()
	ctx := context.Background()
	require.NoError(t, r.LoadInstance(ctx, dest("bad", "111")))
	require.NoError(t, r.LoadInstance(ctx, dest("good", "222")))

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.Error(t, r.AwaitReady(wctx, "bad"))
	assert.NoError(t, r.AwaitReady(wctx, "good"))
	assert.True(t, r.IsReady("good"))
}

func TestLoaderMustBeInstalledFirst(t *testing.T) {
	r := NewRegistry(newFlakyProbe(), time.Millisecond, 5, nil)
	err := r.LoadInstance(context.Background(), dest("d1", "112572"))
	assert.ErrorIs(t, err, ErrLoaderNotInstalled)

	// Install is idempotent.
	r.InstallLoader()
	r.InstallLoader()
	assert.NoError(t, r.LoadInstance(context.Background(), dest("d1", "112572")))
	// Loading the same instance again is a no-op, and the page view (none
	// wired here) must not double.
	assert.NoError(t, r.LoadInstance(context.Background(), dest("d1", "112572")))
}

func TestSnapshot(t *testing.T) {
	probe := newFlakyProbe()
	r := NewRegistry(probe, time.Millisecond, 5, nil)
	r.InstallLoader()
	require.NoError(t, r.LoadInstance(context.Background(), dest("d1", "112572")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.AwaitReady(ctx, "d1"))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "112572", snap[0].PixelID)
	assert.Equal(t, "instance_loaded", snap[0].State)
	assert.GreaterOrEqual(t, snap[0].Attempts, 1)
}

func TestSDKProbe(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewSDKProbe(nil, srv.URL+"/pixel/events.js")
	err := p.Probe(context.Background(), dest("d1", "112572"))
	require.NoError(t, err)
	assert.Equal(t, "/pixel/events.js?sdkid=112572&lib=kwaiq", gotPath)
}

func TestSDKProbeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewSDKProbe(nil, srv.URL+"/pixel/events.js")
	assert.Error(t, p.Probe(context.Background(), dest("d1", "112572")))
}
