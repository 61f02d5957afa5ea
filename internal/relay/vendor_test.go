package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httpretry"
)

func TestTimeoutRetriesPerAttempt(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	vendor := NewVendorClient(srv.URL, 50*time.Millisecond, 2)
	// Same per-attempt timeout and retry count as production, with a
	// millisecond backoff to keep the test fast.
	vendor.SetHTTPClient(httpretry.NewRetryClient(
		&http.Client{Timeout: 50 * time.Millisecond}, 2, time.Millisecond))

	_, err := vendor.Send(context.Background(), VendorPayload{EventName: "EVENT_PURCHASE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVendorUnreachable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts),
		"a hung attempt times out on its own and the schedule continues")
}

func TestCallerCancellationStopsRetrying(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	vendor := NewVendorClient(srv.URL, 50*time.Millisecond, 2)
	vendor.SetHTTPClient(httpretry.NewRetryClient(
		&http.Client{Timeout: 50 * time.Millisecond}, 2, 100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := vendor.Send(ctx, VendorPayload{EventName: "EVENT_PURCHASE"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
