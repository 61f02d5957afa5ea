// Package debugconsole keeps the most recent dispatch outcomes in memory and
// exposes them over HTTP. Enabled only when the landing URL or configuration
// asks for debug diagnostics; it holds no credentials, only the public
// outcome records.
package debugconsole

import (
	"net/http"
	"sync"

	"github.com/betlabs/kwai-pipeline/internal/dispatch"
	"github.com/betlabs/kwai-pipeline/internal/pkg/httputil"
)

// DefaultCapacity bounds the in-memory record.
const DefaultCapacity = 100

// Recorder is a fixed-capacity ring of dispatch outcomes, newest last. It
// implements dispatch.Observer.
type Recorder struct {
	mu    sync.Mutex
	buf   []dispatch.Outcome
	start int
	size  int
}

// NewRecorder creates a recorder holding up to capacity outcomes. A
// non-positive capacity falls back to DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]dispatch.Outcome, capacity)}
}

// Dispatched records an outcome, evicting the oldest when full.
func (r *Recorder) Dispatched(out dispatch.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = out
		r.size++
		return
	}
	r.buf[r.start] = out
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the recorded outcomes, newest first.
func (r *Recorder) Snapshot() []dispatch.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Outcome, r.size)
	for i := 0; i < r.size; i++ {
		out[r.size-1-i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Handler serves the recorded outcomes as JSON.
func (r *Recorder) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		httputil.OK(w, map[string]any{
			"count":      len(snap),
			"dispatches": snap,
		})
	}
}
