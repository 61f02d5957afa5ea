// Package bootstrap owns the vendor SDK loader and the per-destination
// readiness gate. The loader is installed exactly once into an owned
// Registry that callers hold by reference; each destination instance is then
// probed until the vendor endpoint answers, with a hard attempt ceiling.
//
// Readiness is exposed as a future resolved exactly once per destination:
// callers AwaitReady instead of running their own poll loops.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/registry"
)

// State is the bootstrap lifecycle of one destination instance.
type State int

const (
	Uninstalled State = iota
	LoaderInstalled
	InstanceLoaded
	Failed
)

func (s State) String() string {
	switch s {
	case LoaderInstalled:
		return "loader_installed"
	case InstanceLoaded:
		return "instance_loaded"
	case Failed:
		return "failed"
	default:
		return "uninstalled"
	}
}

var (
	// ErrLoaderNotInstalled is returned when an instance is loaded before
	// InstallLoader ran.
	ErrLoaderNotInstalled = errors.New("sdk loader not installed")
	// ErrNotReady is the terminal readiness failure after the attempt
	// ceiling. It fails that destination only; the host continues.
	ErrNotReady = errors.New("sdk instance never became ready")
)

// Probe checks whether a destination's tracking endpoint is callable.
type Probe interface {
	Probe(ctx context.Context, dest registry.Destination) error
}

// Status is a point-in-time snapshot of one instance's bootstrap state.
type Status struct {
	PixelID  string `json:"pixelId"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type instance struct {
	dest     registry.Destination
	state    State
	attempts int
	err      error
	ready    chan struct{}
	onceDone sync.Once
}

// Registry is the owned bootstrap registry replacing the original's
// well-known global loader object. Construct once, pass by reference.
type Registry struct {
	mu          sync.Mutex
	installed   bool
	probe       Probe
	interval    time.Duration
	maxAttempts int
	// onReady fires exactly once per destination on first readiness; the
	// pipeline wires the initial page-view dispatch here.
	onReady   func(dest registry.Destination)
	instances map[string]*instance
}

// NewRegistry creates a bootstrap registry. onReady may be nil.
func NewRegistry(probe Probe, interval time.Duration, maxAttempts int, onReady func(registry.Destination)) *Registry {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Registry{
		probe:       probe,
		interval:    interval,
		maxAttempts: maxAttempts,
		onReady:     onReady,
		instances:   make(map[string]*instance),
	}
}

// InstallLoader marks the loader installed. Idempotent: a second call is a
// no-op. Runs before any instance loads so no early events are dropped.
func (r *Registry) InstallLoader() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return
	}
	r.installed = true
	logger.Info("sdk loader installed")
}

// LoadInstance registers a destination with the loader and starts its
// readiness probing. Loading the same destination twice is a no-op.
func (r *Registry) LoadInstance(ctx context.Context, dest registry.Destination) error {
	r.mu.Lock()
	if !r.installed {
		r.mu.Unlock()
		return ErrLoaderNotInstalled
	}
	if _, exists := r.instances[dest.DestinationID]; exists {
		r.mu.Unlock()
		return nil
	}
	inst := &instance{
		dest:  dest,
		state: LoaderInstalled,
		ready: make(chan struct{}),
	}
	r.instances[dest.DestinationID] = inst
	r.mu.Unlock()

	go r.poll(ctx, inst)
	return nil
}

// poll probes the instance on a fixed interval until it answers or the
// attempt ceiling is reached. Each instance polls independently, so one
// destination's failure never blocks another's bootstrap.
func (r *Registry) poll(ctx context.Context, inst *instance) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		inst.attempts++
		attempts := inst.attempts
		r.mu.Unlock()

		err := r.probe.Probe(ctx, inst.dest)
		if err == nil {
			r.resolve(inst, nil)
			return
		}
		if attempts >= r.maxAttempts {
			logger.Warn("sdk readiness gave up",
				"pixel_id", inst.dest.PublicID, "attempts", attempts, "error", err.Error())
			r.resolve(inst, fmt.Errorf("%w after %d attempts", ErrNotReady, attempts))
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.resolve(inst, ctx.Err())
			return
		}
	}
}

// resolve settles the instance's readiness future exactly once.
func (r *Registry) resolve(inst *instance, err error) {
	inst.onceDone.Do(func() {
		r.mu.Lock()
		if err == nil {
			inst.state = InstanceLoaded
		} else {
			inst.state = Failed
			inst.err = err
		}
		r.mu.Unlock()
		close(inst.ready)

		if err == nil {
			logger.Info("sdk instance ready",
				"pixel_id", inst.dest.PublicID, "attempts", inst.attempts)
			if r.onReady != nil {
				// Initial page view, once per destination per run.
				r.onReady(inst.dest)
			}
		}
	})
}

// AwaitReady blocks until the destination's readiness future settles or the
// context ends. A nil return means the instance is ready.
func (r *Registry) AwaitReady(ctx context.Context, destinationID string) error {
	r.mu.Lock()
	inst, ok := r.instances[destinationID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown destination %q", destinationID)
	}

	select {
	case <-inst.ready:
		r.mu.Lock()
		defer r.mu.Unlock()
		return inst.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady is the dispatcher's call-time gate: it never blocks.
func (r *Registry) IsReady(destinationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[destinationID]
	return ok && inst.state == InstanceLoaded
}

// Snapshot returns the bootstrap status of every registered instance.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.instances))
	for _, inst := range r.instances {
		s := Status{
			PixelID:  inst.dest.PublicID,
			State:    inst.state.String(),
			Attempts: inst.attempts,
		}
		if inst.err != nil {
			s.Error = inst.err.Error()
		}
		out = append(out, s)
	}
	return out
}
