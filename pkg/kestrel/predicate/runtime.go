package predicate

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/observability"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// Backend is the capability set spec.md §4.3 requires every predicate
// runtime implementation to expose: { load, evaluate, required_fields,
// unload }. The orchestrator selects a backend by predicate metadata, not
// by backend identity — Runtime below is the polymorphic front the
// orchestrator actually holds.
type Backend interface {
	Load(id uint64, tree *Node, patterns *PatternCache) error
	Evaluate(ctx context.Context, id uint64, evt *kevent.Event) (bool, []AlertContext, error)
	RequiredFields(id uint64) ([]schema.FieldID, bool)
	Unload(id uint64)
}

// Runtime wraps one or more Backends behind a single evaluate surface,
// dispatching each predicate id to whichever backend loaded it. This is
// the polymorphism spec.md §4.3 calls for: "a heavy sandboxed backend and
// a lighter trusted one... the orchestrator selects by predicate metadata,
// not by backend identity."
type Runtime struct {
	mu       sync.RWMutex
	owner    map[uint64]Backend
	trusted  Backend
	sandbox  Backend
	metrics  observability.MetricsRecorder
}

// Options configures a Runtime's two backends.
type Options struct {
	InstancePoolSize int
	MemoryLimitBytes int64
	CPUBudget        int64
	InstanceTimeout  time.Duration
	Metrics          observability.MetricsRecorder
}

// NewRuntime builds a Runtime with a trusted (unceilinged) backend and a
// sandboxed (ceiling-enforcing) backend, matching spec.md §4.3's two
// reference backends.
func NewRuntime(opts Options) *Runtime {
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopMetrics{}
	}
	return &Runtime{
		owner:   make(map[uint64]Backend),
		trusted: newTrustedBackend(opts.Metrics),
		sandbox: newSandboxBackend(opts, opts.Metrics),
		metrics: opts.Metrics,
	}
}

// LoadTrusted installs a predicate on the trusted (no resource ceiling)
// backend, for rules the orchestrator has vetted as safe to run without
// sandboxing overhead.
func (r *Runtime) LoadTrusted(id uint64, tree *Node, patterns *PatternCache) error {
	return r.load(id, tree, patterns, r.trusted)
}

// LoadSandboxed installs a predicate on the sandboxed backend, which
// enforces the CPU/memory/wall-clock ceilings of spec.md §4.3.
func (r *Runtime) LoadSandboxed(id uint64, tree *Node, patterns *PatternCache) error {
	return r.load(id, tree, patterns, r.sandbox)
}

func (r *Runtime) load(id uint64, tree *Node, patterns *PatternCache, backend Backend) error {
	if err := backend.Load(id, tree, patterns); err != nil {
		return err
	}
	r.mu.Lock()
	r.owner[id] = backend
	r.mu.Unlock()
	return nil
}

// Evaluate runs predicate id against evt on whichever backend loaded it.
func (r *Runtime) Evaluate(ctx context.Context, id uint64, evt *kevent.Event) (bool, []AlertContext, error) {
	r.mu.RLock()
	backend, ok := r.owner[id]
	r.mu.RUnlock()
	if !ok {
		return false, nil, &kerrors.RuntimeError{
			PredicateID: id,
			Kind:        kerrors.RuntimeLoadFailed,
			Err:         errPredicateNotLoaded,
		}
	}

	start := time.Now()
	matched, alerts, err := backend.Evaluate(ctx, id, evt)
	r.metrics.RecordPredicateEvaluation(ctx, id, float64(time.Since(start).Microseconds())/1000.0, matched)
	if err != nil {
		kind := "trap"
		if re, ok := err.(*kerrors.RuntimeError); ok {
			kind = re.Kind.String()
		}
		r.metrics.RecordPredicateError(ctx, id, kind)
	}
	return matched, alerts, err
}

// RequiredFields returns the fields predicate id reads, for interest
// pushdown.
func (r *Runtime) RequiredFields(id uint64) ([]schema.FieldID, bool) {
	r.mu.RLock()
	backend, ok := r.owner[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return backend.RequiredFields(id)
}

// Unload evicts predicate id from whichever backend holds it.
func (r *Runtime) Unload(id uint64) {
	r.mu.Lock()
	backend, ok := r.owner[id]
	delete(r.owner, id)
	r.mu.Unlock()
	if ok {
		backend.Unload(id)
	}
}

var errPredicateNotLoaded = &notLoadedError{}

type notLoadedError struct{}

func (*notLoadedError) Error() string { return "predicate id not loaded on any backend" }
