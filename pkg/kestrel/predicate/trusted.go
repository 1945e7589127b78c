package predicate

import (
	"context"
	"sync"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/observability"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// trustedModule is a loaded predicate on the trusted backend: no
// resource ceilings, no instance pooling (tree evaluation holds no
// mutable cross-call state besides the per-call hostContext).
type trustedModule struct {
	tree     *Node
	patterns *PatternCache
	fields   []schema.FieldID
}

// trustedBackend implements Backend without sandboxing, for rules the
// orchestrator trusts to run at native speed. Grounded on spec.md §4.3's
// "a lighter trusted one" backend.
type trustedBackend struct {
	mu      sync.RWMutex
	modules map[uint64]*trustedModule
	metrics observability.MetricsRecorder
}

func newTrustedBackend(metrics observability.MetricsRecorder) *trustedBackend {
	return &trustedBackend{modules: make(map[uint64]*trustedModule), metrics: metrics}
}

func (b *trustedBackend) Load(id uint64, tree *Node, patterns *PatternCache) error {
	if tree == nil {
		return &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeLoadFailed, Err: errNilArtifact}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules[id] = &trustedModule{tree: tree, patterns: patterns, fields: RequiredFields(tree)}
	return nil
}

func (b *trustedBackend) Evaluate(_ context.Context, id uint64, evt *kevent.Event) (bool, []AlertContext, error) {
	b.mu.RLock()
	mod, ok := b.modules[id]
	b.mu.RUnlock()
	if !ok {
		return false, nil, &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeLoadFailed, Err: errPredicateNotLoaded}
	}

	host := &hostContext{event: evt, patterns: mod.patterns, predicateID: id}
	matched, err := evalTree(mod.tree, host)
	if err != nil {
		return false, nil, err
	}
	return matched, host.alerts, nil
}

func (b *trustedBackend) RequiredFields(id uint64) ([]schema.FieldID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mod, ok := b.modules[id]
	if !ok {
		return nil, false
	}
	return mod.fields, true
}

func (b *trustedBackend) Unload(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.modules, id)
}

var errNilArtifact = &nilArtifactError{}

type nilArtifactError struct{}

func (*nilArtifactError) Error() string { return "predicate artifact is nil" }
