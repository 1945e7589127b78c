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

// sandboxModule is a loaded predicate on the sandboxed backend, carrying
// its own bounded instance pool per spec.md §4.3 ("Per-predicate, bounded
// by instance_pool_size").
type sandboxModule struct {
	tree     *Node
	patterns *PatternCache
	fields   []schema.FieldID
	pool     *instancePool
	nodes    int64
}

// sandboxBackend implements Backend with the three resource ceilings
// spec.md §4.3 requires: a deterministic CPU instruction budget, a memory
// ceiling, and a wall-clock timeout. The op-tree walker stands in for a
// sandboxed bytecode interpreter; "memory" here is the total size of the
// event's string and buffer fields, checked against the limit before
// evaluation starts (see estimateMemoryUse).
type sandboxBackend struct {
	mu      sync.RWMutex
	modules map[uint64]*sandboxModule

	poolSize     int
	cpuBudget    int64
	memoryLimit  int64
	timeout      time.Duration
	metrics      observability.MetricsRecorder
}

func newSandboxBackend(opts Options, metrics observability.MetricsRecorder) *sandboxBackend {
	poolSize := opts.InstancePoolSize
	if poolSize <= 0 {
		poolSize = 32
	}
	cpuBudget := opts.CPUBudget
	if cpuBudget <= 0 {
		cpuBudget = 1_000_000
	}
	memLimit := opts.MemoryLimitBytes
	if memLimit <= 0 {
		memLimit = 16 * 1024 * 1024
	}
	timeout := opts.InstanceTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &sandboxBackend{
		modules:     make(map[uint64]*sandboxModule),
		poolSize:    poolSize,
		cpuBudget:   cpuBudget,
		memoryLimit: memLimit,
		timeout:     timeout,
		metrics:     metrics,
	}
}

func (b *sandboxBackend) Load(id uint64, tree *Node, patterns *PatternCache) error {
	if tree == nil {
		return &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeLoadFailed, Err: errNilArtifact}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules[id] = &sandboxModule{
		tree:     tree,
		patterns: patterns,
		fields:   RequiredFields(tree),
		pool:     newInstancePool(b.poolSize),
		nodes:    int64(NodeCount(tree)),
	}
	return nil
}

// Evaluate acquires a pooled instance, runs the predicate under the CPU,
// memory, and wall-clock ceilings, and releases the instance. Returns a
// *kerrors.RuntimeError for any ceiling breach or trap; the caller (the
// orchestrator) treats every such error as "predicate returned false" for
// routing purposes, per spec.md §4.3/§7.
func (b *sandboxBackend) Evaluate(ctx context.Context, id uint64, evt *kevent.Event) (bool, []AlertContext, error) {
	b.mu.RLock()
	mod, ok := b.modules[id]
	b.mu.RUnlock()
	if !ok {
		return false, nil, &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeLoadFailed, Err: errPredicateNotLoaded}
	}

	inst := mod.pool.acquire()
	defer mod.pool.release(inst)

	if estimateMemoryUse(evt) > b.memoryLimit {
		return false, nil, &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeResourceExhausted, Err: errMemoryCeiling}
	}

	type result struct {
		matched bool
		alerts  []AlertContext
		err     error
	}
	resultCh := make(chan result, 1)

	budget := b.cpuBudget
	host := &hostContext{event: evt, patterns: mod.patterns, predicateID: id, budget: &budget}
	inst.host = host

	go func() {
		matched, err := evalTree(mod.tree, host)
		resultCh <- result{matched: matched, alerts: host.alerts, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.matched, r.alerts, r.err
	case <-time.After(b.timeout):
		return false, nil, &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeTimeout, Err: errWallClockTimeout}
	case <-ctx.Done():
		return false, nil, &kerrors.RuntimeError{PredicateID: id, Kind: kerrors.RuntimeTimeout, Err: ctx.Err()}
	}
}

func (b *sandboxBackend) RequiredFields(id uint64) ([]schema.FieldID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mod, ok := b.modules[id]
	if !ok {
		return nil, false
	}
	return mod.fields, true
}

func (b *sandboxBackend) Unload(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.modules, id)
}

// estimateMemoryUse approximates the linear-memory footprint a sandboxed
// evaluation would need to hold the event's variable-length fields, the
// only part of an event whose size is not fixed.
func estimateMemoryUse(evt *kevent.Event) int64 {
	var total int64
	for _, id := range evt.FieldIDs() {
		v, ok := evt.GetField(id)
		if !ok {
			continue
		}
		if b, ok := v.AsBytes(); ok {
			total += int64(len(b))
		} else if b, ok := v.AsBuffer(); ok {
			total += int64(len(b))
		}
	}
	return total
}

var (
	errMemoryCeiling    = &memoryCeilingError{}
	errWallClockTimeout = &timeoutError{}
)

type memoryCeilingError struct{}

func (*memoryCeilingError) Error() string { return "predicate exceeded memory ceiling" }

type timeoutError struct{}

func (*timeoutError) Error() string { return "predicate exceeded wall-clock timeout" }
