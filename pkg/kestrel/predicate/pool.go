package predicate

import "sync"

// instance is one pooled evaluation slot for a predicate: a reusable
// hostContext and its alert buffer, reset on release. Grounded on
// spec.md §4.3's instance pool ("on release, an instance is reset... and
// returned") and on the teacher's bounded-semaphore concurrency pattern
// (pkg/flowgraph/execute_parallel.go's fork-join semaphore), adapted here
// from "bound concurrent branches" to "bound concurrent evaluations of one
// predicate."
type instance struct {
	host *hostContext
}

// instancePool bounds concurrent evaluations of a single predicate to
// poolSize instances, blocking acquirers beyond that until one is
// released.
type instancePool struct {
	sem  chan struct{}
	mu   sync.Mutex
	free []*instance
}

func newInstancePool(size int) *instancePool {
	if size <= 0 {
		size = 1
	}
	return &instancePool{sem: make(chan struct{}, size)}
}

// acquire blocks until a slot is available, then returns either a reused
// idle instance or a freshly constructed one.
func (p *instancePool) acquire() *instance {
	p.sem <- struct{}{}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		inst := p.free[n-1]
		p.free = p.free[:n-1]
		return inst
	}
	return &instance{}
}

// release resets inst and returns it to the idle set, freeing a slot.
func (p *instancePool) release(inst *instance) {
	inst.host = nil
	p.mu.Lock()
	p.free = append(p.free, inst)
	p.mu.Unlock()
	<-p.sem
}
