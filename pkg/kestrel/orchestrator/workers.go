package orchestrator

import (
	"context"
	"sync"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/bus"
)

// Run starts one worker goroutine per bus partition, each exclusively
// owning its partition's subscription and processing events strictly in
// delivery order (spec.md §5: "cooperative-task parallel across P worker
// tasks, one per event-bus partition"). Run blocks until every worker has
// observed end-of-stream (the bus was closed and its partition drained) or
// ctx is cancelled, whichever comes first.
func (o *Orchestrator) Run(ctx context.Context, b *bus.Bus) error {
	var wg sync.WaitGroup
	errs := make([]error, b.Partitions())

	for i := 0; i < b.Partitions(); i++ {
		ch, err := b.Subscribe(i)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(partition int, ch <-chan bus.Batch) {
			defer wg.Done()
			errs[partition] = o.runWorker(ctx, ch)
		}(i, ch)
	}

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runWorker drains one partition's batch channel until it closes or ctx is
// cancelled. Events within a batch, and batches within the channel, are
// processed strictly in arrival order — the ordering guarantee the NFA
// engine relies on for per-entity step advancement.
func (o *Orchestrator) runWorker(ctx context.Context, ch <-chan bus.Batch) error {
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			for _, evt := range batch {
				o.ProcessEvent(ctx, evt)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
