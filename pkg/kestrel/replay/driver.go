package replay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// Processor is the subset of Orchestrator that Driver depends on, so tests
// can substitute a recording stub without building a full runtime+engine.
type Processor interface {
	ProcessEvent(ctx context.Context, evt *kevent.Event)
}

// Driver feeds a recorded event Source through a Processor in stored
// order. Events are delivered directly, bypassing the bus: the bus's
// partitioning exists to parallelize live ingestion across entities, but
// replay's correctness requirement is strict in-file ordering (spec.md
// §4.5), which a multi-partition fan-out cannot guarantee without
// re-synchronizing. A single in-order driver trades live-path parallelism
// for a deterministic alert stream.
type Driver struct {
	src Source
	dst Processor
}

// NewDriver builds a Driver reading from src and delivering to dst.
func NewDriver(src Source, dst Processor) *Driver {
	return &Driver{src: src, dst: dst}
}

// Run delivers every event from the source to the processor in order,
// returning when the source is exhausted or ctx is canceled. It reports
// how many events were delivered.
func (d *Driver) Run(ctx context.Context) (int, error) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		evt, err := d.src.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("replay: driver read: %w", err)
		}

		d.dst.ProcessEvent(ctx, evt)
		count++
	}
}
