package jobs

import (
	"context"
	"sync"

	"github.com/openfederation/centralid/pkg/slogx"
)

// DeferredRunner executes small closures after the request that queued
// them has completed, keeping foreign-site work off the login critical
// path. Failures are logged and dropped: deferred work is opportunistic.
type DeferredRunner struct {
	queue chan deferred

	stopOnce sync.Once
	wg       sync.WaitGroup
}

type deferred struct {
	name string
	fn   func(ctx context.Context) error
}

func NewDeferredRunner(depth int) *DeferredRunner {
	if depth <= 0 {
		depth = 128
	}
	return &DeferredRunner{queue: make(chan deferred, depth)}
}

// Start launches the single runner goroutine.
func (d *DeferredRunner) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		log := slogx.FromContext(ctx)
		for item := range d.queue {
			if err := item.fn(ctx); err != nil {
				log.Warn("deferred update failed", "name", item.name, "err", err)
			}
		}
	}()
}

// Stop drains the queue and waits for the runner.
func (d *DeferredRunner) Stop() {
	d.stopOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Defer queues fn. When the queue is full the work is dropped rather
// than blocking the caller.
func (d *DeferredRunner) Defer(name string, fn func(ctx context.Context) error) {
	select {
	case d.queue <- deferred{name: name, fn: fn}:
	default:
	}
}
