package alert

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
)

type job struct {
	ctx      context.Context
	slot     model.Slot
	provider model.Provider
}

// Dispatcher runs matching passes on a fixed pool of workers so that a
// publish request returns once its transaction has committed. When the
// queue is full, or after Close, the pass runs on the caller's goroutine;
// a publish is never left without its pass.
type Dispatcher struct {
	engine *Engine
	jobs   chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading a queue of the given size.
func NewDispatcher(engine *Engine, workers, queue int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	d := &Dispatcher{engine: engine, jobs: make(chan job, queue)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.engine.SlotPublished(j.ctx, j.slot, j.provider)
	}
}

// SlotPublished queues a matching pass. The pass keeps the request's
// logger and trace but not its cancellation.
func (d *Dispatcher) SlotPublished(ctx context.Context, slot model.Slot, provider model.Provider) {
	j := job{ctx: context.WithoutCancel(ctx), slot: slot, provider: provider}

	d.mu.RLock()
	queued := false
	if !d.closed {
		select {
		case d.jobs <- j:
			queued = true
		default:
		}
	}
	d.mu.RUnlock()

	if !queued {
		zerolog.Ctx(ctx).Debug().Str("slot_id", slot.ID).Msg("alert queue unavailable, matching inline")
		d.engine.SlotPublished(j.ctx, slot, provider)
	}
}

// Close stops accepting work and waits for queued passes to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
