package orchestrate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// UnitKind identifies the type of work a dispatch unit carries.
type UnitKind string

const (
	UnitProcessJob      UnitKind = "process_job"
	UnitCondenseChapter UnitKind = "condense_chapter"
)

// Unit is one independently-dispatchable piece of work. Units carry
// ids, never state: workers reload the job record on pickup.
type Unit struct {
	Kind      UnitKind
	JobID     string
	ChapterID string
}

// ErrQueueClosed indicates the dispatcher is shutting down and no
// longer accepts units.
var ErrQueueClosed = errors.New("dispatch queue closed")

// Dispatcher runs units on a bounded worker pool. Chapter condensation
// fans out through here, so the worker count caps concurrent AI calls.
type Dispatcher struct {
	orch    *Orchestrator
	workers int
	logger  *slog.Logger

	queue chan Unit
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given worker count and
// wires itself into the orchestrator as its dispatch mechanism.
func NewDispatcher(orch *Orchestrator, workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		orch:    orch,
		workers: workers,
		logger:  logger,
		queue:   make(chan Unit, workers*16),
	}
	orch.SetDispatcher(d.Submit)
	return d
}

// Start launches the worker pool. Workers drain the queue until Stop
// is called and the queue is empty, or the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("dispatcher started", "workers", d.workers)
}

// Stop closes the queue and waits for in-flight units to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Submit enqueues a unit. It never blocks the caller indefinitely: a
// full queue is reported as an error and the caller settles the unit.
func (d *Dispatcher) Submit(u Unit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- u:
		return nil
	default:
		return errors.New("dispatch queue full")
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, u)
		}
	}
}

// run executes one unit. Unit errors are terminal for the unit and
// already reflected in the job record; they are logged, not retried.
func (d *Dispatcher) run(ctx context.Context, u Unit) {
	var err error
	switch u.Kind {
	case UnitProcessJob:
		err = d.orch.ProcessJob(ctx, u.JobID)
	case UnitCondenseChapter:
		err = d.orch.CondenseChapter(ctx, u.JobID, u.ChapterID)
	default:
		d.logger.Error("unknown unit kind", "kind", u.Kind, "job_id", u.JobID)
		return
	}
	if err != nil {
		d.logger.Warn("unit finished with error", "kind", u.Kind, "job_id", u.JobID, "chapter_id", u.ChapterID, "error", err)
	}
}
