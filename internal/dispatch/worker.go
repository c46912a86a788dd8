package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chamada/internal/orchestrator"
	"chamada/pkg/logger"
)

var (
	ErrAtCapacity   = errors.New("dispatch: too many calls in progress")
	ErrShuttingDown = errors.New("dispatch: shutting down")
)

// Runner drives one call to completion.
type Runner interface {
	Run(ctx context.Context, job orchestrator.Job) error
}

// Worker runs at most size calls at once, each in its own goroutine.
type Worker struct {
	run   Runner
	slots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWorker returns a pool whose calls inherit ctx values (the logger) but
// are only cancelled by Shutdown.
func NewWorker(ctx context.Context, run Runner, size int) *Worker {
	if size <= 0 {
		size = 20
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Worker{
		run:    run,
		slots:  make(chan struct{}, size),
		ctx:    jobCtx,
		cancel: cancel,
	}
}

// Ticket is a reserved slot. Exactly one of Start or Release takes effect.
type Ticket struct {
	w    *Worker
	once sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Reserve claims a slot without blocking.
func (w *Worker) Reserve() (*Ticket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrShuttingDown
	}
	select {
	case w.slots <- struct{}{}:
		w.wg.Add(1)
		return &Ticket{w: w}, nil
	default:
		return nil, ErrAtCapacity
	}
}

// Start runs job in the reserved slot. done, when set, is called with the
// job's result before the slot is freed.
func (t *Ticket) Start(job orchestrator.Job, done func(error)) {
	t.once.Do(func() {
		ctx, cancel := context.WithCancel(logger.ForCall(t.w.ctx, job.CallID, job.RoomName))
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		go t.w.execute(ctx, cancel, job, done)
	})
}

// Cancel stops a started job. It does nothing before Start.
func (t *Ticket) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Release gives the slot back unused.
func (t *Ticket) Release() {
	t.once.Do(t.w.free)
}

func (w *Worker) free() {
	<-w.slots
	w.wg.Done()
}

func (w *Worker) execute(ctx context.Context, cancel context.CancelFunc, job orchestrator.Job, done func(error)) {
	defer w.free()
	defer cancel()
	log := logger.From(ctx)

	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Error("call panicked", "panic", r)
			err = fmt.Errorf("dispatch: call panicked: %v", r)
		}
		if done != nil {
			done(err)
		}
	}()
	if err = w.run.Run(ctx, job); err != nil {
		log.Warn("call did not complete", "err", err)
	}
}

// Active is the number of reserved or running slots.
func (w *Worker) Active() int { return len(w.slots) }

// Shutdown stops accepting calls and waits for running ones to end. When ctx
// expires first, running calls are cancelled and Shutdown returns ctx.Err()
// once they have returned.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
