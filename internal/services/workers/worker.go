package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrPoolClosed is returned by Submit after Wait has been called
var ErrPoolClosed = errors.New("worker pool closed")

// Processor handles one task. Errors are logged by the worker and never stop
// the pool.
type Processor[T any] interface {
	Process(ctx context.Context, task T) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc[T any] func(ctx context.Context, task T) error

func (f ProcessorFunc[T]) Process(ctx context.Context, task T) error {
	return f(ctx, task)
}

// Worker pulls tasks from the pool channel until it closes or ctx ends
type Worker[T any] struct {
	id        string
	processor Processor[T]
	log       *slog.Logger
}

// NewWorker creates a new worker instance
func NewWorker[T any](id string, processor Processor[T]) *Worker[T] {
	return &Worker[T]{
		id:        id,
		processor: processor,
		log:       slog.Default().With("worker", id),
	}
}

// run is the main worker loop
func (w *Worker[T]) run(ctx context.Context, tasks <-chan T, wg *sync.WaitGroup) {
	defer wg.Done()

	w.log.Debug("worker starting")
	defer w.log.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.process(ctx, task); err != nil {
				w.log.Warn("task failed", "error", err)
			}
		}
	}
}

// process runs one task, turning a panic into an error
func (w *Worker[T]) process(ctx context.Context, task T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.processor.Process(ctx, task)
}

// WorkerPool runs a fixed number of workers over an unbuffered task channel
type WorkerPool[T any] struct {
	workers []*Worker[T]
	tasks   chan T
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWorkerPool creates a pool of workerCount workers sharing processor.
// A count below one is treated as one.
func NewWorkerPool[T any](processor Processor[T], workerCount int) *WorkerPool[T] {
	if workerCount < 1 {
		workerCount = 1
	}
	pool := &WorkerPool[T]{
		workers: make([]*Worker[T], workerCount),
		tasks:   make(chan T),
	}

	for i := 0; i < workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		pool.workers[i] = NewWorker(workerID, processor)
	}

	return pool
}

// Size is the number of workers
func (p *WorkerPool[T]) Size() int {
	return len(p.workers)
}

// Start starts all workers
func (p *WorkerPool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	slog.Debug("starting worker pool", "workers", len(p.workers))

	for _, worker := range p.workers {
		p.wg.Add(1)
		go worker.run(ctx, p.tasks, &p.wg)
	}

	p.started = true
	return nil
}

// Submit hands task to the next free worker. It blocks until a worker takes
// it or ctx is done.
func (p *WorkerPool[T]) Submit(ctx context.Context, task T) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- task:
		return nil
	}
}

// Wait closes the task channel and blocks until every worker has finished.
// Submit must not be called concurrently with Wait.
func (p *WorkerPool[T]) Wait() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
