// Package processing runs inference calls on a fixed pool of worker
// goroutines so a backend that is not safe for concurrent use sees at most N
// calls at a time. Goroutines + a buffered channel power the implementation.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/dharsanguruparan/vanguard/internal/logging"
)

// ErrQueueFull is returned by Submit when the buffered queue has no room.
var ErrQueueFull = errors.New("processing queue full")

// ErrStopped is returned by Submit after the pool has been stopped.
var ErrStopped = errors.New("processing pool stopped")

// Job is one unit of work. Run receives the submitter's context.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Processor consumes Jobs on a fixed number of workers.
type Processor struct {
	queue   chan task
	workers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		// Buffered so short bursts queue up instead of failing immediately.
		queue:   make(chan task, workers*4),
		workers: workers,
	}
}

// Workers returns the pool size.
func (p *Processor) Workers() int { return p.workers }

// Start launches worker goroutines. Workers exit when ctx is cancelled or
// Stop is called.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues job and blocks until it has run or ctx is done. A full queue
// fails fast with ErrQueueFull.
func (p *Processor) Submit(ctx context.Context, job Job) error {
	t := task{ctx: ctx, job: job, done: make(chan error, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrStopped
	}
	select {
	case p.queue <- t:
	default:
		p.mu.RUnlock()
		logging.Warnf("processor queue full, dropping job %s", job.Name)
		return ErrQueueFull
	}
	p.mu.RUnlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(t)
		}
	}
}

func (p *Processor) process(t task) {
	// The submitter may have given up while the job sat in the queue.
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	t.done <- t.job.Run(t.ctx)
}
