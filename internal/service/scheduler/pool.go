// Package scheduler runs analysis jobs through a fixed worker pool. Jobs
// start in submission order, concurrency is capped by the worker count, and
// each worker pauses between picking a job and running it so the model
// provider sees calls paced out rather than bursts.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ErrStopped resolves tasks submitted after the pool shut down.
var ErrStopped = errors.New("scheduler stopped")

const defaultQueueDepth = 1024

type task struct {
	ctx domain.Context
	run func(domain.Context) error
	out chan error
}

// Pool implements domain.Scheduler. Submit enqueues FIFO; workers dequeue,
// wait the inter-call delay, then run the task under its own context.
type Pool struct {
	workers int
	delay   time.Duration
	queue   chan task

	mu        sync.RWMutex
	stopped   bool
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewPool sizes a pool. workers below 1 and negative delays are clamped.
func NewPool(workers int, delay time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &Pool{
		workers: workers,
		delay:   delay,
		queue:   make(chan task, defaultQueueDepth),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop drains the queue and waits for in-flight tasks. Tasks already
// submitted still run (their contexts decide how quickly they resolve);
// later submissions fail with ErrStopped.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Submit queues one task. The returned channel receives exactly one value.
func (p *Pool) Submit(ctx domain.Context, run func(domain.Context) error) <-chan error {
	out := make(chan error, 1)
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		out <- fmt.Errorf("op=scheduler.Submit: %w", ErrStopped)
		return out
	}
	defer p.mu.RUnlock()
	select {
	case p.queue <- task{ctx: ctx, run: run, out: out}:
	case <-ctx.Done():
		out <- ctx.Err()
	}
	return out
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		t.out <- p.execute(t)
	}
}

func (p *Pool) execute(t task) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return t.ctx.Err()
		case <-timer.C:
		}
	}
	return p.runTask(t)
}

// runTask converts a panicking task into an error so one bad job cannot
// take a worker down with it.
func (p *Pool) runTask(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("op=scheduler.Pool: task panic: %v", r)
		}
	}()
	return t.run(t.ctx)
}
