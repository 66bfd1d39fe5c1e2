// Package worker runs background tasks on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
)

var (
	// ErrPoolClosed is returned by Submit after Stop
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned by Submit before Start
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrQueueFull is returned by TrySubmit when no queue slot is free
	ErrQueueFull = errors.New("worker queue is full")
)

// Task is a unit of work. ctx is canceled when the pool stops.
type Task func(ctx context.Context)

// Pool runs tasks from a buffered queue on a fixed set of goroutines
type Pool struct {
	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	size    int
	started bool
	stopped bool
}

// NewPool creates a pool whose queue holds up to bufferSize waiting tasks
func NewPool(bufferSize int) *Pool {
	if bufferSize < 0 {
		bufferSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:  make(chan Task, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches workerCount goroutines
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(id)
		}(i)
	}
	p.size = workerCount
	p.started = true
	return nil
}

func (p *Pool) run(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker %d: task panicked: %v\n%s", id, r, debug.Stack())
		}
	}()
	task(p.ctx)
}

func (p *Pool) accepting() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	return nil
}

// Submit queues a task. It blocks while the queue is full until ctx is done or the pool stops.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues a task without waiting. It returns ErrQueueFull when the
// queue has no free slot and no worker is ready to take the task.
func (p *Pool) TrySubmit(task Task) error {
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
		return ErrQueueFull
	}
}

// Stop cancels running tasks' context and waits for workers to exit.
// Tasks still queued are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Size returns the number of worker goroutines
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Pending returns the number of queued tasks
func (p *Pool) Pending() int {
	return len(p.tasks)
}
