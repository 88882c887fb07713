package pool

import (
	"context"
	"sync"
)

// Task is a short-lived work item: a dispatcher handler or a broadcast
// fan-out pass.
type Task func()

// Pool runs tasks on a fixed set of worker goroutines with a bounded queue.
type Pool struct {
	workers int
	tasks   chan Task
	ctx     context.Context
	wg      sync.WaitGroup
}

func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers * 100
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit queues a task. When the queue is full the task runs on the calling
// goroutine instead of being dropped.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
	default:
		task()
	}
}

// Stop drains queued tasks and waits for the workers to exit.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}
