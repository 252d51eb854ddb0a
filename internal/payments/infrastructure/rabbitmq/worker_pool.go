package rabbitmq

import (
	"sync"
	"sync/atomic"

	"github.com/webshop-labs/orderflow/internal/metrics"
)

// WorkerPool fans settlement work out over a fixed set of goroutines so one
// slow database round-trip does not stall the rest of the prefetch window.
type WorkerPool struct {
	size     int
	jobs     chan func()
	quit     chan struct{}
	active   atomic.Int64
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool starts size workers. The job buffer holds two jobs per
// worker; once it fills, Submit blocks, which backpressures the consume loop.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	wp := &WorkerPool{
		size: size,
		jobs: make(chan func(), size*2),
		quit: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.quit:
			return
		case job := <-wp.jobs:
			metrics.SetWorkerPoolJobsQueued(len(wp.jobs))
			metrics.SetWorkerPoolJobsActive(int(wp.active.Add(1)))
			job()
			metrics.SetWorkerPoolJobsActive(int(wp.active.Add(-1)))
		}
	}
}

// Submit hands a job to the pool. After Stop it is a no-op. Jobs still queued
// when the pool stops are abandoned: their deliveries stay unacked and the
// broker redelivers them.
func (wp *WorkerPool) Submit(job func()) {
	select {
	case <-wp.quit:
		return
	default:
	}

	select {
	case <-wp.quit:
	case wp.jobs <- job:
		metrics.SetWorkerPoolJobsQueued(len(wp.jobs))
	}
}

// Stop signals the workers and waits for in-flight jobs to finish. Safe to
// call more than once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() { close(wp.quit) })
	wp.wg.Wait()
}
