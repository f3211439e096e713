// Package pool implements a fixed-size worker pool: a bounded job queue
// delivering jobs to a fixed number of goroutine workers, each running
// jobs inside a panic-isolating scope so a single job's panic terminates
// only that job, never the worker or the pool.
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// Job is a unit of work submitted to the pool. It corresponds to one
// accepted connection in the server.
type Job func()

// Pool is a fixed-size worker pool with a bounded job queue.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	logger  zerolog.Logger
	workers int
}

// New starts a pool of size workers (runtime.NumCPU() if size <= 0)
// pulling from a queue of the given capacity.
func New(size, queueCapacity int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}

	p := &Pool{
		jobs:    make(chan Job, queueCapacity),
		logger:  logger,
		workers: size,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(id, job)
	}
}

// run executes job inside a recover scope: a panic is caught, logged, and
// the worker loop continues to pull the next job.
func (p *Pool) run(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", workerID).
				Interface("panic", r).
				Msg("job panicked; worker continues")
		}
	}()
	job()
}

// Submit enqueues job. It blocks if the queue is full.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// TrySubmit enqueues job without blocking, reporting whether it fit.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Shutdown closes the job queue and blocks until every worker has
// drained it and exited.
func (p *Pool) Shutdown() error {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info().Int("workers", p.workers).Msg("pool shut down")
	return nil
}

// String implements fmt.Stringer for diagnostic logging.
func (p *Pool) String() string {
	return fmt.Sprintf("pool{workers=%d, queued=%d}", p.workers, len(p.jobs))
}
