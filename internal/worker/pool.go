// Package worker bounds how much CPU-heavy work the server does at once.
//
// Password hashing is intentionally expensive. Without a bound, a burst of
// logins would start one bcrypt per request and starve every other
// goroutine. The Pool runs a fixed number of workers; callers hand them a
// function and wait for the result with their own request context.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Do after Stop.
var ErrPoolClosed = errors.New("worker: pool closed")

type job struct {
	fn     func() error
	result chan error
}

// Pool is a fixed set of goroutines draining a job channel.
type Pool struct {
	size      int
	logger    *slog.Logger
	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a pool with size workers. It does nothing until Start.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:   size,
		logger: logger,
		jobs:   make(chan job),
		done:   make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", slog.Int("workers", p.size))
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
	})
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down worker pool")
		close(p.done)
		p.wg.Wait()
	})
}

// Do runs fn on a worker and returns its error.
//
// If ctx ends first, Do returns ctx.Err(). A job that already started keeps
// running to completion on its worker; only the caller stops waiting.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{fn: fn, result: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			j.result <- p.run(id, j.fn)
		}
	}
}

// run executes fn, turning a panic into an error so one bad job does not
// take a worker down.
func (p *Pool) run(id int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", slog.Int("worker", id), slog.Any("panic", r))
			err = fmt.Errorf("worker: job panicked: %v", r)
		}
	}()
	return fn()
}
