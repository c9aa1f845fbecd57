package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRunnerStopped is returned by Do after Stop.
var ErrRunnerStopped = errors.New("server: runner stopped")

// job is a unit of work executed on a runner goroutine.
type job struct {
	fn   func()
	done chan error
}

// Runner executes jobs on a fixed pool of goroutines, bounding how many
// programs run at once. Each job builds its own Executor, so workers share
// nothing but the immutable Module.
type Runner struct {
	jobs chan job
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewRunner starts workers goroutines. Fewer than one means one.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.loop()
	}
	return r
}

// loop processes jobs until Stop.
func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.jobs:
			j.done <- r.execute(j.fn)
		case <-r.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (r *Runner) execute(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("server: job panicked: %v", p)
		}
	}()
	fn()
	return nil
}

// Do runs fn on a worker and blocks until it completes. It gives up waiting
// for a free worker when ctx is done; a job already running is expected to
// watch ctx itself.
func (r *Runner) Do(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case r.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return ErrRunnerStopped
	}
	return <-j.done
}

// Stop shuts down the workers after their current jobs finish.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.quit) })
	r.wg.Wait()
}
