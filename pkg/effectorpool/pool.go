// Package effectorpool bounds the concurrency of blocking host operations
// (qemu-img invocations, switch socket I/O, hypervisor calls) so they never
// pile up on the RPC-serving goroutines.
package effectorpool

import (
	"context"

	"github.com/cuemby/virtus/pkg/verr"
)

// DefaultSize is the worker count used when none is configured.
const DefaultSize = 4

type task struct {
	fn   func() error
	done chan error
}

// Pool is a fixed-size worker pool. Do blocks the caller until the task
// completes, but at most size tasks touch host daemons at once.
type Pool struct {
	tasks  chan task
	stopCh chan struct{}
}

// New starts a pool with the given number of workers.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{
		tasks:  make(chan task),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case t := <-p.tasks:
			t.done <- t.fn()
		case <-p.stopCh:
			return
		}
	}
}

// Do runs fn on a pool worker and waits for it. If no worker frees up
// before ctx expires the task is abandoned unstarted.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return verr.Wrap(verr.KindUnavailable, "effector pool", ctx.Err())
	case <-p.stopCh:
		return verr.Unavailablef("effector pool stopped")
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// The task keeps running on its worker; effectors are re-runnable
		// so the caller may retry once it completes.
		return verr.Wrap(verr.KindUnavailable, "effector pool", ctx.Err())
	}
}

// Stop shuts the pool down. In-flight tasks finish; queued tasks are
// rejected.
func (p *Pool) Stop() {
	close(p.stopCh)
}
