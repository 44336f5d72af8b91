// Package local implements engine.Engine as a bounded pool of goroutines,
// the only backend this core ships (see package engine doc comment for why
// Temporal is not wired in).
package local

import (
	"context"
	"sync"

	"github.com/loomrun/agentcore/internal/engine"
	"github.com/loomrun/agentcore/internal/errs"
)

// Pool is a bounded goroutine-pool engine.Engine.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	running  int
	shutdown bool
}

// New builds a Pool accepting up to size concurrent tasks.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

var _ engine.Engine = (*Pool)(nil)

func (p *Pool) Submit(ctx context.Context, task engine.Task) (engine.Handle, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, errs.New(errs.Internal, "engine is shut down")
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.AdmissionTimeout, "worker pool saturated", ctx.Err())
	}

	p.mu.Lock()
	p.running++
	p.mu.Unlock()
	p.wg.Add(1)

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer func() {
			<-p.sem
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			p.wg.Done()
			close(h.done)
		}()
		h.err = task(taskCtx)
	}()

	return h, nil
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *handle) Done() <-chan struct{} { return h.done }
func (h *handle) Err() error            { return h.err }
func (h *handle) Cancel()               { h.cancel() }
