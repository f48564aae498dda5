package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Group is a fan-in barrier over tasks submitted to a Pool. Wait returns only
// after every task accepted by Go has finished, and reports all of their
// errors joined.
type Group struct {
	pool *Pool

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Group starts a new barrier on p.
func (p *Pool) Group() *Group { return &Group{pool: p} }

// Go submits fn. A submission error (ErrSaturated, ErrClosed, ctx) is returned
// and fn never runs; it is not recorded for Wait.
func (g *Group) Go(ctx context.Context, fn func() error) error {
	g.wg.Add(1)
	err := g.pool.Submit(ctx, func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.record(fmt.Errorf("workerpool: task panic: %v", r))
			}
		}()
		if err := fn(); err != nil {
			g.record(err)
		}
	})
	if err != nil {
		g.wg.Done()
	}
	return err
}

// Wait blocks until all accepted tasks have finished.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}
