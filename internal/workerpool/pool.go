// Package workerpool is a bounded task pool with a core set of long-lived
// workers, a fixed-capacity queue, and burst workers up to a maximum.
//
// Submission order: a free queue slot is used first; when the queue is full a
// burst worker is started (up to Max); when both are exhausted the saturation
// Policy decides between blocking the caller and rejecting with ErrSaturated.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrSaturated is returned by Submit under PolicyReject when every worker
	// is busy and the queue is full.
	ErrSaturated = errors.New("workerpool: saturated")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("workerpool: closed")
)

// Policy decides what Submit does when the pool is saturated.
type Policy int

const (
	PolicyBlock Policy = iota
	PolicyReject
)

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "block"
}

// ParsePolicy accepts "block" or "reject".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "block":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyBlock, fmt.Errorf("workerpool: unknown saturation policy %q (want block|reject)", s)
	}
}

// Config sizes the pool.
type Config struct {
	Core      int
	Max       int
	Queue     int
	Policy    Policy
	KeepAlive time.Duration // idle lifetime of burst workers
	Clock     clockwork.Clock
}

// Validate checks sizes and fills defaults for KeepAlive and Clock.
func (c *Config) Validate() error {
	if c.Core < 1 {
		return errors.New("workerpool: core must be >= 1")
	}
	if c.Max < c.Core {
		return fmt.Errorf("workerpool: max (%d) must be >= core (%d)", c.Max, c.Core)
	}
	if c.Queue < 0 {
		return errors.New("workerpool: queue must be >= 0")
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = time.Minute
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers   int
	Submitted int64
	Completed int64
	Rejected  int64
}

// Pool runs submitted tasks on a bounded set of goroutines. Its lifetime is
// owned by the caller: create it once, share it across runs, Close it at exit.
type Pool struct {
	cfg   Config
	queue chan func()
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	workers int

	inflight sync.WaitGroup // Submit calls past the closed check
	running  sync.WaitGroup // worker goroutines

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// New starts the core workers.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:   cfg,
		queue: make(chan func(), cfg.Queue),
		done:  make(chan struct{}),
	}
	p.mu.Lock()
	for i := 0; i < cfg.Core; i++ {
		p.spawnLocked(nil, true)
	}
	p.mu.Unlock()
	return p, nil
}

// Submit schedules task. Under PolicyBlock it waits for queue space until ctx
// is done; under PolicyReject it returns ErrSaturated immediately.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return errors.New("workerpool: nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.inflight.Add(1)
	defer p.inflight.Done()

	select {
	case p.queue <- task:
		p.mu.Unlock()
		p.submitted.Add(1)
		return nil
	default:
	}

	if p.workers < p.cfg.Max {
		p.spawnLocked(task, false)
		p.mu.Unlock()
		p.submitted.Add(1)
		return nil
	}
	p.mu.Unlock()

	if p.cfg.Policy == PolicyReject {
		p.rejected.Add(1)
		return ErrSaturated
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets queued tasks finish, and waits for every
// worker to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.running.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()

	// Blocked submitters still get their task queued; workers keep draining.
	p.inflight.Wait()
	close(p.done)
	p.running.Wait()
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	w := p.workers
	p.mu.Unlock()
	return Stats{
		Workers:   w,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Config returns the validated configuration.
func (p *Pool) Config() Config { return p.cfg }

func (p *Pool) spawnLocked(first func(), core bool) {
	p.workers++
	p.running.Add(1)
	go p.worker(first, core)
}

func (p *Pool) worker(first func(), core bool) {
	defer p.running.Done()

	if first != nil {
		p.run(first)
	}

	var idle <-chan time.Time
	for {
		if !core {
			idle = p.cfg.Clock.After(p.cfg.KeepAlive)
		}
		select {
		case t := <-p.queue:
			p.run(t)
		case <-idle:
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			return
		case <-p.done:
			p.drain()
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		default:
			return
		}
	}
}

func (p *Pool) run(t func()) {
	defer p.completed.Add(1)
	t()
}
