// Package pool wraps ants worker pools with stats and lifecycle control.
//
// The service uses dedicated pools rather than bare goroutines so that
// background work (token accounting after stream aborts, cache
// invalidation fanout) is bounded and observable.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Type defines the type of worker pool.
type Type string

const (
	// DefaultPool is the general purpose pool.
	DefaultPool Type = "default"
	// AccountingPool runs token accounting tasks. Accounting must
	// complete even when the originating request context is gone, so
	// this pool never ties task execution to a request context.
	AccountingPool Type = "accounting"
	// BackgroundPool runs maintenance tasks such as cache invalidation
	// fanout and limiter cleanup.
	BackgroundPool Type = "background"
)

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolOverload is returned when a nonblocking pool is full.
	ErrPoolOverload = errors.New("pool is overloaded")
)

// Config defines the configuration for a worker pool.
type Config struct {
	// Capacity is the maximum number of concurrent workers.
	Capacity int
	// ExpiryDuration is how long an idle worker lives before reclaim.
	ExpiryDuration time.Duration
	// PreAlloc preallocates worker memory.
	PreAlloc bool
	// Nonblocking makes Submit return ErrPoolOverload when full
	// instead of blocking.
	Nonblocking bool
	// MaxBlockingTasks bounds the wait queue when Nonblocking is false.
	MaxBlockingTasks int
	// PanicHandler handles panics escaping a task.
	PanicHandler func(interface{})
}

// DefaultPoolConfig returns the general purpose pool configuration.
func DefaultPoolConfig() *Config {
	return &Config{
		Capacity:       1000,
		ExpiryDuration: 10 * time.Second,
	}
}

// AccountingPoolConfig returns the accounting pool configuration.
// Accounting tasks are small and must not be dropped, so the pool
// blocks briefly under load rather than rejecting.
func AccountingPoolConfig() *Config {
	return &Config{
		Capacity:         200,
		ExpiryDuration:   30 * time.Second,
		MaxBlockingTasks: 1000,
	}
}

// BackgroundPoolConfig returns the background pool configuration.
func BackgroundPoolConfig() *Config {
	return &Config{
		Capacity:         50,
		ExpiryDuration:   60 * time.Second,
		Nonblocking:      true,
		MaxBlockingTasks: 100,
	}
}

// Pool represents a worker pool.
type Pool struct {
	name     string
	typ      Type
	pool     *ants.Pool
	config   *Config
	stats    *statsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type statsCounter struct {
	SubmittedTasks atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
	RejectedTasks  atomic.Int64
	PanicRecovered atomic.Int64
}

// Stats contains a snapshot of pool statistics.
type Stats struct {
	SubmittedTasks int64
	CompletedTasks int64
	FailedTasks    int64
	RejectedTasks  int64
	PanicRecovered int64
}

// NewPool creates a new worker pool with the given configuration.
func NewPool(name string, typ Type, config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}

	p := &Pool{
		name:   name,
		typ:    typ,
		config: config,
		stats:  &statsCounter{},
	}

	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
	}
	if config.PanicHandler != nil {
		opts = append(opts, ants.WithPanicHandler(config.PanicHandler))
	} else {
		opts = append(opts, ants.WithPanicHandler(func(r interface{}) {
			logger.Errorw("Worker panic recovered", "pool", name, "panic", r)
		}))
	}

	pool, err := ants.NewPool(config.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"type", string(typ),
		"capacity", config.Capacity,
	)

	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Type returns the pool type.
func (p *Pool) Type() Type {
	return p.typ
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running returns the number of running workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free returns the number of available workers.
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Waiting returns the number of queued tasks.
func (p *Pool) Waiting() int {
	return p.pool.Waiting()
}

// Submit submits a task for execution.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		p.stats.SubmittedTasks.Add(1)

		defer func() {
			if r := recover(); r != nil {
				p.stats.PanicRecovered.Add(1)
				p.stats.FailedTasks.Add(1)
				panic(r)
			}
			p.stats.CompletedTasks.Add(1)
		}()

		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.stats.RejectedTasks.Add(1)
			return ErrPoolOverload
		}
		p.stats.FailedTasks.Add(1)
		return err
	}

	return nil
}

// SubmitWithContext submits a task that is skipped if ctx is already
// cancelled when the task starts.
func (p *Pool) SubmitWithContext(ctx context.Context, task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.Submit(func() {
		select {
		case <-ctx.Done():
			return
		default:
			task()
		}
	})
}

// Release closes the pool and releases its resources.
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return
	}

	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout closes the pool, waiting up to timeout for running
// tasks to finish.
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}

	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Tune adjusts the pool capacity at runtime.
func (p *Pool) Tune(size int) {
	p.pool.Tune(size)
	p.config.Capacity = size
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks: p.stats.SubmittedTasks.Load(),
		CompletedTasks: p.stats.CompletedTasks.Load(),
		FailedTasks:    p.stats.FailedTasks.Load(),
		RejectedTasks:  p.stats.RejectedTasks.Load(),
		PanicRecovered: p.stats.PanicRecovered.Load(),
	}
}
