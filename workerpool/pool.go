// Package workerpool runs background work, such as session resolution, on a
// bounded ants pool.
package workerpool

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/config"
)

var ErrPoolNotConfigured = errors.New("worker pool is not configured")

// Pool is the part of ants the portal depends on.
type Pool interface {
	Submit(ctx context.Context, task func()) error
	Running() int
	Shutdown()
}

// Options defines configurable options for the worker pool.
type Options struct {
	Capacity       int
	ExpiryDuration time.Duration
	Nonblocking    bool
	PanicHandler   func(any)
	Logger         *util.LogEntry
}

// Option defines a function that configures worker pool options.
type Option func(*Options)

// WithCapacity sets the number of goroutines the pool may run at once.
func WithCapacity(capacity int) Option {
	return func(opts *Options) {
		opts.Capacity = capacity
	}
}

// WithExpiryDuration sets how long idle workers are kept.
func WithExpiryDuration(duration time.Duration) Option {
	return func(opts *Options) {
		opts.ExpiryDuration = duration
	}
}

// WithNonblocking makes Submit fail instead of waiting when the pool is full.
func WithNonblocking(nonblocking bool) Option {
	return func(opts *Options) {
		opts.Nonblocking = nonblocking
	}
}

// WithPanicHandler sets the handler for panics raised by tasks.
func WithPanicHandler(handler func(any)) Option {
	return func(opts *Options) {
		opts.PanicHandler = handler
	}
}

// WithLogger sets the logger ants reports through.
func WithLogger(logger *util.LogEntry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// New creates a pool sized from cfg.
func New(ctx context.Context, cfg config.ConfigurationWorkerPool, opts ...Option) (Pool, error) {
	log := util.Log(ctx)

	o := &Options{
		Capacity:       cfg.GetCapacity(),
		ExpiryDuration: cfg.GetExpiryDuration(),
		Nonblocking:    true,
		Logger:         log,
		PanicHandler: func(r any) {
			log.WithField("panic", r).Error("worker task panicked")
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	antsOpts := []ants.Option{
		ants.WithNonblocking(o.Nonblocking),
		ants.WithLogger(o.Logger),
	}
	if o.ExpiryDuration > 0 {
		antsOpts = append(antsOpts, ants.WithExpiryDuration(o.ExpiryDuration))
	}
	if o.PanicHandler != nil {
		antsOpts = append(antsOpts, ants.WithPanicHandler(o.PanicHandler))
	}

	p, err := ants.NewPool(o.Capacity, antsOpts...)
	if err != nil {
		return nil, err
	}
	return &antsPool{pool: p}, nil
}

type antsPool struct {
	pool *ants.Pool
}

func (w *antsPool) Submit(ctx context.Context, task func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return w.pool.Submit(task)
}

func (w *antsPool) Running() int {
	return w.pool.Running()
}

func (w *antsPool) Shutdown() {
	w.pool.Release()
}
