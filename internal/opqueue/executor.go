// Package opqueue runs background store mutations on a small pool of
// workers sharded by tree path. Ops submitted for the same key run in FIFO
// order, which is what gives a session its issuance-order guarantee for
// writes to the same receipt or notification path; ops for different keys
// may run in parallel.
package opqueue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
)

// Op is a unit of background work, usually one store mutation.
type Op interface {
	Run(ctx context.Context) error
}

// OpFunc adapts a function to the Op interface.
type OpFunc func(ctx context.Context) error

// Run implements Op.
func (f OpFunc) Run(ctx context.Context) error { return f(ctx) }

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("opqueue: executor closed")

// QueueFullError reports back-pressure on one shard.
type QueueFullError struct {
	Shard    int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return "opqueue: shard queue full"
}

// Config tunes the executor. Zero values select the defaults.
type Config struct {
	Shards         int           // worker count, default 4
	QueueSize      int           // per-shard buffer, default 256
	EnqueueTimeout time.Duration // how long Submit waits for space, default 100ms
	MaxAttempts    int           // attempts per op incl. the first, default 6
	BaseBackoff    time.Duration // initial retry interval, default 100ms
	MaxInterval    time.Duration // retry interval ceiling, default 10s

	// OnGiveUp is invoked when an op exhausts its attempts or fails with a
	// non-retryable error. Optional.
	OnGiveUp func(err error)
}

func (c *Config) resolve() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
}

type queued struct {
	ctx context.Context
	op  Op
}

// Executor is the sharded worker pool. Close drains every shard before
// returning and is idempotent.
type Executor struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queued
	done   chan struct{}
	closed uint32
	wg     sync.WaitGroup
}

// New starts the executor's workers.
func New(cfg Config, log zerolog.Logger) *Executor {
	cfg.resolve()
	e := &Executor{
		cfg:    cfg,
		log:    log,
		queues: make([]chan queued, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := range e.queues {
		e.queues[i] = make(chan queued, cfg.QueueSize)
		e.wg.Add(1)
		go e.worker(i, e.queues[i])
	}
	return e
}

// Submit enqueues op on the shard derived from key. It fails with ErrClosed
// after Close, with a *QueueFullError when the shard stays full past the
// enqueue timeout, or with ctx.Err() if the caller gives up first.
func (e *Executor) Submit(ctx context.Context, key string, op Op) error {
	if atomic.LoadUint32(&e.closed) == 1 {
		return ErrClosed
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	shard := e.shardFor(key)
	timer := time.NewTimer(e.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case e.queues[shard] <- queued{ctx: ctx, op: op}:
		opsSubmittedTotal.Inc()
		queueDepth.Set(e.depth())
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		opsRejectedTotal.Inc()
		return &QueueFullError{Shard: shard, Capacity: cap(e.queues[shard])}
	}
}

// Barrier waits until every op previously submitted for key has run, by
// queuing a no-op behind them.
func (e *Executor) Barrier(ctx context.Context, key string) error {
	ran := make(chan struct{})
	if err := e.Submit(ctx, key, OpFunc(func(context.Context) error {
		close(ran)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ran:
		return nil
	}
}

// Close stops accepting work, drains the shards and waits for the workers.
func (e *Executor) Close() error {
	if !atomic.CompareAndSwapUint32(&e.closed, 0, 1) {
		return nil
	}
	close(e.done)
	e.wg.Wait()
	return nil
}

func (e *Executor) worker(idx int, ch <-chan queued) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Int("shard", idx).Interface("panic", r).Msg("opqueue worker panicked")
		}
	}()

	for {
		select {
		case q := <-ch:
			e.runWithRetry(q)
			queueDepth.Set(e.depth())
		case <-e.done:
			// Drain what is already queued, preserving FIFO, then exit.
			for {
				select {
				case q := <-ch:
					e.runWithRetry(q)
				default:
					queueDepth.Set(e.depth())
					return
				}
			}
		}
	}
}

func (e *Executor) runWithRetry(q queued) {
	if q.op == nil {
		return
	}
	if err := q.ctx.Err(); err != nil {
		e.giveUp(err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.BaseBackoff
	exp.MaxInterval = e.cfg.MaxInterval
	exp.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = q.op.Run(q.ctx)
		if err == nil {
			return
		}
		if !syncerr.Retryable(err) || attempt >= e.cfg.MaxAttempts {
			e.giveUp(err)
			return
		}
		opsRetriedTotal.Inc()
		select {
		case <-time.After(exp.NextBackOff()):
		case <-q.ctx.Done():
			e.giveUp(q.ctx.Err())
			return
		case <-e.done:
			// Shutting down; one last immediate attempt happens on drain
			// only if the op is still queued, so give up here.
			e.giveUp(err)
			return
		}
	}
}

func (e *Executor) giveUp(err error) {
	if err == nil {
		return
	}
	opsFailedTotal.Inc()
	e.log.Warn().Err(err).Msg("background op gave up")
	if e.cfg.OnGiveUp == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("opqueue give-up handler panicked")
		}
	}()
	e.cfg.OnGiveUp(err)
}

func (e *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % e.cfg.Shards
}

func (e *Executor) depth() float64 {
	total := 0
	for _, q := range e.queues {
		total += len(q)
	}
	return float64(total)
}
