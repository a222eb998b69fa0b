// Package pool implements the bounded worker pool spec.md §4.9 calls for:
// a fixed-capacity set of workers, with both a blocking enqueue (caller
// waits for a free slot) and a non-blocking bounded
// fan-out-and-collect-errors form. The trainer drives the per-feature
// histogram fan-out (§4.5) through it; gradients and leaf finalization
// run on the caller's goroutine.
package pool

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	metricQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tealtree_pool_queued",
		Help: "Number of tasks waiting for a worker slot, by pool name.",
	}, []string{"pool"})
	metricRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tealtree_pool_running",
		Help: "Number of tasks currently holding a worker slot, by pool name.",
	}, []string{"pool"})
)

// Pool bounds concurrent work to a fixed capacity via a weighted
// semaphore, the same primitive the teacher's shards/sched.go uses for
// its semaphoreScheduler, with the same queued/running gauge pair.
type Pool struct {
	name     string
	sem      *semaphore.Weighted
	capacity int64
	queued   prometheus.Gauge
	running  prometheus.Gauge
}

// New returns a Pool with the given capacity (number of concurrently
// runnable tasks), labeling its metrics with name.
func New(name string, capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		name:     name,
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		queued:   metricQueued.WithLabelValues(name),
		running:  metricRunning.WithLabelValues(name),
	}
}

// Capacity reports the pool's worker slot count.
func (p *Pool) Capacity() int { return int(p.capacity) }

// EnqueueBlocking blocks until a worker slot is free (mirroring
// build/builder.go's buffered-channel throttle:
// `b.throttle <- 1; go func() { ...; <-b.throttle }()`), then runs fn in
// a new goroutine and returns immediately. Use this form when the caller
// itself needs backpressure (e.g. a producer that must not race ahead of
// the workers).
func (p *Pool) EnqueueBlocking(ctx context.Context, fn func()) error {
	p.queued.Inc()
	err := p.sem.Acquire(ctx, 1)
	p.queued.Dec()
	if err != nil {
		return err
	}
	p.running.Inc()
	go func() {
		defer p.running.Dec()
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Enqueue is the non-blocking counterpart: it returns immediately and the
// returned goroutine waits for a slot internally, so the caller never
// blocks on pool capacity (fn's actual start may still be delayed until
// a slot frees up).
func (p *Pool) Enqueue(fn func()) {
	p.queued.Inc()
	go func() {
		p.sem.Acquire(context.Background(), 1)
		p.queued.Dec()
		p.running.Inc()
		defer p.running.Dec()
		defer p.sem.Release(1)
		fn()
	}()
}

// BoundedGroup fans work out across an errgroup.Group whose concurrency
// is capped by the owning Pool's semaphore: the idiomatic errgroup +
// semaphore.Weighted bounded-fan-out pairing (golang.org/x/sync's own
// documented pattern for this combination).
type BoundedGroup struct {
	pool *Pool
	g    *errgroup.Group
	ctx  context.Context
}

// Group returns a BoundedGroup bound to ctx: the first error from any Go
// call cancels the group's derived context, matching errgroup.WithContext.
func (p *Pool) Group(ctx context.Context) *BoundedGroup {
	g, gctx := errgroup.WithContext(ctx)
	return &BoundedGroup{pool: p, g: g, ctx: gctx}
}

// Go schedules fn and returns immediately; the group's goroutine waits
// for a worker slot before running fn. fn's error, if any, is collected
// by the group's Wait.
func (b *BoundedGroup) Go(fn func() error) {
	b.g.Go(func() error {
		b.pool.queued.Inc()
		err := b.pool.sem.Acquire(b.ctx, 1)
		b.pool.queued.Dec()
		if err != nil {
			return err
		}
		defer b.pool.sem.Release(1)
		b.pool.running.Inc()
		defer b.pool.running.Dec()
		return fn()
	})
}

// Wait blocks until every scheduled task has returned, yielding the first
// non-nil error encountered (if any), per errgroup.Group.Wait.
func (b *BoundedGroup) Wait() error { return b.g.Wait() }

// RunAll runs every task with bounded parallelism and waits for them all
// to finish. It has the exact shape internal/gbtree.GrowOptions.RunParallel
// expects, so a Pool can be wired in directly:
//
//	opts.RunParallel = myPool.RunAll
func (p *Pool) RunAll(tasks []func()) {
	g := p.Group(context.Background())
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			t()
			return nil
		})
	}
	_ = g.Wait()
}
