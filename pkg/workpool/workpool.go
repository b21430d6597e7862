// Package workpool runs units of work on a bounded number of workers.
package workpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool is closed")

type Pool struct {
	name    string
	size    int64
	sem     *semaphore.Weighted
	all     sync.WaitGroup
	running atomic.Int64
	waiting atomic.Int64

	mu     sync.Mutex
	closed bool
}

// Batch is a join-all barrier over a subset of the work submitted to a pool.
type Batch struct {
	wg sync.WaitGroup
}

func NewBatch() *Batch {
	return &Batch{}
}

// Wait blocks until every unit enqueued with this batch has finished.
func (b *Batch) Wait() {
	b.wg.Wait()
}

func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}

	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Running is the number of units currently holding a worker.
func (p *Pool) Running() int64 {
	return p.running.Load()
}

// Waiting is the number of units queued for a free worker.
func (p *Pool) Waiting() int64 {
	return p.waiting.Load()
}

// Enqueue schedules fn and returns without waiting for a worker. Units start in the order
// they were enqueued. If ctx ends before a worker frees up fn is never run: dropped, when
// not nil, gets the reason instead and the batch is still released.
func (p *Pool) Enqueue(ctx context.Context, batch *Batch, fn func(ctx context.Context), dropped func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.all.Add(1)
	if batch != nil {
		batch.wg.Add(1)
	}
	p.waiting.Add(1)

	go func() {
		defer func() {
			if batch != nil {
				batch.wg.Done()
			}
			p.all.Done()
		}()

		err := p.sem.Acquire(ctx, 1)
		p.waiting.Add(-1)
		if err != nil {
			log.Warnf("%s: unit dropped before it started: %s", p.name, err)
			if dropped != nil {
				dropped(err)
			}
			return
		}

		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.sem.Release(1)
		}()

		fn(ctx)
	}()

	return nil
}

// Close refuses new work. Work already enqueued still runs.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until all enqueued work has finished.
func (p *Pool) Wait() {
	p.all.Wait()
}
