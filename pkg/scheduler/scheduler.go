// Package scheduler decides when and where the (request, tape) units of work run. A single
// allocator goroutine consumes events (request submitted, drive released, preemption
// requested) and hands out drives. Work units run on a worker pool and report back when
// they release their drive.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/materials-commons/tapehsm/pkg/status"
	"github.com/materials-commons/tapehsm/pkg/tape"
	"github.com/materials-commons/tapehsm/pkg/workpool"
	"github.com/pkg/errors"
)

type eventKind int

const (
	eventRequestSubmitted eventKind = iota
	eventDriveReleased
	eventPreemptRequested
)

func (k eventKind) String() string {
	switch k {
	case eventRequestSubmitted:
		return "request submitted"
	case eventDriveReleased:
		return "drive released"
	default:
		return "preempt requested"
	}
}

type Scheduler struct {
	inv         *inventory.Inventory
	library     tape.Library
	requests    stor.RequestStor
	jobs        stor.JobStor
	tracker     *status.Tracker
	pool        *workpool.Pool
	termination *hsm.Termination
	stats       *Stats

	statsInterval time.Duration

	// mu is the scheduler lock. Allocation, reservation and unit completion all hold it.
	mu      sync.Mutex
	runners map[hsm.Operation]UnitRunner
	active  map[string]*WorkUnit // by drive id
	stopped bool

	events   chan eventKind
	stopOnce sync.Once
	stopCh   chan struct{}
	loopDone chan struct{}
	ctx      context.Context
}

type Option func(s *Scheduler)

func WithTermination(t *hsm.Termination) Option {
	return func(s *Scheduler) {
		s.termination = t
	}
}

// WithStatsInterval sets how often the counters are logged, 0 turns logging off.
func WithStatsInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.statsInterval = interval
	}
}

func New(inv *inventory.Inventory, library tape.Library, stors *stor.Stors, tracker *status.Tracker, pool *workpool.Pool, opts ...Option) *Scheduler {
	s := &Scheduler{
		inv:           inv,
		library:       library,
		requests:      stors.RequestStor,
		jobs:          stors.JobStor,
		tracker:       tracker,
		pool:          pool,
		termination:   hsm.NewTermination(),
		stats:         newStats(),
		statsInterval: 10 * time.Second,
		runners:       make(map[hsm.Operation]UnitRunner),
		active:        make(map[string]*WorkUnit),
		events:        make(chan eventKind, 64),
		stopCh:        make(chan struct{}),
		loopDone:      make(chan struct{}),
		ctx:           context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterRunner sets the runner for units of op. Must happen before Start.
func (s *Scheduler) RegisterRunner(op hsm.Operation, runner UnitRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[op] = runner
}

func (s *Scheduler) Stats() *Stats {
	return s.stats
}

func (s *Scheduler) Termination() *hsm.Termination {
	return s.termination
}

func (s *Scheduler) Tracker() *status.Tracker {
	return s.tracker
}

// Start runs the allocator loop until ctx is done or Stop is called. Rows left NEW by an
// earlier run are picked up by an initial allocation pass.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.statsInterval > 0 {
		go s.stats.logStats(ctx, s.statsInterval)
	}

	go s.loop(ctx)
	s.notify(eventRequestSubmitted)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev := <-s.events:
			clog.Global().Debugf("allocator woken: %s", ev)
			s.allocate(ctx)
		}
	}
}

// notify never blocks. When the queue is full an allocation pass is already pending, and
// every pass looks at all waiting requests.
func (s *Scheduler) notify(ev eventKind) {
	select {
	case s.events <- ev:
	default:
	}
}

// Submit tells the allocator new request rows are waiting.
func (s *Scheduler) Submit() {
	s.notify(eventRequestSubmitted)
}

// Stop refuses new work, lets running units finish and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		close(s.stopCh)
		s.pool.Close()
	})

	s.pool.Wait()
}

func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Preempt asks whoever holds tapeID on behalf of a selective recall to give it up for op.
func (s *Scheduler) Preempt(tapeID string, op hsm.Operation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preempted := s.preemptLocked(tapeID, op)
	if preempted {
		s.notify(eventPreemptRequested)
	}
	return preempted
}

func (s *Scheduler) preemptLocked(tapeID string, op hsm.Operation) bool {
	preempted := false
	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		d := tx.DriveHolding(tapeID)
		if d == nil || !d.Busy || d.ToUnblock != hsm.OpNone {
			return nil
		}

		u, ok := s.active[d.ID]
		if !ok || u.Operation != hsm.OpSelRecall || op.Priority() >= u.Operation.Priority() {
			return nil
		}

		d.ToUnblock = op
		preempted = true
		return nil
	})

	if preempted {
		s.stats.preemptions.Inc(1)
		clog.Global().WithField("tape", tapeID).Infof("asked selective recall to release tape for %s", op)
	}

	return preempted
}

// ShouldSuspend is checked by preemptible units between files.
func (s *Scheduler) ShouldSuspend(u *WorkUnit) bool {
	if u.DriveID == "" {
		return false
	}

	suspend := false
	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		if d := tx.Drive(u.DriveID); d != nil {
			suspend = d.ToUnblock != hsm.OpNone
		}
		return nil
	})

	return suspend
}

// TryReserve takes the drive tapeID is mounted in if both are idle. The returned unit
// has to be passed to Enqueue, or to Release when it will not run.
func (s *Scheduler) TryReserve(u *WorkUnit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.termination.Terminated() {
		return false
	}

	reserved := false
	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		c := tx.Cartridge(u.TapeID)
		if c == nil || c.State != inventory.CartridgeMounted || c.InProgress {
			return nil
		}

		d := tx.DriveHolding(u.TapeID)
		if d == nil || !d.Free() {
			return nil
		}

		d.Busy = true
		c.State = inventory.CartridgeInUse
		c.InProgress = true
		u.DriveID = d.ID
		reserved = true
		return nil
	})

	if reserved {
		s.active[u.DriveID] = u
	}

	return reserved
}

// Release gives back the drive of a reserved unit that never ran.
func (s *Scheduler) Release(u *WorkUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseDriveLocked(u)
	s.notify(eventDriveReleased)
}

// Enqueue hands a unit whose request row is already INPROGRESS to the worker pool.
// batch may be nil.
func (s *Scheduler) Enqueue(u *WorkUnit, batch *workpool.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(u, batch)
}

func (s *Scheduler) enqueueLocked(u *WorkUnit, batch *workpool.Batch) error {
	if s.stopped {
		return hsm.ErrSchedulerStopped
	}

	if _, ok := s.runners[u.Operation]; !ok {
		return errors.Errorf("no runner for %s", u.Operation)
	}

	s.stats.queued.Inc(1)
	ctx := s.ctx
	err := s.pool.Enqueue(ctx, batch, func(ctx context.Context) {
		s.execute(ctx, u)
	}, func(cause error) {
		s.dropUnit(u, cause)
	})

	if err != nil {
		s.stats.queued.Dec(1)
		if errors.Is(err, workpool.ErrPoolClosed) {
			return hsm.ErrSchedulerStopped
		}
		return err
	}

	return nil
}
