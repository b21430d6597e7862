// Package status keeps the running counters of in-flight requests for progress polling.
package status

import (
	"sync"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

type Progress struct {
	RequestNum  int   `json:"request_num"`
	Resident    int64 `json:"resident"`
	Premigrated int64 `json:"premigrated"`
	Migrated    int64 `json:"migrated"`
	Failed      int64 `json:"failed"`
	Done        bool  `json:"done"`
}

// Total is the number of job rows the request has.
func (p Progress) Total() int64 {
	return p.Resident + p.Premigrated + p.Migrated + p.Failed
}

type entry struct {
	progress    Progress
	subscribers map[int]chan Progress
}

// Tracker has its own lock, a status reader never waits on the scheduler.
type Tracker struct {
	mu      sync.RWMutex
	entries map[int]*entry
	nextSub int
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[int]*entry)}
}

// counted maps a job row state to the counter it belongs to. A row in a transitional state
// still counts as the state the transition started from.
func counted(state hsm.FileState) hsm.FileState {
	switch state {
	case hsm.Premigrating:
		return hsm.Resident
	case hsm.Stubbing, hsm.RecallingPremig:
		return hsm.Premigrated
	case hsm.RecallingMig:
		return hsm.Migrated
	default:
		return state
	}
}

func (p *Progress) counter(state hsm.FileState) *int64 {
	switch counted(state) {
	case hsm.Resident:
		return &p.Resident
	case hsm.Premigrated:
		return &p.Premigrated
	case hsm.Migrated:
		return &p.Migrated
	default:
		return &p.Failed
	}
}

// Add registers requestNum seeded with the per-state row counts the job store reports.
// It has to happen before any unit of the request runs, updates for unknown requests are
// dropped. Adding a request again replaces the counters and clears done.
func (t *Tracker) Add(requestNum int, counts map[hsm.FileState]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[requestNum]
	if !ok {
		e = &entry{subscribers: make(map[int]chan Progress)}
		t.entries[requestNum] = e
	}

	e.progress = ProgressFromCounts(requestNum, counts)
}

// ProgressFromCounts builds the counters of requestNum from per-state job row counts.
func ProgressFromCounts(requestNum int, counts map[hsm.FileState]int64) Progress {
	p := Progress{RequestNum: requestNum}
	for state, count := range counts {
		*p.counter(state) += count
	}
	return p
}

func (t *Tracker) UpdateSuccess(requestNum int, from, to hsm.FileState) {
	t.update(requestNum, func(p *Progress) {
		*p.counter(from)--
		*p.counter(to)++
	})
}

func (t *Tracker) UpdateFailed(requestNum int, from hsm.FileState) {
	t.update(requestNum, func(p *Progress) {
		*p.counter(from)--
		p.Failed++
	})
}

func (t *Tracker) update(requestNum int, fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[requestNum]; ok && !e.progress.Done {
		fn(&e.progress)
	}
}

// SetDone marks the request finished and tells subscribers.
func (t *Tracker) SetDone(requestNum int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[requestNum]
	if !ok {
		return
	}

	e.progress.Done = true
	publish(e)
}

func (t *Tracker) Query(requestNum int) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[requestNum]
	if !ok {
		return Progress{RequestNum: requestNum}, false
	}

	return e.progress, true
}

// Notify publishes the current counters of requestNum to its subscribers.
func (t *Tracker) Notify(requestNum int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[requestNum]; ok {
		publish(e)
	}
}

// Subscribe returns a channel that receives the latest counters on every Notify and on
// SetDone. Slow readers only miss intermediate snapshots. The cancel func must be called.
func (t *Tracker) Subscribe(requestNum int) (<-chan Progress, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[requestNum]
	if !ok {
		return nil, func() {}, false
	}

	t.nextSub++
	id := t.nextSub
	ch := make(chan Progress, 1)
	e.subscribers[id] = ch
	ch <- e.progress

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(e.subscribers, id)
	}

	return ch, cancel, true
}

func publish(e *entry) {
	for _, ch := range e.subscribers {
		// Replace a snapshot nobody read yet.
		select {
		case <-ch:
		default:
		}
		ch <- e.progress
	}
}
