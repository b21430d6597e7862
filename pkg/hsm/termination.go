package hsm

import "sync/atomic"

// Termination carries the process wide stop flags. Terminate is checked between files,
// Forced additionally between transfer chunks.
type Termination struct {
	terminate atomic.Bool
	forced    atomic.Bool
}

func NewTermination() *Termination {
	return &Termination{}
}

func (t *Termination) Terminate() {
	t.terminate.Store(true)
}

func (t *Termination) ForceTerminate() {
	t.forced.Store(true)
	t.terminate.Store(true)
}

func (t *Termination) Terminated() bool {
	return t != nil && t.terminate.Load()
}

func (t *Termination) Forced() bool {
	return t != nil && t.forced.Load()
}
