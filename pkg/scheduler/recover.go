package scheduler

import (
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// Recover prepares the queue left by a previous process: rows it was working on are
// handed back to the allocator and every unfinished request gets a tracker entry again.
// Job rows in a transitional state must have been reconciled before.
func (s *Scheduler) Recover() error {
	reset, err := s.requests.ResetInProgress()
	if err != nil {
		return err
	}

	waiting, err := s.requests.ListRequestsByState(hsm.RequestNew)
	if err != nil {
		return err
	}

	seen := make(map[int]bool)
	for _, r := range waiting {
		if seen[r.RequestNum] {
			continue
		}
		seen[r.RequestNum] = true

		counts, err := s.jobs.CountStates(r.RequestNum)
		if err != nil {
			return err
		}
		s.tracker.Add(r.RequestNum, counts)
	}

	if reset != 0 || len(seen) != 0 {
		clog.Global().Infof("recovered %d interrupted tapes, %d requests waiting", reset, len(seen))
	}

	return nil
}
