package scheduler

import (
	"context"
	"time"

	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/pkg/errors"
)

// execute runs on a worker: mount if needed, run the unit's jobs, give the drive back.
func (s *Scheduler) execute(ctx context.Context, u *WorkUnit) {
	start := time.Now()
	logger := clog.ForRequest(u.RequestNum).WithField("tape", u.TapeID).WithField("drive", u.DriveID)

	s.stats.queued.Dec(1)
	s.stats.running.Inc(1)
	defer s.stats.running.Dec(1)

	if u.needsMount {
		if err := s.mount(ctx, u); err != nil {
			logger.Errorf("mount failed: %s", err)
			s.stats.unitErrors.Inc(1)
			s.failUnit(u, err)
			return
		}
	}

	s.mu.Lock()
	runner := s.runners[u.Operation]
	s.mu.Unlock()

	suspended, err := runner.RunUnit(ctx, u)
	if err != nil {
		logger.Errorf("unit failed: %s", err)
		s.stats.unitErrors.Inc(1)
	}

	if suspended {
		s.stats.suspended.Inc(1)
		logger.Infof("suspended, remaining jobs go back to the queue")
	}

	s.finishUnit(u, suspended || s.termination.Terminated())
	s.stats.completed.UpdateSince(start)
}

func (s *Scheduler) mount(ctx context.Context, u *WorkUnit) error {
	if u.evict != "" {
		if err := s.library.Unmount(ctx, u.DriveID, u.evict); err != nil {
			return errors.Wrapf(err, "unable to unmount %s", u.evict)
		}

		_ = s.inv.WithLock(func(tx *inventory.Tx) error {
			tx.Unmount(u.DriveID)
			if c := tx.Cartridge(u.evict); c != nil {
				c.InProgress = false
			}
			return nil
		})
		s.stats.unmounts.Mark(1)
		u.evict = ""
	}

	if err := s.library.Mount(ctx, u.DriveID, u.TapeID); err != nil {
		return errors.Wrapf(err, "unable to mount %s", u.TapeID)
	}

	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		tx.Mount(u.DriveID, u.TapeID, inventory.CartridgeInUse)
		return nil
	})
	s.stats.mounts.Mark(1)
	u.needsMount = false

	return nil
}

// dropUnit gives back the drive of a unit the worker pool gave up on before it started.
// The request row goes back to NEW.
func (s *Scheduler) dropUnit(u *WorkUnit, cause error) {
	s.stats.queued.Dec(1)
	clog.ForRequest(u.RequestNum).WithField("tape", u.TapeID).Warnf("unit dropped: %s", cause)
	s.finishUnit(u, true)
}

// failUnit is used when a unit cannot start. Its jobs fail, the row completes.
func (s *Scheduler) failUnit(u *WorkUnit, cause error) {
	jobs, err := s.jobs.ListJobsForUnit(u.RequestNum, u.TapeID)
	if err != nil {
		clog.ForRequest(u.RequestNum).Errorf("unable to list jobs of failed unit: %s", err)
	}

	for _, j := range jobs {
		if j.State == hsm.Failed || j.State == j.TargetState {
			continue
		}
		if err := s.jobs.FailJob(j.ID, cause); err == nil {
			s.tracker.UpdateFailed(u.RequestNum, j.State)
		}
	}

	s.finishUnit(u, false)
}

// finishUnit releases the unit's drive and settles its request row: back to NEW when the
// unit stopped early, COMPLETED otherwise.
func (s *Scheduler) finishUnit(u *WorkUnit, requeue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseDriveLocked(u)

	state := hsm.RequestCompleted
	if requeue {
		state = hsm.RequestNew
	}

	logger := clog.ForRequest(u.RequestNum).WithField("tape", u.TapeID)
	if err := s.requests.UpdateRequestState(u.RequestNum, u.TapeID, state); err != nil {
		logger.Errorf("unable to set request state to %s: %s", state, err)
	}

	if state == hsm.RequestCompleted {
		unfinished, err := s.requests.CountUnfinished(u.RequestNum)
		switch {
		case err != nil:
			logger.Errorf("unable to count unfinished tapes: %s", err)
		case unfinished == 0:
			s.tracker.SetDone(u.RequestNum)
			logger.Infof("request done")
			clog.EndRequest(u.RequestNum)
		}
	}

	s.tracker.Notify(u.RequestNum)
	s.notify(eventDriveReleased)
}

// releaseDriveLocked frees the unit's drive and clears its to-unblock marker. The cartridge
// stays mounted. Requires s.mu.
func (s *Scheduler) releaseDriveLocked(u *WorkUnit) {
	if u.DriveID == "" {
		return
	}

	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		d := tx.Drive(u.DriveID)
		if d == nil {
			return nil
		}

		d.Busy = false
		d.ToUnblock = hsm.OpNone

		if c := tx.Cartridge(u.TapeID); c != nil {
			c.InProgress = false
			if u.needsMount {
				// Never got mounted, the cartridge is still in its home slot.
				c.State = inventory.CartridgeUnmounted
			} else {
				c.State = inventory.CartridgeMounted
			}
		}

		if u.evict != "" {
			if c := tx.Cartridge(u.evict); c != nil {
				c.InProgress = false
				c.State = inventory.CartridgeMounted
			}
		}

		return nil
	})

	delete(s.active, u.DriveID)
}
