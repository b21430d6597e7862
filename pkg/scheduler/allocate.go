package scheduler

import (
	"context"
	"sort"

	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/inventory"
)

// allocate runs one pass over the waiting request rows. It re-reads everything it decides
// on, so a redundant pass is harmless.
func (s *Scheduler) allocate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Once terminating, units that stop early go back to NEW and stay there.
	if s.stopped || s.termination.Terminated() || ctx.Err() != nil {
		return
	}

	waiting, err := s.requests.ListRequestsByState(hsm.RequestNew)
	if err != nil {
		clog.Global().Errorf("unable to list waiting requests: %s", err)
		return
	}

	// Transparent recalls first, then selective recalls, then migrations. Each group
	// keeps submission order.
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].Operation.Priority() < waiting[j].Operation.Priority()
	})

	wanted := make(map[string]bool)
	for _, r := range waiting {
		wanted[r.TapeID] = true
	}

	for i := range waiting {
		s.allocateRequest(&waiting[i], wanted)
	}
}

func (s *Scheduler) allocateRequest(r *hsmmodel.Request, wanted map[string]bool) {
	u := &WorkUnit{
		RequestNum:  r.RequestNum,
		TapeID:      r.TapeID,
		Operation:   r.Operation,
		TargetState: r.TargetState,
		Pool:        r.Pool,
		Replicas:    r.Replicas,
	}

	if r.NeedsTape() {
		if !s.assignDrive(u, wanted) {
			if r.Operation == hsm.OpTraRecall {
				s.preemptLocked(r.TapeID, r.Operation)
			}
			return
		}
	}

	if err := s.requests.UpdateRequestState(r.RequestNum, r.TapeID, hsm.RequestInProgress); err != nil {
		clog.ForRequest(r.RequestNum).Errorf("unable to start tape %s: %s", r.TapeID, err)
		s.releaseDriveLocked(u)
		return
	}

	if err := s.enqueueLocked(u, nil); err != nil {
		clog.ForRequest(r.RequestNum).Errorf("unable to queue %s: %s", u, err)
		s.releaseDriveLocked(u)
		_ = s.requests.UpdateRequestState(r.RequestNum, r.TapeID, hsm.RequestNew)
		return
	}

	clog.ForRequest(r.RequestNum).WithField("tape", r.TapeID).WithField("drive", u.DriveID).Infof("scheduled %s", r.Operation)
}

// assignDrive finds a drive for the unit's cartridge and claims both. It returns false,
// leaving the request waiting, when the cartridge is busy or no drive is free.
func (s *Scheduler) assignDrive(u *WorkUnit, wanted map[string]bool) bool {
	assigned := false

	_ = s.inv.WithLock(func(tx *inventory.Tx) error {
		c := tx.Cartridge(u.TapeID)
		if c == nil {
			clog.ForRequest(u.RequestNum).Errorf("tape %s is not in the inventory", u.TapeID)
			return nil
		}

		if c.InProgress {
			return nil
		}

		switch c.State {
		case inventory.CartridgeMounted:
			d := tx.DriveHolding(c.ID)
			if d == nil {
				clog.Global().Fatalf("cartridge %s is mounted but no drive holds it", c.ID)
			}
			if !d.Free() {
				return nil
			}
			d.Busy = true
			c.State = inventory.CartridgeInUse
			c.InProgress = true
			u.DriveID = d.ID
			assigned = true

		case inventory.CartridgeUnmounted:
			d := pickDrive(tx, wanted)
			if d == nil {
				return nil
			}
			if d.Cartridge != "" {
				evicted := tx.Cartridge(d.Cartridge)
				evicted.State = inventory.CartridgeMoving
				evicted.InProgress = true
				u.evict = evicted.ID
			}
			d.Busy = true
			c.State = inventory.CartridgeMoving
			c.InProgress = true
			u.DriveID = d.ID
			u.needsMount = true
			assigned = true

		default:
			clog.ForRequest(u.RequestNum).Warnf("tape %s is %s, not scheduling", c.ID, c.State)
		}

		return nil
	})

	if assigned {
		s.active[u.DriveID] = u
	}

	return assigned
}

// pickDrive prefers an empty free drive, then one whose idle cartridge no waiting request
// wants, then any free drive with an idle cartridge.
func pickDrive(tx *inventory.Tx, wanted map[string]bool) *inventory.Drive {
	var idleUnwanted, idleWanted *inventory.Drive

	for _, d := range tx.Drives() {
		if !d.Free() {
			continue
		}

		if d.Cartridge == "" {
			return d
		}

		c := tx.Cartridge(d.Cartridge)
		if c == nil || c.InProgress || c.State != inventory.CartridgeMounted {
			continue
		}

		switch {
		case !wanted[c.ID] && idleUnwanted == nil:
			idleUnwanted = d
		case wanted[c.ID] && idleWanted == nil:
			idleWanted = d
		}
	}

	if idleUnwanted != nil {
		return idleUnwanted
	}

	return idleWanted
}
