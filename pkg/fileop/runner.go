package fileop

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/scheduler"
	"github.com/pkg/errors"
)

const (
	busyRetries    = 3
	busyRetryDelay = 50 * time.Millisecond
)

// Runner executes the units of work of every operation kind.
type Runner struct {
	env *Env
}

func NewRunner(env *Env) *Runner {
	return &Runner{env: env}
}

// Register makes r the runner of all operations on the env's scheduler.
func (r *Runner) Register() {
	for _, op := range []hsm.Operation{hsm.OpMigration, hsm.OpSelRecall, hsm.OpTraRecall} {
		r.env.Scheduler.RegisterRunner(op, r)
	}
}

type jobFunc func(ctx context.Context, u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error

func (r *Runner) RunUnit(ctx context.Context, u *scheduler.WorkUnit) (bool, error) {
	if u.Operation == hsm.OpMigration {
		return r.runMigration(ctx, u)
	}
	return r.runRecall(ctx, u)
}

func (r *Runner) runMigration(ctx context.Context, u *scheduler.WorkUnit) (bool, error) {
	jobStor := r.env.Stors.JobStor

	if u.DriveID == "" {
		jobs, err := jobStor.ListJobsForUnit(u.RequestNum, u.TapeID, hsm.Premigrated)
		if err != nil {
			return false, err
		}
		return r.processJobs(ctx, u, withTarget(jobs, hsm.Migrated), r.stubOnly)
	}

	if _, err := jobStor.SetUnitJobsState(u.RequestNum, u.TapeID, hsm.Resident, hsm.Premigrating); err != nil {
		return false, err
	}

	defer r.resetUnit(u, map[hsm.FileState]hsm.FileState{
		hsm.Premigrating: hsm.Resident,
		hsm.Stubbing:     hsm.Premigrated,
	})

	jobs, err := jobStor.ListJobsForUnit(u.RequestNum, u.TapeID, hsm.Premigrating)
	if err != nil {
		return false, err
	}

	return r.processJobs(ctx, u, jobs, r.migrateOne)
}

func (r *Runner) runRecall(ctx context.Context, u *scheduler.WorkUnit) (bool, error) {
	jobStor := r.env.Stors.JobStor

	if u.DriveID == "" {
		jobs, err := jobStor.ListJobsForUnit(u.RequestNum, u.TapeID, hsm.Premigrated)
		if err != nil {
			return false, err
		}
		return r.processJobs(ctx, u, withTarget(jobs, hsm.Resident), r.recallOne)
	}

	if _, err := jobStor.SetUnitJobsState(u.RequestNum, u.TapeID, hsm.Migrated, hsm.RecallingMig); err != nil {
		return false, err
	}
	if _, err := jobStor.SetUnitJobsState(u.RequestNum, u.TapeID, hsm.Premigrated, hsm.RecallingPremig); err != nil {
		return false, err
	}

	defer r.resetUnit(u, map[hsm.FileState]hsm.FileState{
		hsm.RecallingMig:    hsm.Migrated,
		hsm.RecallingPremig: hsm.Premigrated,
	})

	jobs, err := jobStor.ListJobsForUnit(u.RequestNum, u.TapeID, hsm.RecallingMig, hsm.RecallingPremig)
	if err != nil {
		return false, err
	}

	return r.processJobs(ctx, u, jobs, r.recallOne)
}

func withTarget(jobs []hsmmodel.Job, target hsm.FileState) []hsmmodel.Job {
	var matching []hsmmodel.Job
	for _, j := range jobs {
		if j.TargetState == target {
			matching = append(matching, j)
		}
	}
	return matching
}

// resetUnit puts rows a unit did not finish back into the state they had before it started.
func (r *Runner) resetUnit(u *scheduler.WorkUnit, transitions map[hsm.FileState]hsm.FileState) {
	for from, to := range transitions {
		n, err := r.env.Stors.JobStor.SetUnitJobsState(u.RequestNum, u.TapeID, from, to)
		switch {
		case err != nil:
			clog.ForRequest(u.RequestNum).Errorf("unable to reset %s jobs on %s: %s", from, u.TapeID, err)
		case n != 0:
			clog.ForRequest(u.RequestNum).Infof("%d %s jobs on %s left for a later run", n, from, u.TapeID)
		}
	}
}

// processJobs runs fn on each job in order. Files locked by someone else, often the unit
// writing another replica of the same file, are retried after the pass. It stops early,
// with suspended set, when files stay locked or when a selective recall is asked to give
// up its drive. Jobs it did not get to keep their pre-transition state.
func (r *Runner) processJobs(ctx context.Context, u *scheduler.WorkUnit, jobs []hsmmodel.Job, fn jobFunc) (bool, error) {
	sched := r.env.Scheduler
	termination := sched.Termination()
	tracker := sched.Tracker()
	logger := clog.ForRequest(u.RequestNum).WithField("tape", u.TapeID)
	preemptible := u.Operation == hsm.OpSelRecall

	defer tracker.Notify(u.RequestNum)

	lastNotify := time.Now()
	pending := jobs

	for attempt := 0; len(pending) != 0; attempt++ {
		if attempt > busyRetries {
			logger.Infof("%d files still locked, leaving them for a later run", len(pending))
			return true, nil
		}

		if attempt != 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(busyRetryDelay << (attempt - 1)):
			}
		}

		var busy []hsmmodel.Job
		for i := range pending {
			if termination.Terminated() {
				logger.Infof("terminating, %d jobs left", len(pending)-i+len(busy))
				return false, nil
			}

			if preemptible && sched.ShouldSuspend(u) {
				logger.Infof("giving up drive %s for a transparent recall", u.DriveID)
				return true, nil
			}

			j := &pending[i]
			err := r.withLockedFile(ctx, u, j, fn)
			switch {
			case err == nil:
			case errors.Is(err, hsm.ErrFileBusy):
				busy = append(busy, *j)
			case errors.Is(err, hsm.ErrTerminated):
				logger.Infof("transfer of %s aborted", j.FilePath)
				return false, nil
			default:
				r.failJob(u, j, err)
			}

			if time.Since(lastNotify) >= r.env.progressInterval() {
				tracker.Notify(u.RequestNum)
				lastNotify = time.Now()
			}
		}

		pending = busy
	}

	return false, nil
}

func (r *Runner) withLockedFile(ctx context.Context, u *scheduler.WorkUnit, j *hsmmodel.Job, fn jobFunc) error {
	return fsobj.With(r.env.Opener, j.FilePath, func(obj fsobj.FsObj) error {
		locked, err := obj.TryLock()
		switch {
		case err != nil:
			return err
		case !locked:
			return errors.Wrapf(hsm.ErrFileBusy, "%s", j.FilePath)
		}

		defer func() { _ = obj.Unlock() }()

		if err := checkIdentity(obj, j); err != nil {
			return err
		}

		return fn(ctx, u, obj, j)
	})
}

// checkIdentity makes sure the path still names the file that was queued.
func checkIdentity(obj fsobj.FsObj, j *hsmmodel.Job) error {
	info, err := obj.Stat()
	if err != nil {
		return err
	}

	if info.INode != j.INode || info.FsID != j.FsID {
		return errors.Wrapf(hsm.ErrFileChanged, "%s", j.FilePath)
	}

	return nil
}

// complete moves j to the state to in the job store and the tracker.
func (r *Runner) complete(u *scheduler.WorkUnit, j *hsmmodel.Job, to hsm.FileState) error {
	if err := r.env.Stors.JobStor.UpdateJobState(j.ID, to); err != nil {
		return err
	}

	r.env.Scheduler.Tracker().UpdateSuccess(u.RequestNum, j.State, to)
	j.State = to
	return nil
}

func (r *Runner) failJob(u *scheduler.WorkUnit, j *hsmmodel.Job, cause error) {
	clog.ForRequest(u.RequestNum).WithFields(log.Fields{"file": j.FilePath, "tape": u.TapeID}).Errorf("%s failed: %s", u.Operation, cause)

	if err := r.env.Stors.JobStor.FailJob(j.ID, cause); err != nil {
		clog.ForRequest(u.RequestNum).Errorf("unable to record failure of %s: %s", j.FilePath, err)
		return
	}

	r.env.Scheduler.Tracker().UpdateFailed(u.RequestNum, j.State)
	j.State = hsm.Failed
}

func (r *Runner) migrateOne(ctx context.Context, u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error {
	live, err := obj.MigState()
	if err != nil {
		return err
	}

	attr, err := obj.Attribute()
	if err != nil {
		return err
	}

	switch {
	case live == hsm.Migrated:
		// Stubbed while it waited, by another request.
		return r.complete(u, j, hsm.Migrated)

	case !attr.HasTape(j.TapeID):
		info, err := obj.Stat()
		if err != nil {
			return err
		}
		if info.Size != j.FileSize {
			return errors.Wrapf(hsm.ErrSizeMismatch, "%s changed size from %d to %d", j.FilePath, j.FileSize, info.Size)
		}

		if live == hsm.Resident {
			if err := obj.PreparePremigration(); err != nil {
				return err
			}
		}

		if err := r.copyToTape(ctx, obj, j); err != nil {
			return err
		}

		attr = attr.WithReplica(j.TapeID, j.StartBlock)
		if err := obj.AddAttribute(attr); err != nil {
			return err
		}

		if live == hsm.Resident {
			if err := obj.FinishPremigration(); err != nil {
				return err
			}
		}
	}

	if err := r.complete(u, j, hsm.Premigrated); err != nil {
		return err
	}

	if j.TargetState == hsm.Migrated && len(attr.TapeIDs) >= u.Replicas {
		return r.stub(u, obj, j)
	}

	return nil
}

// stubOnly finishes migration of a file that was premigrated before the request.
func (r *Runner) stubOnly(_ context.Context, u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error {
	live, err := obj.MigState()
	if err != nil {
		return err
	}

	if live != hsm.Premigrated {
		return r.complete(u, j, live)
	}

	return r.stub(u, obj, j)
}

// stub truncates the file and marks j and its sibling replica rows migrated.
func (r *Runner) stub(u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error {
	jobStor := r.env.Stors.JobStor

	if err := jobStor.UpdateJobState(j.ID, hsm.Stubbing); err != nil {
		return err
	}
	j.State = hsm.Stubbing

	if err := obj.PrepareStubbing(); err != nil {
		return err
	}

	if err := obj.Stub(); err != nil {
		return err
	}

	if err := r.complete(u, j, hsm.Migrated); err != nil {
		return err
	}

	promoted, err := jobStor.PromoteReplicas(u.RequestNum, j.FilePath, hsm.Premigrated, hsm.Migrated)
	if err != nil {
		return err
	}

	for i := int64(0); i < promoted; i++ {
		r.env.Scheduler.Tracker().UpdateSuccess(u.RequestNum, hsm.Premigrated, hsm.Migrated)
	}

	return nil
}

func (r *Runner) recallOne(ctx context.Context, u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error {
	live, err := obj.MigState()
	if err != nil {
		return err
	}

	switch live {
	case hsm.Resident:
		return r.complete(u, j, hsm.Resident)

	case hsm.Premigrated:
		if j.TargetState == hsm.Premigrated {
			return r.complete(u, j, hsm.Premigrated)
		}

	case hsm.Migrated:
		if u.DriveID == "" {
			return errors.Wrapf(hsm.ErrNoTapeMounted, "%s", j.FilePath)
		}

		if err := obj.PrepareRecall(); err != nil {
			return err
		}

		if err := r.copyFromTape(ctx, obj, j); err != nil {
			return err
		}
	}

	if j.TargetState == hsm.Resident {
		return r.finishResident(u, obj, j)
	}

	if err := obj.FinishRecall(hsm.Premigrated); err != nil {
		return err
	}

	return r.complete(u, j, hsm.Premigrated)
}

// finishResident drops the replica attribute and leaves the recall. A file that cannot
// leave the recall gets its attribute back, so a later recall still finds the tape copy.
func (r *Runner) finishResident(u *scheduler.WorkUnit, obj fsobj.FsObj, j *hsmmodel.Job) error {
	attr, err := obj.Attribute()
	if err != nil {
		return err
	}

	if err := obj.RemoveAttribute(); err != nil {
		return err
	}

	if err := obj.FinishRecall(hsm.Resident); err != nil {
		if restoreErr := obj.AddAttribute(attr); restoreErr != nil {
			clog.ForRequest(u.RequestNum).WithField("file", j.FilePath).Errorf("unable to restore replica attribute: %s", restoreErr)
		}
		return err
	}

	return r.complete(u, j, hsm.Resident)
}
