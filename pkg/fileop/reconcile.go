package fileop

import (
	"github.com/apex/log"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
)

// Reconcile runs at startup, before the scheduler recovers its request rows. Job rows left
// in a transitional state by a crash take the state their file actually has. Rows whose
// file can no longer be inspected fail.
func Reconcile(env *Env) (int, error) {
	jobs, err := env.Stors.JobStor.ListTransitionalJobs()
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		j := &jobs[i]
		to, err := liveState(env.Opener, j)
		if err != nil {
			log.Warnf("job %d (%s) failed during reconcile: %s", j.ID, j.FilePath, err)
			if err := env.Stors.JobStor.FailJob(j.ID, err); err != nil {
				return i, err
			}
			continue
		}

		log.Debugf("job %d (%s) %s -> %s", j.ID, j.FilePath, j.State, to)
		if err := env.Stors.JobStor.UpdateJobState(j.ID, to); err != nil {
			return i, err
		}
	}

	if len(jobs) != 0 {
		log.Infof("reconciled %d interrupted jobs", len(jobs))
	}

	return len(jobs), nil
}

func liveState(opener fsobj.Opener, j *hsmmodel.Job) (hsm.FileState, error) {
	state := hsm.Failed
	err := fsobj.With(opener, j.FilePath, func(obj fsobj.FsObj) error {
		if err := checkIdentity(obj, j); err != nil {
			return err
		}

		live, err := obj.MigState()
		if err != nil {
			return err
		}

		state = live
		if j.State != hsm.Premigrating || live == hsm.Migrated {
			return nil
		}

		// This row's replica only counts once its tape is in the attribute.
		attr, err := obj.Attribute()
		if err != nil {
			return err
		}

		if attr.HasTape(j.TapeID) {
			state = hsm.Premigrated
		} else {
			state = hsm.Resident
		}
		return nil
	})

	return state, err
}
