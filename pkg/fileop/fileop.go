// Package fileop holds the file operations a client can request (migration, selective
// recall, transparent recall) and the runner that executes their units of work.
package fileop

import (
	"context"
	"time"

	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/materials-commons/tapehsm/pkg/scheduler"
	"github.com/materials-commons/tapehsm/pkg/tape"
	"github.com/materials-commons/tapehsm/pkg/workpool"
	"github.com/pkg/errors"
)

// FileOperation is what the request layer sees of a migration or recall.
type FileOperation interface {
	RequestNumber() int

	// AddJob queues one file. A file that cannot be queued still gets a FAILED row and
	// the reason is returned.
	AddJob(ctx context.Context, path string) error

	// AddJobs queues files in one transaction. Per file problems end up in the result,
	// only store errors fail the batch.
	AddJobs(ctx context.Context, paths []string) (BatchResult, error)

	// AddRequest creates the request rows and starts the tapes that are free. It returns
	// once those units are done, tapes that need a mount are left to the scheduler.
	AddRequest(ctx context.Context) error
}

type BatchResult struct {
	Added      int               `json:"added"`
	Duplicates []string          `json:"duplicates,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// Env is what file operations and the runner share.
type Env struct {
	Opener    fsobj.Opener
	Inventory *inventory.Inventory
	Scheduler *scheduler.Scheduler
	Stors     *stor.Stors
	Library   tape.Library

	// ProgressInterval is how often a running unit publishes its counters.
	ProgressInterval time.Duration

	// MaxPools caps the pools of one migration request, 0 means hsm.DefaultMaxPoolsPerRequest.
	MaxPools int
}

func (e *Env) maxPools() int {
	if e.MaxPools <= 0 {
		return hsm.DefaultMaxPoolsPerRequest
	}
	return e.MaxPools
}

func (e *Env) progressInterval() time.Duration {
	if e.ProgressInterval <= 0 {
		return 10 * time.Second
	}
	return e.ProgressInterval
}

// addJobFunc inserts the rows for one file through jobs. A non nil error is a store error
// and aborts the batch, per file problems go into result.
type addJobFunc func(jobs stor.JobStor, path string, result *BatchResult) error

type base struct {
	env      *Env
	reqNum   int
	op       hsm.Operation
	target   hsm.FileState
	replicas int

	// tapePools remembers which pool each tape was picked from.
	tapePools map[string]string
}

func newBase(env *Env, reqNum int, op hsm.Operation, target hsm.FileState, replicas int) base {
	return base{
		env:       env,
		reqNum:    reqNum,
		op:        op,
		target:    target,
		replicas:  replicas,
		tapePools: make(map[string]string),
	}
}

func (b *base) RequestNumber() int {
	return b.reqNum
}

func (b *base) addJobs(paths []string, addJob addJobFunc) (BatchResult, error) {
	result := BatchResult{Failed: make(map[string]string)}

	err := b.env.Stors.JobStor.WithBatch(func(jobs stor.JobStor) error {
		for _, path := range paths {
			if err := addJob(jobs, path, &result); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return BatchResult{}, err
	}

	if len(result.Duplicates) != 0 {
		clog.ForRequest(b.reqNum).Warnf("%d files already queued for this request", len(result.Duplicates))
	}

	return result, nil
}

func (b *base) addJob(path string, addJob addJobFunc) error {
	result, err := b.addJobs([]string{path}, addJob)
	switch {
	case err != nil:
		return err
	case len(result.Duplicates) != 0:
		return errors.Wrapf(hsm.ErrDuplicateJob, "%s", path)
	case result.Failed[path] != "":
		return errors.Errorf("%s: %s", path, result.Failed[path])
	default:
		return nil
	}
}

// insert adds job and files duplicates and successes in result.
func insert(jobs stor.JobStor, job *hsmmodel.Job, result *BatchResult) error {
	err := jobs.InsertJob(job)
	switch {
	case errors.Is(err, hsm.ErrDuplicateJob):
		result.Duplicates = append(result.Duplicates, job.FilePath)
		return nil
	case err != nil:
		return err
	case job.State == hsm.Failed:
		result.Failed[job.FilePath] = job.LastError
		return nil
	default:
		result.Added++
		return nil
	}
}

func (b *base) failedJob(jobs stor.JobStor, path string, replica int, cause error, result *BatchResult) error {
	clog.ForRequest(b.reqNum).WithField("file", path).Warnf("unable to queue: %s", cause)
	j := hsmmodel.FailedJob(b.op, b.reqNum, path, b.target, cause)
	j.ReplicaNum = replica
	return insert(jobs, j, result)
}

// AddRequest creates one request row per tape the request's jobs reference. Rows that can
// start right away are created INPROGRESS and run on units enqueued here, rows for tapes
// that need a drive first are created NEW for the scheduler. The rows are inserted in one
// transaction before anything is enqueued, so no unit can finish the request while some of
// its tapes have no row yet.
func (b *base) AddRequest(ctx context.Context) error {
	env := b.env
	logger := clog.ForRequest(b.reqNum)

	tapes, err := env.Stors.JobStor.ListTapesForRequest(b.reqNum)
	if err != nil {
		return err
	}

	counts, err := env.Stors.JobStor.CountStates(b.reqNum)
	if err != nil {
		return err
	}
	env.Scheduler.Tracker().Add(b.reqNum, counts)

	var (
		rows      []*hsmmodel.Request
		direct    []*scheduler.WorkUnit
		submitted bool
		pending   int
	)

	for _, tapeID := range tapes {
		row := &hsmmodel.Request{
			Operation:   b.op,
			RequestNum:  b.reqNum,
			TapeID:      tapeID,
			TargetState: b.target,
			Pool:        b.tapePools[tapeID],
			Replicas:    b.replicas,
		}

		u := &scheduler.WorkUnit{
			RequestNum:  b.reqNum,
			TapeID:      tapeID,
			Operation:   b.op,
			TargetState: b.target,
			Pool:        row.Pool,
			Replicas:    b.replicas,
		}

		switch {
		case tapeID == hsm.FailedTapeID:
			row.State = hsm.RequestCompleted
		case !row.NeedsTape():
			row.State = hsm.RequestInProgress
			direct = append(direct, u)
		case env.Scheduler.TryReserve(u):
			row.State = hsm.RequestInProgress
			direct = append(direct, u)
		default:
			row.State = hsm.RequestNew
			submitted = true
		}

		if row.State != hsm.RequestCompleted {
			pending++
		}
		rows = append(rows, row)
	}

	if err := env.Stors.RequestStor.CreateRequests(rows); err != nil {
		for _, u := range direct {
			if u.DriveID != "" {
				env.Scheduler.Release(u)
			}
		}
		return errors.Wrapf(err, "unable to create request rows")
	}

	if pending == 0 {
		env.Scheduler.Tracker().SetDone(b.reqNum)
		logger.Infof("nothing to do")
		return nil
	}

	if submitted {
		env.Scheduler.Submit()
	}

	batch := workpool.NewBatch()
	for _, u := range direct {
		if err := env.Scheduler.Enqueue(u, batch); err != nil {
			logger.Errorf("unable to start %s: %s", u, err)
			env.Scheduler.Release(u)
			_ = env.Stors.RequestStor.UpdateRequestState(u.RequestNum, u.TapeID, hsm.RequestNew)
		}
	}

	logger.Infof("%s submitted: %d tapes, %d started now", b.op, len(tapes), len(direct))
	batch.Wait()

	return nil
}
