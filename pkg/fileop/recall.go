package fileop

import (
	"context"

	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/pkg/errors"
)

// Recall brings files back from tape. Selective recalls are requested by users for lists
// of files and give way to transparent recalls, which are triggered by access to a stub.
type Recall struct {
	base
}

func NewSelRecall(env *Env, reqNum int, target hsm.FileState) (*Recall, error) {
	return newRecall(env, reqNum, hsm.OpSelRecall, target)
}

func NewTraRecall(env *Env, reqNum int, target hsm.FileState) (*Recall, error) {
	return newRecall(env, reqNum, hsm.OpTraRecall, target)
}

func newRecall(env *Env, reqNum int, op hsm.Operation, target hsm.FileState) (*Recall, error) {
	if target != hsm.Resident && target != hsm.Premigrated {
		return nil, errors.Errorf("invalid recall target %s", target)
	}

	return &Recall{base: newBase(env, reqNum, op, target, 1)}, nil
}

func (r *Recall) AddJob(_ context.Context, path string) error {
	return r.addJob(path, r.queue)
}

func (r *Recall) AddJobs(_ context.Context, paths []string) (BatchResult, error) {
	return r.addJobs(paths, r.queue)
}

func (r *Recall) queue(jobs stor.JobStor, path string, result *BatchResult) error {
	var (
		info  fsobj.FileInfo
		state hsm.FileState
		attr  fsobj.MigAttr
	)

	err := fsobj.With(r.env.Opener, path, func(obj fsobj.FsObj) error {
		var err error
		if !obj.IsManaged() {
			return hsm.ErrNotManaged
		}
		if info, err = obj.Stat(); err != nil {
			return err
		}
		if state, err = obj.MigState(); err != nil {
			return err
		}
		attr, err = obj.Attribute()
		return err
	})

	if err != nil {
		return r.failedJob(jobs, path, 0, err, result)
	}

	job := &hsmmodel.Job{
		Operation:   r.op,
		FilePath:    path,
		RequestNum:  r.reqNum,
		TargetState: r.target,
		State:       state,
		FileSize:    info.Size,
		FsID:        info.FsID,
		IGen:        info.IGen,
		INode:       info.INode,
		MTimeSec:    info.MTime.Unix(),
		MTimeNSec:   int64(info.MTime.Nanosecond()),
		TapeID:      hsm.NoTapeID,
	}

	switch state {
	case hsm.Resident:
		clog.ForRequest(r.reqNum).WithField("file", path).Infof("already resident")
	case hsm.Migrated:
		tapeID := attr.FirstTape()
		if tapeID == hsm.NoTapeID {
			return r.failedJob(jobs, path, 0, errors.New("migrated file has no replica attribute"), result)
		}
		c, ok := r.env.Inventory.LookupCartridge(tapeID)
		if !ok {
			return r.failedJob(jobs, path, 0, errors.Wrapf(hsm.ErrUnknownTape, "%s", tapeID), result)
		}
		job.TapeID = tapeID
		job.StartBlock = attr.StartBlockFor(tapeID)
		job.Pool = c.Pool
		r.tapePools[tapeID] = c.Pool
	}

	return insert(jobs, job, result)
}
