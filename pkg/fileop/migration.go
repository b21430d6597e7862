package fileop

import (
	"context"

	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/pkg/errors"
)

// Migration moves files to tape, one replica per pool, and stubs them when the target is
// hsm.Migrated.
type Migration struct {
	base
	pools []string
}

// NewMigration validates the pool list before anything is queued.
func NewMigration(env *Env, reqNum int, pools []string, target hsm.FileState) (*Migration, error) {
	switch {
	case len(pools) == 0:
		return nil, hsm.ErrNoPools
	case len(pools) > env.maxPools():
		return nil, errors.Wrapf(hsm.ErrTooManyPools, "%d pools, at most %d allowed", len(pools), env.maxPools())
	case target != hsm.Migrated && target != hsm.Premigrated:
		return nil, errors.Errorf("invalid migration target %s", target)
	}

	seen := make(map[string]bool)
	for _, p := range pools {
		if seen[p] {
			return nil, errors.Errorf("pool %s listed twice", p)
		}
		seen[p] = true

		if _, ok := env.Inventory.LookupPool(p); !ok {
			return nil, errors.Wrapf(hsm.ErrUnknownPool, "%s", p)
		}
	}

	return &Migration{
		base:  newBase(env, reqNum, hsm.OpMigration, target, len(pools)),
		pools: pools,
	}, nil
}

func (m *Migration) AddJob(_ context.Context, path string) error {
	return m.addJob(path, m.queue)
}

func (m *Migration) AddJobs(_ context.Context, paths []string) (BatchResult, error) {
	return m.addJobs(paths, m.queue)
}

func (m *Migration) queue(jobs stor.JobStor, path string, result *BatchResult) error {
	var (
		info  fsobj.FileInfo
		state hsm.FileState
	)

	err := fsobj.With(m.env.Opener, path, func(obj fsobj.FsObj) error {
		var err error
		if !obj.IsManaged() {
			return hsm.ErrNotManaged
		}
		if info, err = obj.Stat(); err != nil {
			return err
		}
		state, err = obj.MigState()
		return err
	})

	if err != nil {
		return m.failedJob(jobs, path, 0, err, result)
	}

	job := hsmmodel.Job{
		Operation:   hsm.OpMigration,
		FilePath:    path,
		RequestNum:  m.reqNum,
		TargetState: m.target,
		State:       state,
		FileSize:    info.Size,
		FsID:        info.FsID,
		IGen:        info.IGen,
		INode:       info.INode,
		MTimeSec:    info.MTime.Unix(),
		MTimeNSec:   int64(info.MTime.Nanosecond()),
		TapeID:      hsm.NoTapeID,
	}

	// Premigrated and migrated files have their data on tape already, at most a stub is left to do.
	if state != hsm.Resident {
		return insert(jobs, &job, result)
	}

	for replica, pool := range m.pools {
		placement, err := m.env.Inventory.Reserve(pool, info.Size)
		if err != nil {
			if err := m.failedJob(jobs, path, replica, err, result); err != nil {
				return err
			}
			continue
		}

		j := job
		j.ReplicaNum = replica
		j.TapeID = placement.TapeID
		j.StartBlock = placement.StartBlock
		j.Pool = pool
		m.tapePools[placement.TapeID] = pool

		if err := insert(jobs, &j, result); err != nil {
			return err
		}
	}

	return nil
}
