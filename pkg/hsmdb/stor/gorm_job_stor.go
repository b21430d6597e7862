package stor

import (
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormJobStor struct {
	db *gorm.DB
}

func NewGormJobStor(db *gorm.DB) *GormJobStor {
	return &GormJobStor{db: db}
}

func (s *GormJobStor) WithBatch(fn func(jobs JobStor) error) error {
	// Not retried, fn has side effects outside the database (capacity reservations).
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormJobStor{db: tx})
	})
}

func (s *GormJobStor) InsertJob(job *hsmmodel.Job) error {
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(job)
	switch {
	case result.Error != nil:
		return result.Error
	case result.RowsAffected == 0:
		return errors.Wrapf(hsm.ErrDuplicateJob, "request %d file %s replica %d", job.RequestNum, job.FilePath, job.ReplicaNum)
	default:
		return nil
	}
}

// ListTapesForRequest returns the distinct tapes of a request in the order their first job was queued.
func (s *GormJobStor) ListTapesForRequest(reqNum int) ([]string, error) {
	var tapes []string
	err := s.db.Model(&hsmmodel.Job{}).
		Select("tape_id").
		Where("request_num = ?", reqNum).
		Group("tape_id").
		Order("MIN(id)").
		Pluck("tape_id", &tapes).Error
	return tapes, err
}

func (s *GormJobStor) ListJobsForUnit(reqNum int, tapeID string, states ...hsm.FileState) ([]hsmmodel.Job, error) {
	var jobs []hsmmodel.Job
	q := s.db.Where("request_num = ? AND tape_id = ?", reqNum, tapeID)
	if len(states) != 0 {
		q = q.Where("state IN ?", states)
	}
	err := q.Order("id").Find(&jobs).Error
	return jobs, err
}

func (s *GormJobStor) ListJobs(reqNum int) ([]hsmmodel.Job, error) {
	var jobs []hsmmodel.Job
	q := s.db.Order("id")
	if reqNum != AllRequests {
		q = q.Where("request_num = ?", reqNum)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

func (s *GormJobStor) ListTransitionalJobs() ([]hsmmodel.Job, error) {
	var jobs []hsmmodel.Job
	err := s.db.Where("state IN ?", []hsm.FileState{hsm.Premigrating, hsm.Stubbing, hsm.RecallingMig, hsm.RecallingPremig}).
		Order("id").
		Find(&jobs).Error
	return jobs, err
}

func (s *GormJobStor) SetUnitJobsState(reqNum int, tapeID string, from, to hsm.FileState) (int64, error) {
	var count int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&hsmmodel.Job{}).
			Where("request_num = ? AND tape_id = ? AND state = ?", reqNum, tapeID, from).
			Update("state", to)
		count = result.RowsAffected
		return result.Error
	})
	return count, err
}

func (s *GormJobStor) SetJobsState(ids []int, to hsm.FileState) error {
	if len(ids) == 0 {
		return nil
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&hsmmodel.Job{}).Where("id IN ?", ids).Update("state", to).Error
	})
}

func (s *GormJobStor) UpdateJobState(id int, to hsm.FileState) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&hsmmodel.Job{}).Where("id = ?", id).Update("state", to).Error
	})
}

func (s *GormJobStor) FailJob(id int, cause error) error {
	j := hsmmodel.Job{}
	if cause != nil {
		j.SetError(cause)
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&hsmmodel.Job{}).Where("id = ?", id).
			Updates(map[string]interface{}{"state": hsm.Failed, "last_error": j.LastError}).Error
	})
}

// PromoteReplicas moves the sibling replica rows of a file within a request.
func (s *GormJobStor) PromoteReplicas(reqNum int, path string, from, to hsm.FileState) (int64, error) {
	var count int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&hsmmodel.Job{}).
			Where("request_num = ? AND file_path = ? AND state = ?", reqNum, path, from).
			Update("state", to)
		count = result.RowsAffected
		return result.Error
	})
	return count, err
}

func (s *GormJobStor) CountStates(reqNum int) (map[hsm.FileState]int64, error) {
	var rows []struct {
		State hsm.FileState
		Count int64
	}

	err := s.db.Model(&hsmmodel.Job{}).
		Select("state, COUNT(*) AS count").
		Where("request_num = ?", reqNum).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[hsm.FileState]int64)
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}
