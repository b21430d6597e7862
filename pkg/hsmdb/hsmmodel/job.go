package hsmmodel

import (
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// Job is one file of one request on one replica. Rows are never deleted, they are the
// audit trail of what happened to a file.
type Job struct {
	ID          int           `json:"id"`
	Operation   hsm.Operation `json:"operation"`
	FilePath    string        `json:"file_path" gorm:"uniqueIndex:idx_job_request_file;size:700"`
	RequestNum  int           `json:"request_num" gorm:"uniqueIndex:idx_job_request_file;index"`
	ReplicaNum  int           `json:"replica_num" gorm:"uniqueIndex:idx_job_request_file"`
	TargetState hsm.FileState `json:"target_state"`
	State       hsm.FileState `json:"state" gorm:"index"`
	FileSize    int64         `json:"file_size"`
	FsID        uint64        `json:"fs_id"`
	IGen        uint32        `json:"igen"`
	INode       uint64        `json:"inode"`
	MTimeSec    int64         `json:"mtime_sec"`
	MTimeNSec   int64         `json:"mtime_nsec"`
	TapeID      string        `json:"tape_id" gorm:"index;size:64"`
	StartBlock  int64         `json:"start_block"`
	Pool        string        `json:"pool" gorm:"size:128"`
	LastError   string        `json:"last_error" gorm:"size:512"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Job) TableName() string {
	return "job_queue"
}

// FailedJob builds the row recorded for a file that could not even be inspected.
func FailedJob(op hsm.Operation, reqNum int, path string, target hsm.FileState, cause error) *Job {
	j := &Job{
		Operation:   op,
		FilePath:    path,
		RequestNum:  reqNum,
		TargetState: target,
		State:       hsm.Failed,
		TapeID:      hsm.FailedTapeID,
	}
	if cause != nil {
		j.SetError(cause)
	}
	return j
}

func (j *Job) SetError(err error) {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	j.LastError = msg
}
