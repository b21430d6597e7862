package hsmmodel

import (
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// Request is one (request number, tape) pair. A client request that touches three tapes
// owns three rows, each scheduled on its own.
type Request struct {
	ID          int              `json:"id"`
	Operation   hsm.Operation    `json:"operation"`
	RequestNum  int              `json:"request_num" gorm:"uniqueIndex:idx_request_tape"`
	TapeID      string           `json:"tape_id" gorm:"uniqueIndex:idx_request_tape;size:64"`
	TargetState hsm.FileState    `json:"target_state"`
	State       hsm.RequestState `json:"state" gorm:"index"`
	Pool        string           `json:"pool" gorm:"size:128"`
	Replicas    int              `json:"replicas"`
	TraceID     string           `json:"trace_id" gorm:"size:64"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (Request) TableName() string {
	return "request_queue"
}

// NeedsTape is true when the unit for this row has to hold a drive.
func (r Request) NeedsTape() bool {
	return r.TapeID != hsm.NoTapeID && r.TapeID != hsm.FailedTapeID
}
