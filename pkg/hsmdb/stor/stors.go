package stor

import (
	"errors"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"gorm.io/gorm"
)

type JobStor interface {
	// WithBatch runs fn inside one transaction; fn receives a JobStor bound to it.
	WithBatch(fn func(jobs JobStor) error) error
	// InsertJob returns hsm.ErrDuplicateJob when the (request, file, replica) row exists.
	InsertJob(job *hsmmodel.Job) error
	ListTapesForRequest(reqNum int) ([]string, error)
	ListJobsForUnit(reqNum int, tapeID string, states ...hsm.FileState) ([]hsmmodel.Job, error)
	ListJobs(reqNum int) ([]hsmmodel.Job, error)
	ListTransitionalJobs() ([]hsmmodel.Job, error)
	SetUnitJobsState(reqNum int, tapeID string, from, to hsm.FileState) (int64, error)
	SetJobsState(ids []int, to hsm.FileState) error
	UpdateJobState(id int, to hsm.FileState) error
	FailJob(id int, cause error) error
	PromoteReplicas(reqNum int, path string, from, to hsm.FileState) (int64, error)
	CountStates(reqNum int) (map[hsm.FileState]int64, error)
}

type RequestStor interface {
	CreateRequest(r *hsmmodel.Request) (*hsmmodel.Request, error)
	CreateRequests(rows []*hsmmodel.Request) error
	GetRequest(reqNum int, tapeID string) (*hsmmodel.Request, error)
	ListRequestsByState(state hsm.RequestState) ([]hsmmodel.Request, error)
	ListRequests(reqNum int) ([]hsmmodel.Request, error)
	UpdateRequestState(reqNum int, tapeID string, state hsm.RequestState) error
	CountUnfinished(reqNum int) (int64, error)
	ResetInProgress() (int64, error)
	MaxRequestNumber() (int, error)
	PoolReferenced(pool string) (bool, error)
}

type PoolStor interface {
	CreatePool(name string) error
	DeletePool(name string) error
	AddCartridge(pool, tapeID string) error
	RemoveCartridge(pool, tapeID string) error
	ListPools() ([]hsmmodel.Pool, error)
}

type Stors struct {
	JobStor     JobStor
	RequestStor RequestStor
	PoolStor    PoolStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		JobStor:     NewGormJobStor(db),
		RequestStor: NewGormRequestStor(db),
		PoolStor:    NewGormPoolStor(db),
	}
}

// AllRequests is passed to ListRequests and ListJobs to select every request.
const AllRequests = -1

func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
