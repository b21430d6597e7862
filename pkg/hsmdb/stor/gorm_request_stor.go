package stor

import (
	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"gorm.io/gorm"
)

type GormRequestStor struct {
	db *gorm.DB
}

func NewGormRequestStor(db *gorm.DB) *GormRequestStor {
	return &GormRequestStor{db: db}
}

func (s *GormRequestStor) CreateRequest(r *hsmmodel.Request) (*hsmmodel.Request, error) {
	var err error

	if r.TraceID == "" {
		if r.TraceID, err = uuid.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(r).Error
	})

	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRequests inserts all rows in one transaction, none is visible before the last.
func (s *GormRequestStor) CreateRequests(rows []*hsmmodel.Request) error {
	for _, r := range rows {
		if r.TraceID != "" {
			continue
		}
		traceID, err := uuid.GenerateUUID()
		if err != nil {
			return err
		}
		r.TraceID = traceID
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		for _, r := range rows {
			if err := tx.Create(r).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormRequestStor) GetRequest(reqNum int, tapeID string) (*hsmmodel.Request, error) {
	var r hsmmodel.Request
	err := s.db.Where("request_num = ? AND tape_id = ?", reqNum, tapeID).First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequestsByState returns rows in submission order.
func (s *GormRequestStor) ListRequestsByState(state hsm.RequestState) ([]hsmmodel.Request, error) {
	var requests []hsmmodel.Request
	err := s.db.Where("state = ?", state).Order("id").Find(&requests).Error
	return requests, err
}

func (s *GormRequestStor) ListRequests(reqNum int) ([]hsmmodel.Request, error) {
	var requests []hsmmodel.Request
	q := s.db.Order("id")
	if reqNum != AllRequests {
		q = q.Where("request_num = ?", reqNum)
	}
	err := q.Find(&requests).Error
	return requests, err
}

func (s *GormRequestStor) UpdateRequestState(reqNum int, tapeID string, state hsm.RequestState) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&hsmmodel.Request{}).
			Where("request_num = ? AND tape_id = ?", reqNum, tapeID).
			Update("state", state).Error
	})
}

func (s *GormRequestStor) CountUnfinished(reqNum int) (int64, error) {
	var count int64
	err := s.db.Model(&hsmmodel.Request{}).
		Where("request_num = ? AND state <> ?", reqNum, hsm.RequestCompleted).
		Count(&count).Error
	return count, err
}

// ResetInProgress hands rows a previous process was working on back to the allocator.
func (s *GormRequestStor) ResetInProgress() (int64, error) {
	var count int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&hsmmodel.Request{}).
			Where("state = ?", hsm.RequestInProgress).
			Update("state", hsm.RequestNew)
		count = result.RowsAffected
		return result.Error
	})
	return count, err
}

// MaxRequestNumber also looks at job rows, a request whose rows were queued but never
// submitted still owns its number.
func (s *GormRequestStor) MaxRequestNumber() (int, error) {
	highest := 0
	for _, model := range []interface{}{&hsmmodel.Request{}, &hsmmodel.Job{}} {
		var maxNum *int
		if err := s.db.Model(model).Select("MAX(request_num)").Scan(&maxNum).Error; err != nil {
			return 0, err
		}
		if maxNum != nil && *maxNum > highest {
			highest = *maxNum
		}
	}
	return highest, nil
}

func (s *GormRequestStor) PoolReferenced(pool string) (bool, error) {
	var count int64
	err := s.db.Model(&hsmmodel.Request{}).
		Where("pool = ? AND state <> ?", pool, hsm.RequestCompleted).
		Count(&count).Error
	return count != 0, err
}
