package stor

import (
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"gorm.io/gorm"
)

type GormPoolStor struct {
	db *gorm.DB
}

func NewGormPoolStor(db *gorm.DB) *GormPoolStor {
	return &GormPoolStor{db: db}
}

func (s *GormPoolStor) CreatePool(name string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(&hsmmodel.Pool{Name: name}).Error
	})
}

func (s *GormPoolStor) DeletePool(name string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Where("pool_name = ?", name).Delete(&hsmmodel.PoolCartridge{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&hsmmodel.Pool{}).Error
	})
}

func (s *GormPoolStor) AddCartridge(pool, tapeID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(&hsmmodel.PoolCartridge{PoolName: pool, TapeID: tapeID}).Error
	})
}

func (s *GormPoolStor) RemoveCartridge(pool, tapeID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("pool_name = ? AND tape_id = ?", pool, tapeID).Delete(&hsmmodel.PoolCartridge{}).Error
	})
}

func (s *GormPoolStor) ListPools() ([]hsmmodel.Pool, error) {
	var pools []hsmmodel.Pool
	err := s.db.Preload("Cartridges").Order("name").Find(&pools).Error
	return pools, err
}
