package hsmmodel

import "time"

type Pool struct {
	Name       string          `json:"name" gorm:"primaryKey;size:128"`
	Cartridges []PoolCartridge `json:"cartridges" gorm:"foreignKey:PoolName;references:Name"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Pool) TableName() string {
	return "pools"
}

type PoolCartridge struct {
	ID       int    `json:"id"`
	PoolName string `json:"pool_name" gorm:"index;size:128"`
	TapeID   string `json:"tape_id" gorm:"uniqueIndex;size:64"`
}

func (PoolCartridge) TableName() string {
	return "pool_cartridges"
}
