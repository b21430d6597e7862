package hsmdb

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/materials-commons/tapehsm/pkg/config"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN is used when TAPEHSM_DB_PATH is "memory". Nothing survives a restart.
const SqliteInMemoryDSN = "file::memory:?cache=shared"

const defaultSqlitePath = "/var/lib/tapehsm/tapehsm.db"

func MakeDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

const maxDBRetries = 5

// MustConnectToDB opens the job store selected by TAPEHSM_DB_DRIVER, retrying maxDBRetries
// times 3 seconds apart. It calls log.Fatalf() if the database never becomes available.
func MustConnectToDB(c config.Configer) *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	driver := c.GetKeyWithDefault("TAPEHSM_DB_DRIVER", "sqlite")
	dialector := func() gorm.Dialector {
		if driver == "mysql" {
			return mysql.Open(MakeDSNFromEnv())
		}
		path := c.GetKeyWithDefault("TAPEHSM_DB_PATH", defaultSqlitePath)
		if path == "memory" {
			path = SqliteInMemoryDSN
		}
		return sqlite.Open(path)
	}

	retryCount := 1
	for {
		db, err = gorm.Open(dialector(), gormConfig)
		switch {
		case err == nil:
			if driver != "mysql" {
				// One writer at a time, more connections only produce SQLITE_BUSY.
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.SetMaxOpenConns(1)
				}
			}
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open %s db: %s", driver, err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

// RunMigrations creates or updates the job, request and pool tables.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&hsmmodel.Job{},
		&hsmmodel.Request{},
		&hsmmodel.Pool{},
		&hsmmodel.PoolCartridge{},
	)
}
