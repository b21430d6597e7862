package stor

import (
	"strings"
	"time"

	"github.com/materials-commons/tapehsm/pkg/config"
	"gorm.io/gorm"
)

const (
	minTxRetry = 3
	txBackoff  = 20 * time.Millisecond
)

// WithTxRetry runs fn in a transaction, retrying while the database reports lock
// contention. Any other error, including the ones fn returns itself, ends it at once.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	attempts := max(config.GetIntKeyWithDefault("TAPEHSM_TX_RETRY", minTxRetry), minTxRetry)

	var err error
	for i := 0; i < attempts; i++ {
		if err = db.Transaction(fn); err == nil || !isContention(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * txBackoff)
	}

	return err
}

// isContention matches SQLITE_BUSY and MySQL lock wait and deadlock errors.
func isContention(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "deadlock", "lock wait timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
