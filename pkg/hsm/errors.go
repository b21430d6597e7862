package hsm

import "github.com/pkg/errors"

var (
	ErrTooManyPools     = errors.New("too many pools for a migration request")
	ErrNoPools          = errors.New("a migration request needs at least one pool")
	ErrUnknownPool      = errors.New("no such pool")
	ErrUnknownTape      = errors.New("no such tape")
	ErrPoolExists       = errors.New("pool already exists")
	ErrInvalidPoolName  = errors.New("pool names may only contain lower case letters, digits and dashes")
	ErrPoolNotEmpty     = errors.New("pool is not empty")
	ErrPoolInUse        = errors.New("pool is referenced by an active request")
	ErrTapeBusy         = errors.New("tape is mounted or in use")
	ErrTapeInPool       = errors.New("tape already belongs to a pool")
	ErrTapeNotInPool    = errors.New("tape does not belong to the pool")
	ErrNoSpace          = errors.New("no cartridge in pool has enough remaining capacity")
	ErrDuplicateJob     = errors.New("file already queued for this request")
	ErrSchedulerStopped = errors.New("scheduler is stopped")
	ErrTerminated       = errors.New("operation terminated")
	ErrFileBusy         = errors.New("file is locked by another operation")
	ErrSizeMismatch     = errors.New("transferred size does not match requested size")
	ErrNotRegular       = errors.New("not a regular file")
	ErrNotManaged       = errors.New("file is not on a managed file system")
	ErrFileChanged      = errors.New("file was replaced since it was queued")
	ErrNoTapeMounted    = errors.New("file needs a tape but none is mounted for this unit")
)

// IsValidation is true for errors that reject a request before any row is created.
func IsValidation(err error) bool {
	switch errors.Cause(err) {
	case ErrTooManyPools, ErrNoPools, ErrUnknownPool, ErrUnknownTape:
		return true
	default:
		return false
	}
}
