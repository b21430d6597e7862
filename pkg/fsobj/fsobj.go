// Package fsobj is the capability surface the scheduler uses to inspect and transition
// one managed file: state, locking, content I/O and the replica attribute.
package fsobj

import (
	"os"
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// FileInfo is the subset of stat data a job row records. For premigrated and migrated
// files it describes the file as it was when it was premigrated, not the stub.
type FileInfo struct {
	Size  int64
	Mode  os.FileMode
	MTime time.Time
	ATime time.Time
	FsID  uint64
	IGen  uint32
	INode uint64
}

// MigAttr is the replica attribute: which tapes hold a copy of the file.
type MigAttr struct {
	Copies      int      `json:"copies"`
	TapeIDs     []string `json:"tape_ids"`
	StartBlocks []int64  `json:"start_blocks"`
}

// HasTape reports whether tapeID already holds a replica.
func (a MigAttr) HasTape(tapeID string) bool {
	for _, id := range a.TapeIDs {
		if id == tapeID {
			return true
		}
	}
	return false
}

// FirstTape returns the primary replica, or hsm.NoTapeID.
func (a MigAttr) FirstTape() string {
	if len(a.TapeIDs) == 0 {
		return hsm.NoTapeID
	}
	return a.TapeIDs[0]
}

// StartBlockFor returns the recorded start block of the replica on tapeID.
func (a MigAttr) StartBlockFor(tapeID string) int64 {
	for i, id := range a.TapeIDs {
		if id == tapeID && i < len(a.StartBlocks) {
			return a.StartBlocks[i]
		}
	}
	return 0
}

// WithReplica returns a copy of a with tapeID appended, up to hsm.MaxReplica entries.
func (a MigAttr) WithReplica(tapeID string, startBlock int64) MigAttr {
	if a.HasTape(tapeID) || len(a.TapeIDs) >= hsm.MaxReplica {
		return a
	}
	next := MigAttr{
		TapeIDs:     append(append([]string{}, a.TapeIDs...), tapeID),
		StartBlocks: append(append([]int64{}, a.StartBlocks...), startBlock),
	}
	next.Copies = len(next.TapeIDs)
	return next
}

type FsObj interface {
	Path() string
	IsManaged() bool
	Stat() (FileInfo, error)

	Lock() error
	TryLock() (bool, error)
	Unlock() error

	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)

	Attribute() (MigAttr, error)
	AddAttribute(attr MigAttr) error
	RemoveAttribute() error

	MigState() (hsm.FileState, error)
	PreparePremigration() error
	FinishPremigration() error
	PrepareStubbing() error
	Stub() error
	PrepareRecall() error
	FinishRecall(to hsm.FileState) error

	Close() error
}

type Opener interface {
	Open(path string) (FsObj, error)
}

// With opens path, runs fn and closes the object on every path out of fn.
func With(opener Opener, path string, fn func(obj FsObj) error) (err error) {
	obj, err := opener.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := obj.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(obj)
}
