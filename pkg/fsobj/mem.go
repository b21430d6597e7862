package fsobj

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/lock"
	"github.com/pkg/errors"
)

// MemOpener keeps files in memory for tests. It mimics the transitions of PosixOpener
// and lets callers inject read, write and open failures per path.
type MemOpener struct {
	mu        sync.Mutex
	files     map[string]*memFile
	locker    *lock.PathLocker
	nextINode uint64
	FsID      uint64
}

type memFile struct {
	data       []byte
	mode       os.FileMode
	mtime      time.Time
	atime      time.Time
	inode      uint64
	unmanaged  bool
	attr       *MigAttr
	info       migInfo
	failOpen   error
	failRead   error
	failWrite  error
	failFinish error
}

func NewMemOpener() *MemOpener {
	return &MemOpener{
		files:     make(map[string]*memFile),
		locker:    lock.NewPathLocker(),
		nextINode: 100,
		FsID:      0x7461706568736d,
	}
}

// Create adds or replaces a resident file holding data.
func (o *MemOpener) Create(path string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextINode++
	now := time.Now()
	o.files[path] = &memFile{
		data:  append([]byte{}, data...),
		mode:  0644,
		mtime: now,
		atime: now,
		inode: o.nextINode,
	}
}

// SetUnmanaged marks path as living outside a managed file system.
func (o *MemOpener) SetUnmanaged(path string) {
	o.withFile(path, func(f *memFile) { f.unmanaged = true })
}

func (o *MemOpener) FailOpen(path string, err error) {
	o.withFile(path, func(f *memFile) { f.failOpen = err })
}

func (o *MemOpener) FailRead(path string, err error) {
	o.withFile(path, func(f *memFile) { f.failRead = err })
}

func (o *MemOpener) FailWrite(path string, err error) {
	o.withFile(path, func(f *memFile) { f.failWrite = err })
}

// FailFinishRecall makes leaving a recall fail for path. A nil err clears it.
func (o *MemOpener) FailFinishRecall(path string, err error) {
	o.withFile(path, func(f *memFile) { f.failFinish = err })
}

// Content returns a copy of the current file data.
func (o *MemOpener) Content(path string) []byte {
	var data []byte
	o.withFile(path, func(f *memFile) { data = append([]byte{}, f.data...) })
	return data
}

// State returns the migration state recorded for path.
func (o *MemOpener) State(path string) hsm.FileState {
	state := hsm.Resident
	o.withFile(path, func(f *memFile) { state = f.info.fileState() })
	return state
}

// Attr returns the replica attribute recorded for path.
func (o *MemOpener) Attr(path string) MigAttr {
	var attr MigAttr
	o.withFile(path, func(f *memFile) {
		if f.attr != nil {
			attr = *f.attr
		}
	})
	return attr
}

// HoldLock takes the file lock for path outside of any FsObj, the returned func releases it.
func (o *MemOpener) HoldLock(path string) func() {
	o.locker.AcquireLock(path)
	return func() { o.locker.ReleaseLock(path) }
}

func (o *MemOpener) withFile(path string, fn func(f *memFile)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.files[path]; ok {
		fn(f)
	}
}

func (o *MemOpener) Open(path string) (FsObj, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, ok := o.files[path]
	switch {
	case !ok:
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	case f.failOpen != nil:
		return nil, f.failOpen
	}

	return &memObj{path: path, opener: o}, nil
}

type memObj struct {
	path   string
	opener *MemOpener
	locked bool
}

func (m *memObj) file(fn func(f *memFile) error) error {
	m.opener.mu.Lock()
	defer m.opener.mu.Unlock()

	f, ok := m.opener.files[m.path]
	if !ok {
		return &os.PathError{Op: "access", Path: m.path, Err: os.ErrNotExist}
	}

	return fn(f)
}

func (m *memObj) Path() string {
	return m.path
}

func (m *memObj) IsManaged() bool {
	managed := false
	_ = m.file(func(f *memFile) error {
		managed = !f.unmanaged
		return nil
	})
	return managed
}

func (m *memObj) Stat() (FileInfo, error) {
	var info FileInfo
	err := m.file(func(f *memFile) error {
		info = FileInfo{
			Size:  int64(len(f.data)),
			Mode:  f.mode,
			MTime: f.mtime,
			ATime: f.atime,
			FsID:  m.opener.FsID,
			IGen:  1,
			INode: f.inode,
		}
		if f.info.hasSavedStat() {
			info.Size = f.info.Size
			info.MTime = f.info.MTime
			info.ATime = f.info.ATime
		}
		return nil
	})
	return info, err
}

func (m *memObj) Lock() error {
	m.opener.locker.AcquireLock(m.path)
	m.locked = true
	return nil
}

func (m *memObj) TryLock() (bool, error) {
	if !m.opener.locker.TryAcquireLock(m.path) {
		return false, nil
	}
	m.locked = true
	return true, nil
}

func (m *memObj) Unlock() error {
	if !m.locked {
		return nil
	}
	m.locked = false
	m.opener.locker.ReleaseLock(m.path)
	return nil
}

func (m *memObj) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	err := m.file(func(f *memFile) error {
		if f.failRead != nil {
			return f.failRead
		}
		if off >= int64(len(f.data)) {
			return io.EOF
		}
		n = copy(p, f.data[off:])
		if n < len(p) {
			return io.EOF
		}
		return nil
	})
	return n, err
}

func (m *memObj) WriteAt(p []byte, off int64) (int, error) {
	err := m.file(func(f *memFile) error {
		if f.failWrite != nil {
			return f.failWrite
		}
		end := off + int64(len(p))
		if end > int64(len(f.data)) {
			grown := make([]byte, end)
			copy(grown, f.data)
			f.data = grown
		}
		copy(f.data[off:], p)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (m *memObj) Attribute() (MigAttr, error) {
	var attr MigAttr
	err := m.file(func(f *memFile) error {
		if f.attr != nil {
			attr = *f.attr
		}
		return nil
	})
	return attr, err
}

func (m *memObj) AddAttribute(attr MigAttr) error {
	return m.file(func(f *memFile) error {
		f.attr = &attr
		return nil
	})
}

func (m *memObj) RemoveAttribute() error {
	return m.file(func(f *memFile) error {
		f.attr = nil
		return nil
	})
}

func (m *memObj) MigState() (hsm.FileState, error) {
	state := hsm.Failed
	err := m.file(func(f *memFile) error {
		state = f.info.fileState()
		return nil
	})
	return state, err
}

func (m *memObj) setPhase(phase migPhase) error {
	return m.file(func(f *memFile) error {
		f.info.Phase = phase
		return nil
	})
}

func (m *memObj) PreparePremigration() error {
	return m.file(func(f *memFile) error {
		f.info = migInfo{Phase: phaseMigrating}
		return nil
	})
}

func (m *memObj) FinishPremigration() error {
	return m.file(func(f *memFile) error {
		f.info = migInfo{Phase: phasePremigrated, Size: int64(len(f.data)), MTime: f.mtime, ATime: f.atime}
		return nil
	})
}

func (m *memObj) PrepareStubbing() error {
	return m.setPhase(phaseStubbing)
}

func (m *memObj) Stub() error {
	return m.file(func(f *memFile) error {
		if f.failWrite != nil {
			f.info.Phase = phasePremigrated
			return errors.Wrapf(f.failWrite, "truncate %s", m.path)
		}
		f.data = nil
		f.info.Phase = phaseMigrated
		return nil
	})
}

func (m *memObj) PrepareRecall() error {
	return m.setPhase(phaseRecalling)
}

func (m *memObj) FinishRecall(to hsm.FileState) error {
	return m.file(func(f *memFile) error {
		if f.failFinish != nil {
			return f.failFinish
		}
		if f.info.hasSavedStat() {
			f.mtime = f.info.MTime
			f.atime = f.info.ATime
		}
		if to == hsm.Premigrated {
			f.info.Phase = phasePremigrated
			return nil
		}
		f.info = migInfo{}
		return nil
	})
}

func (m *memObj) Close() error {
	return m.Unlock()
}
