package fsobj

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

const (
	stateAttrName   = "user.tapehsm.state"
	replicaAttrName = "user.tapehsm.replicas"
)

// fsIocGetVersion is FS_IOC_GETVERSION (_IOR('v', 1, long) on 64-bit Linux),
// which golang.org/x/sys/unix does not define.
const fsIocGetVersion = 0x80087601

// PosixOpener opens regular files on a local file system. Migration state and the replica
// list are kept in extended attributes so they survive a daemon restart.
type PosixOpener struct {
	// ManagedRoots limits which paths are managed. Empty means every path is.
	ManagedRoots []string
}

func NewPosixOpener(managedRoots ...string) *PosixOpener {
	return &PosixOpener{ManagedRoots: managedRoots}
}

func (o *PosixOpener) Open(path string) (FsObj, error) {
	path = filepath.Clean(path)

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !fi.Mode().IsRegular() {
		return nil, errors.Wrapf(hsm.ErrNotRegular, "%s", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &posixObj{path: path, f: f, opener: o}, nil
}

type posixObj struct {
	path   string
	f      *os.File
	opener *PosixOpener
	locked bool
}

func (o *posixObj) Path() string {
	return o.path
}

func (o *posixObj) IsManaged() bool {
	if len(o.opener.ManagedRoots) == 0 {
		return true
	}

	for _, root := range o.opener.ManagedRoots {
		root = filepath.Clean(root)
		if o.path == root || strings.HasPrefix(o.path, root+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

func (o *posixObj) Stat() (FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(o.f.Fd()), &st); err != nil {
		return FileInfo{}, errors.Wrapf(err, "fstat %s", o.path)
	}

	info := FileInfo{
		Size:  st.Size,
		Mode:  os.FileMode(st.Mode & 0777),
		MTime: time.Unix(st.Mtim.Unix()),
		ATime: time.Unix(st.Atim.Unix()),
		INode: st.Ino,
	}

	var sfs unix.Statfs_t
	if err := unix.Fstatfs(int(o.f.Fd()), &sfs); err == nil {
		info.FsID = uint64(uint32(sfs.Fsid.Val[0]))<<32 | uint64(uint32(sfs.Fsid.Val[1]))
	}

	// Not every file system supports generations, zero is fine then.
	if igen, err := unix.IoctlGetInt(int(o.f.Fd()), fsIocGetVersion); err == nil {
		info.IGen = uint32(igen)
	}

	mi, err := o.migInfo()
	if err != nil {
		return FileInfo{}, err
	}

	if mi.hasSavedStat() {
		info.Size = mi.Size
		info.MTime = mi.MTime
		info.ATime = mi.ATime
	}

	return info, nil
}

func (o *posixObj) Lock() error {
	if err := unix.Flock(int(o.f.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(err, "lock %s", o.path)
	}
	o.locked = true
	return nil
}

func (o *posixObj) TryLock() (bool, error) {
	err := unix.Flock(int(o.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		o.locked = true
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	default:
		return false, errors.Wrapf(err, "trylock %s", o.path)
	}
}

func (o *posixObj) Unlock() error {
	if !o.locked {
		return nil
	}
	o.locked = false
	return unix.Flock(int(o.f.Fd()), unix.LOCK_UN)
}

func (o *posixObj) ReadAt(p []byte, off int64) (int, error) {
	return o.f.ReadAt(p, off)
}

func (o *posixObj) WriteAt(p []byte, off int64) (int, error) {
	return o.f.WriteAt(p, off)
}

func isNoAttr(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		return xerr.Err == xattr.ENOATTR || xerr.Err == syscall.ENODATA
	}
	return false
}

func (o *posixObj) getJSONAttr(name string, v interface{}) (bool, error) {
	data, err := xattr.FGet(o.f, name)
	switch {
	case isNoAttr(err):
		return false, nil
	case err != nil:
		return false, errors.Wrapf(err, "get %s on %s", name, o.path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrapf(err, "decode %s on %s", name, o.path)
	}

	return true, nil
}

func (o *posixObj) setJSONAttr(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := xattr.FSet(o.f, name, data); err != nil {
		return errors.Wrapf(err, "set %s on %s", name, o.path)
	}

	return nil
}

func (o *posixObj) removeAttr(name string) error {
	if err := xattr.FRemove(o.f, name); err != nil && !isNoAttr(err) {
		return errors.Wrapf(err, "remove %s on %s", name, o.path)
	}
	return nil
}

func (o *posixObj) Attribute() (MigAttr, error) {
	var attr MigAttr
	_, err := o.getJSONAttr(replicaAttrName, &attr)
	return attr, err
}

func (o *posixObj) AddAttribute(attr MigAttr) error {
	return o.setJSONAttr(replicaAttrName, attr)
}

func (o *posixObj) RemoveAttribute() error {
	return o.removeAttr(replicaAttrName)
}

func (o *posixObj) migInfo() (migInfo, error) {
	var mi migInfo
	_, err := o.getJSONAttr(stateAttrName, &mi)
	return mi, err
}

func (o *posixObj) setPhase(phase migPhase) error {
	mi, err := o.migInfo()
	if err != nil {
		return err
	}

	mi.Phase = phase
	return o.setJSONAttr(stateAttrName, mi)
}

func (o *posixObj) MigState() (hsm.FileState, error) {
	mi, err := o.migInfo()
	if err != nil {
		return hsm.Failed, err
	}
	return mi.fileState(), nil
}

func (o *posixObj) PreparePremigration() error {
	return o.setJSONAttr(stateAttrName, migInfo{Phase: phaseMigrating})
}

// FinishPremigration captures the stat the file had while resident, the stub reports it later.
func (o *posixObj) FinishPremigration() error {
	fi, err := o.f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", o.path)
	}

	mi := migInfo{Phase: phasePremigrated, Size: fi.Size(), MTime: fi.ModTime(), ATime: fi.ModTime()}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		mi.ATime = time.Unix(st.Atim.Unix())
	}

	return o.setJSONAttr(stateAttrName, mi)
}

func (o *posixObj) PrepareStubbing() error {
	return o.setPhase(phaseStubbing)
}

func (o *posixObj) Stub() error {
	if err := o.f.Truncate(0); err != nil {
		_ = o.setPhase(phasePremigrated)
		return errors.Wrapf(err, "truncate %s", o.path)
	}

	_ = unix.Fadvise(int(o.f.Fd()), 0, 0, unix.FADV_DONTNEED)

	return o.setPhase(phaseMigrated)
}

func (o *posixObj) PrepareRecall() error {
	return o.setPhase(phaseRecalling)
}

func (o *posixObj) FinishRecall(to hsm.FileState) error {
	mi, err := o.migInfo()
	if err != nil {
		return err
	}

	if mi.hasSavedStat() {
		if err := os.Chtimes(o.path, mi.ATime, mi.MTime); err != nil {
			return errors.Wrapf(err, "restore times on %s", o.path)
		}
	}

	if to == hsm.Premigrated {
		mi.Phase = phasePremigrated
		return o.setJSONAttr(stateAttrName, mi)
	}

	return o.removeAttr(stateAttrName)
}

func (o *posixObj) Close() error {
	_ = o.Unlock()
	return o.f.Close()
}
