package tape

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// DirLibrary simulates a tape library on a local directory tree. Each cartridge is a
// directory under Root, much like an LTFS mount point, and mounting takes MountDelay.
type DirLibrary struct {
	Root       string
	MountDelay time.Duration

	mu      sync.Mutex
	mounted map[string]string // tape -> drive
	drives  map[string]string // drive -> tape
	mounts  int
}

func NewDirLibrary(root string, mountDelay time.Duration) *DirLibrary {
	return &DirLibrary{
		Root:       root,
		MountDelay: mountDelay,
		mounted:    make(map[string]string),
		drives:     make(map[string]string),
	}
}

func (l *DirLibrary) Mount(ctx context.Context, driveID, tapeID string) error {
	l.mu.Lock()
	if current, ok := l.drives[driveID]; ok {
		l.mu.Unlock()
		if current == tapeID {
			return nil
		}
		return errors.Wrapf(ErrDriveOccupied, "drive %s holds %s", driveID, current)
	}
	l.mu.Unlock()

	if err := l.move(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(l.tapeDir(tapeID), 0755); err != nil {
		return errors.Wrapf(err, "unable to prepare cartridge %s", tapeID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.mounted[tapeID] = driveID
	l.drives[driveID] = tapeID
	l.mounts++
	log.Infof("mounted %s in drive %s", tapeID, driveID)

	return nil
}

func (l *DirLibrary) Unmount(ctx context.Context, driveID, tapeID string) error {
	l.mu.Lock()
	if l.mounted[tapeID] != driveID {
		l.mu.Unlock()
		return errors.Wrapf(ErrNotMounted, "%s in drive %s", tapeID, driveID)
	}
	l.mu.Unlock()

	if err := l.move(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.mounted, tapeID)
	delete(l.drives, driveID)
	log.Infof("unmounted %s from drive %s", tapeID, driveID)

	return nil
}

// MarkMounted records a cartridge as already sitting in a drive, as found at startup.
func (l *DirLibrary) MarkMounted(driveID, tapeID string) error {
	if err := os.MkdirAll(l.tapeDir(tapeID), 0755); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.mounted[tapeID] = driveID
	l.drives[driveID] = tapeID
	return nil
}

// MountCount is the number of physical mounts performed.
func (l *DirLibrary) MountCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mounts
}

func (l *DirLibrary) IsMounted(tapeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.mounted[tapeID]
	return ok
}

func (l *DirLibrary) move(ctx context.Context) error {
	if l.MountDelay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.MountDelay):
		return nil
	}
}

func (l *DirLibrary) tapeDir(tapeID string) string {
	return filepath.Join(l.Root, tapeID)
}

func (l *DirLibrary) checkMounted(tapeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mounted[tapeID]; !ok {
		return errors.Wrapf(ErrNotMounted, "%s", tapeID)
	}
	return nil
}

func (l *DirLibrary) OpenRead(tapeID, key string) (io.ReadCloser, error) {
	if err := l.checkMounted(tapeID); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(l.tapeDir(tapeID), key))
	switch {
	case os.IsNotExist(err):
		return nil, errors.Wrapf(ErrObjectNotFound, "%s on %s", key, tapeID)
	case err != nil:
		return nil, err
	}

	return f, nil
}

func (l *DirLibrary) Create(tapeID, key string) (Writer, error) {
	if err := l.checkMounted(tapeID); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(l.tapeDir(tapeID), key+".partial-*")
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s on %s", key, tapeID)
	}

	return &dirWriter{f: f, finalPath: filepath.Join(l.tapeDir(tapeID), key)}, nil
}

type dirWriter struct {
	f         *os.File
	finalPath string
}

func (w *dirWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *dirWriter) Commit() error {
	if err := w.f.Sync(); err != nil {
		_ = w.Abort()
		return err
	}

	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}

	return os.Rename(w.f.Name(), w.finalPath)
}

func (w *dirWriter) Abort() error {
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}
