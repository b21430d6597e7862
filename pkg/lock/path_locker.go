package lock

import (
	"sync"

	"github.com/apex/log"
)

// PathLocker hands out one exclusive lock per key (usually a file path). Mutexes are
// created on first use and kept for the lifetime of the locker.
type PathLocker struct {
	mapMutex sync.Mutex
	pathMap  map[string]*sync.Mutex
}

func NewPathLocker() *PathLocker {
	return &PathLocker{
		pathMap: make(map[string]*sync.Mutex),
	}
}

func (l *PathLocker) mutexFor(path string) *sync.Mutex {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()

	m, ok := l.pathMap[path]
	if !ok {
		m = &sync.Mutex{}
		l.pathMap[path] = m
	}

	return m
}

func (l *PathLocker) AcquireLock(path string) {
	l.mutexFor(path).Lock()
}

// TryAcquireLock returns false instead of blocking when another holder has path.
func (l *PathLocker) TryAcquireLock(path string) bool {
	return l.mutexFor(path).TryLock()
}

func (l *PathLocker) ReleaseLock(path string) {
	l.mapMutex.Lock()
	m, ok := l.pathMap[path]
	l.mapMutex.Unlock()

	if !ok {
		log.Errorf("ReleaseLock called on path (%s) with no mutex", path)
		return
	}

	m.Unlock()
}

func (l *PathLocker) WithLock(path string, f func() error) error {
	l.AcquireLock(path)
	defer l.ReleaseLock(path)
	return f()
}
