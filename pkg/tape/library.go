// Package tape is the drive-control collaborator. The scheduler decides when a cartridge
// is mounted and in which drive; a Library carries the movement out and gives access to
// the objects stored on a mounted cartridge.
package tape

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrNotMounted     = errors.New("cartridge is not mounted")
	ErrDriveOccupied  = errors.New("drive already holds a cartridge")
	ErrObjectNotFound = errors.New("no such object on cartridge")
)

type Library interface {
	Mount(ctx context.Context, driveID, tapeID string) error
	Unmount(ctx context.Context, driveID, tapeID string) error

	// OpenRead opens the object key on a mounted cartridge.
	OpenRead(tapeID, key string) (io.ReadCloser, error)

	// Create starts a new object on a mounted cartridge. Nothing is visible until Commit.
	Create(tapeID, key string) (Writer, error)
}

type Writer interface {
	io.Writer
	Commit() error
	Abort() error
}

// ObjectKey names the object holding a file's content. The triple survives renames
// of the file and changes when the inode is reused.
func ObjectKey(fsID uint64, iGen uint32, iNode uint64) string {
	return fmt.Sprintf("%x.%x.%x", fsID, iGen, iNode)
}
