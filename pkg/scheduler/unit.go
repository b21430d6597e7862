package scheduler

import (
	"context"
	"fmt"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// WorkUnit is one (request, tape) pair. DriveID is empty for units that never touch a tape.
type WorkUnit struct {
	RequestNum  int
	TapeID      string
	Operation   hsm.Operation
	TargetState hsm.FileState
	Pool        string
	Replicas    int
	DriveID     string

	// needsMount is set when the allocator picked an empty (or emptied) drive.
	needsMount bool
	// evict is the idle cartridge that has to leave DriveID first.
	evict string
}

func (u *WorkUnit) String() string {
	if u.DriveID == "" {
		return fmt.Sprintf("%s request %d", u.Operation, u.RequestNum)
	}
	return fmt.Sprintf("%s request %d tape %s drive %s", u.Operation, u.RequestNum, u.TapeID, u.DriveID)
}

// UnitRunner processes the jobs of one unit. suspended is true when the runner stopped
// early and left jobs for a later pass.
type UnitRunner interface {
	RunUnit(ctx context.Context, u *WorkUnit) (suspended bool, err error)
}
