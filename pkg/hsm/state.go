package hsm

import (
	"fmt"
	"strings"
)

// FileState is the migration state of a managed file. The same values are used for
// the state column of job rows, which additionally see the transitional states while
// a unit of work is processing them.
type FileState int

const (
	Resident FileState = iota
	Premigrated
	Migrated
	Failed
	Premigrating
	Stubbing
	RecallingMig
	RecallingPremig
)

var fileStateNames = [...]string{
	Resident:        "resident",
	Premigrated:     "premigrated",
	Migrated:        "migrated",
	Failed:          "failed",
	Premigrating:    "premigrating",
	Stubbing:        "stubbing",
	RecallingMig:    "recalling",
	RecallingPremig: "recalling",
}

func (s FileState) String() string {
	if s < 0 || int(s) >= len(fileStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return fileStateNames[s]
}

// IsTransitional is true for the states a job row only holds while a unit of work owns it.
func (s FileState) IsTransitional() bool {
	switch s {
	case Premigrating, Stubbing, RecallingMig, RecallingPremig:
		return true
	default:
		return false
	}
}

// ParseTargetState accepts the two states a request may target for each direction.
func ParseTargetState(s string) (FileState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resident":
		return Resident, nil
	case "premigrated", "premig":
		return Premigrated, nil
	case "migrated", "":
		return Migrated, nil
	default:
		return Resident, fmt.Errorf("invalid target state '%s'", s)
	}
}

// Operation is the kind of request a job or request row belongs to.
type Operation int

const (
	OpMigration Operation = iota
	OpSelRecall
	OpTraRecall

	// OpNone is the value of a drive's to-unblock marker when nobody waits for the drive.
	OpNone Operation = -1
)

func (o Operation) String() string {
	switch o {
	case OpMigration:
		return "migration"
	case OpSelRecall:
		return "selective recall"
	case OpTraRecall:
		return "transparent recall"
	case OpNone:
		return "none"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Priority orders operations for the allocator. Lower runs first.
func (o Operation) Priority() int {
	switch o {
	case OpTraRecall:
		return 0
	case OpSelRecall:
		return 1
	default:
		return 2
	}
}

// RequestState is the lifecycle of a (request, tape) row. It only moves forward,
// except that a preempted or terminated unit hands its row back to RequestNew.
type RequestState int

const (
	RequestNew RequestState = iota
	RequestInProgress
	RequestCompleted
)

func (s RequestState) String() string {
	switch s {
	case RequestNew:
		return "new"
	case RequestInProgress:
		return "in progress"
	case RequestCompleted:
		return "completed"
	default:
		return fmt.Sprintf("request state(%d)", int(s))
	}
}
