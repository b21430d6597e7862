package fsobj

import (
	"time"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

// migPhase is what is persisted on the file. Interrupted phases map back to the state the
// file had before the phase started, which keeps every transition all-or-nothing.
type migPhase string

const (
	phaseNone        migPhase = ""
	phaseMigrating   migPhase = "in_migration"
	phasePremigrated migPhase = "premigrated"
	phaseStubbing    migPhase = "stubbing"
	phaseMigrated    migPhase = "migrated"
	phaseRecalling   migPhase = "in_recall"
)

type migInfo struct {
	Phase migPhase  `json:"phase"`
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
	ATime time.Time `json:"atime"`
}

func (m migInfo) fileState() hsm.FileState {
	switch m.Phase {
	case phaseMigrated, phaseRecalling:
		return hsm.Migrated
	case phasePremigrated, phaseStubbing:
		return hsm.Premigrated
	default:
		return hsm.Resident
	}
}

// hasSavedStat is true once the pre-migration stat has been captured.
func (m migInfo) hasSavedStat() bool {
	return m.Phase != phaseNone && m.Phase != phaseMigrating
}
