package inventory

import (
	"fmt"

	"github.com/materials-commons/tapehsm/pkg/hsm"
)

type CartridgeState int

const (
	CartridgeInUse CartridgeState = iota
	CartridgeMounted
	CartridgeMoving
	CartridgeUnmounted
	CartridgeInvalid
	CartridgeUnknown
)

func (s CartridgeState) String() string {
	switch s {
	case CartridgeInUse:
		return "INUSE"
	case CartridgeMounted:
		return "MOUNTED"
	case CartridgeMoving:
		return "MOVING"
	case CartridgeUnmounted:
		return "UNMOUNTED"
	case CartridgeInvalid:
		return "INVALID"
	case CartridgeUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("cartridge state(%d)", int(s))
	}
}

// InDrive is true for every state in which the cartridge occupies a drive.
func (s CartridgeState) InDrive() bool {
	return s == CartridgeInUse || s == CartridgeMounted || s == CartridgeMoving
}

// Cartridge is a tape medium. Slot is where it currently sits: its HomeSlot when
// unmounted, the slot of its drive while mounted.
type Cartridge struct {
	ID         string         `json:"id"`
	Slot       int            `json:"slot"`
	HomeSlot   int            `json:"home_slot"`
	Total      uint64         `json:"total"`
	Remaining  uint64         `json:"remaining"`
	Pool       string         `json:"pool"`
	State      CartridgeState `json:"state"`
	NextBlock  int64          `json:"next_block"`
	InProgress bool           `json:"in_progress"`
}

type DriveStatus string

const (
	DriveOK    DriveStatus = "ok"
	DriveError DriveStatus = "error"
)

type Drive struct {
	ID      string      `json:"id"`
	DevName string      `json:"dev_name"`
	Slot    int         `json:"slot"`
	Status  DriveStatus `json:"status"`
	Busy    bool        `json:"busy"`

	// ToUnblock names the operation waiting for the drive's cartridge, hsm.OpNone if nobody is.
	ToUnblock hsm.Operation `json:"to_unblock"`

	// Cartridge is the id of the mounted cartridge, empty when the drive is empty.
	Cartridge string `json:"cartridge"`
}

func (d Drive) Free() bool {
	return !d.Busy && d.Status == DriveOK
}

type Pool struct {
	Name       string   `json:"name"`
	Cartridges []string `json:"cartridges"`
}

// PoolSummary is the pool listing row, with capacity totals over its cartridges.
type PoolSummary struct {
	Name      string `json:"name"`
	NumTapes  int    `json:"num_tapes"`
	Total     uint64 `json:"total"`
	Remaining uint64 `json:"remaining"`
}

// Placement is where a migrated file's replica goes.
type Placement struct {
	Pool       string
	TapeID     string
	StartBlock int64
}
