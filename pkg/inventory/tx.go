package inventory

import (
	"github.com/apex/log"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/pkg/errors"
)

// Tx is the view of the inventory handed to WithLock callbacks. Pointers it returns are
// only valid until the callback returns.
type Tx struct {
	inv *Inventory
}

func (tx *Tx) Cartridge(id string) *Cartridge {
	return tx.inv.cartridges[id]
}

func (tx *Tx) Drive(id string) *Drive {
	for _, d := range tx.inv.drives {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (tx *Tx) Drives() []*Drive {
	return tx.inv.drives
}

// DriveHolding returns the drive tapeID is mounted in, or nil.
func (tx *Tx) DriveHolding(tapeID string) *Drive {
	for _, d := range tx.inv.drives {
		if d.Cartridge == tapeID {
			return d
		}
	}
	return nil
}

// Mount records tapeID as sitting in driveID. A drive already holding a different
// cartridge means the inventory no longer matches the library, which is fatal.
func (tx *Tx) Mount(driveID, tapeID string, state CartridgeState) {
	d := tx.Drive(driveID)
	c := tx.Cartridge(tapeID)
	switch {
	case d == nil || c == nil:
		log.Fatalf("mount of unknown cartridge %s or drive %s", tapeID, driveID)
	case d.Cartridge != "" && d.Cartridge != tapeID:
		log.Fatalf("drive %s already holds %s, cannot mount %s", driveID, d.Cartridge, tapeID)
	}

	d.Cartridge = tapeID
	c.Slot = d.Slot
	c.State = state
}

// Unmount puts the drive's cartridge back into its home slot.
func (tx *Tx) Unmount(driveID string) {
	d := tx.Drive(driveID)
	if d == nil {
		log.Fatalf("unmount from unknown drive %s", driveID)
	}

	if c := tx.Cartridge(d.Cartridge); c != nil {
		c.Slot = c.HomeSlot
		c.State = CartridgeUnmounted
	}
	d.Cartridge = ""
}

// Reserve picks the cartridge of poolName a file of size bytes goes to. A mounted cartridge
// with room wins, otherwise the cartridge with the most remaining capacity. The space is
// taken off the cartridge and the start block handed out.
func (tx *Tx) Reserve(poolName string, size int64) (Placement, error) {
	p, ok := tx.inv.pools[poolName]
	if !ok {
		return Placement{}, errors.Wrapf(hsm.ErrUnknownPool, "%s", poolName)
	}

	var mounted, best *Cartridge
	for _, id := range p.Cartridges {
		c := tx.inv.cartridges[id]
		if c.State == CartridgeInvalid || c.State == CartridgeUnknown || c.Remaining < uint64(size) {
			continue
		}

		if c.State.InDrive() && (mounted == nil || c.Remaining > mounted.Remaining) {
			mounted = c
		}

		if best == nil || c.Remaining > best.Remaining {
			best = c
		}
	}

	if mounted != nil {
		best = mounted
	}

	if best == nil {
		return Placement{}, errors.Wrapf(hsm.ErrNoSpace, "pool %s, %d bytes", poolName, size)
	}

	placement := Placement{Pool: poolName, TapeID: best.ID, StartBlock: best.NextBlock}
	best.Remaining -= uint64(size)
	best.NextBlock += blocksFor(size)
	if size == 0 {
		best.NextBlock++
	}

	return placement, nil
}

// Reserve is Tx.Reserve under the inventory lock.
func (inv *Inventory) Reserve(poolName string, size int64) (Placement, error) {
	var (
		placement Placement
		err       error
	)

	_ = inv.WithLock(func(tx *Tx) error {
		placement, err = tx.Reserve(poolName, size)
		return nil
	})

	return placement, err
}
