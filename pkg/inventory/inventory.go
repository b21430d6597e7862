// Package inventory is the registry of pools, cartridges and drives. Every exported method
// takes the inventory lock and returns copies. Callers that need to look and then act under
// one lock hold use WithLock.
package inventory

import (
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/gosimple/slug"
	"github.com/materials-commons/tapehsm/pkg/config"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/pkg/errors"
)

// PoolReferenceChecker reports whether an unfinished request still names a pool.
type PoolReferenceChecker interface {
	PoolReferenced(pool string) (bool, error)
}

type Inventory struct {
	mu sync.Mutex

	drives     []*Drive
	cartridges map[string]*Cartridge
	cartOrder  []string
	pools      map[string]*Pool

	poolStor   stor.PoolStor
	refChecker PoolReferenceChecker
}

type Option func(inv *Inventory)

// WithPoolStor persists pool membership and loads it when the inventory is created.
func WithPoolStor(poolStor stor.PoolStor) Option {
	return func(inv *Inventory) {
		inv.poolStor = poolStor
	}
}

func WithPoolReferenceChecker(checker PoolReferenceChecker) Option {
	return func(inv *Inventory) {
		inv.refChecker = checker
	}
}

// New builds the inventory from a library description. Cartridges listed as mounted start
// out MOUNTED in their drive, all others UNMOUNTED in their home slot.
func New(desc *config.LibraryDescription, opts ...Option) (*Inventory, error) {
	inv := &Inventory{
		cartridges: make(map[string]*Cartridge),
		pools:      make(map[string]*Pool),
	}

	for _, opt := range opts {
		opt(inv)
	}

	drivesByID := make(map[string]*Drive)
	for _, dd := range desc.Drives {
		if _, ok := drivesByID[dd.ID]; ok {
			return nil, errors.Errorf("drive %s listed twice", dd.ID)
		}
		d := &Drive{ID: dd.ID, DevName: dd.DevName, Slot: dd.Slot, Status: DriveOK, ToUnblock: hsm.OpNone}
		inv.drives = append(inv.drives, d)
		drivesByID[d.ID] = d
	}

	for _, cd := range desc.Cartridges {
		if _, ok := inv.cartridges[cd.ID]; ok {
			return nil, errors.Errorf("cartridge %s listed twice", cd.ID)
		}

		total, remaining, err := cd.CapacityBytes()
		if err != nil {
			return nil, err
		}

		c := &Cartridge{
			ID:        cd.ID,
			Slot:      cd.Slot,
			HomeSlot:  cd.Slot,
			Total:     total,
			Remaining: remaining,
			State:     CartridgeUnmounted,
			NextBlock: blocksFor(int64(total - remaining)),
		}

		if cd.MountedIn != "" {
			d, ok := drivesByID[cd.MountedIn]
			switch {
			case !ok:
				return nil, errors.Errorf("cartridge %s mounted in unknown drive %s", cd.ID, cd.MountedIn)
			case d.Cartridge != "":
				return nil, errors.Errorf("drive %s holds both %s and %s", d.ID, d.Cartridge, cd.ID)
			}
			d.Cartridge = c.ID
			c.Slot = d.Slot
			c.State = CartridgeMounted
		}

		inv.cartridges[c.ID] = c
		inv.cartOrder = append(inv.cartOrder, c.ID)
	}

	if inv.poolStor != nil {
		if err := inv.loadPools(); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

func (inv *Inventory) loadPools() error {
	pools, err := inv.poolStor.ListPools()
	if err != nil {
		return errors.Wrap(err, "unable to load pools")
	}

	for _, p := range pools {
		pool := &Pool{Name: p.Name}
		for _, pc := range p.Cartridges {
			c, ok := inv.cartridges[pc.TapeID]
			if !ok {
				log.Warnf("pool %s: cartridge %s is not in the library, ignoring", p.Name, pc.TapeID)
				continue
			}
			c.Pool = p.Name
			pool.Cartridges = append(pool.Cartridges, c.ID)
		}
		inv.pools[p.Name] = pool
	}

	return nil
}

func blocksFor(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + hsm.TapeBlockSize - 1) / hsm.TapeBlockSize
}

func (inv *Inventory) LookupPool(name string) (Pool, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	p, ok := inv.pools[name]
	if !ok {
		return Pool{}, false
	}
	return Pool{Name: p.Name, Cartridges: append([]string{}, p.Cartridges...)}, true
}

func (inv *Inventory) LookupCartridge(id string) (Cartridge, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	c, ok := inv.cartridges[id]
	if !ok {
		return Cartridge{}, false
	}
	return *c, true
}

func (inv *Inventory) LookupDrive(id string) (Drive, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, d := range inv.drives {
		if d.ID == id {
			return *d, true
		}
	}
	return Drive{}, false
}

func (inv *Inventory) ListDrives() []Drive {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	drives := make([]Drive, 0, len(inv.drives))
	for _, d := range inv.drives {
		drives = append(drives, *d)
	}
	return drives
}

func (inv *Inventory) ListCartridges() []Cartridge {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	cartridges := make([]Cartridge, 0, len(inv.cartOrder))
	for _, id := range inv.cartOrder {
		cartridges = append(cartridges, *inv.cartridges[id])
	}
	return cartridges
}

func (inv *Inventory) ListPools() []PoolSummary {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	summaries := make([]PoolSummary, 0, len(inv.pools))
	for _, p := range inv.pools {
		s := PoolSummary{Name: p.Name, NumTapes: len(p.Cartridges)}
		for _, id := range p.Cartridges {
			s.Total += inv.cartridges[id].Total
			s.Remaining += inv.cartridges[id].Remaining
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

func (inv *Inventory) CreatePool(name string) error {
	if !slug.IsSlug(name) {
		return errors.Wrapf(hsm.ErrInvalidPoolName, "'%s'", name)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.pools[name]; ok {
		return errors.Wrapf(hsm.ErrPoolExists, "%s", name)
	}

	if inv.poolStor != nil {
		if err := inv.poolStor.CreatePool(name); err != nil {
			return errors.Wrapf(err, "unable to persist pool %s", name)
		}
	}

	inv.pools[name] = &Pool{Name: name}
	log.Infof("created pool %s", name)
	return nil
}

// DeletePool refuses pools that still hold cartridges or that an unfinished request names.
func (inv *Inventory) DeletePool(name string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	p, ok := inv.pools[name]
	switch {
	case !ok:
		return errors.Wrapf(hsm.ErrUnknownPool, "%s", name)
	case len(p.Cartridges) != 0:
		return errors.Wrapf(hsm.ErrPoolNotEmpty, "%s has %d cartridges", name, len(p.Cartridges))
	}

	if inv.refChecker != nil {
		referenced, err := inv.refChecker.PoolReferenced(name)
		if err != nil {
			return err
		}
		if referenced {
			return errors.Wrapf(hsm.ErrPoolInUse, "%s", name)
		}
	}

	if inv.poolStor != nil {
		if err := inv.poolStor.DeletePool(name); err != nil {
			return errors.Wrapf(err, "unable to delete pool %s", name)
		}
	}

	delete(inv.pools, name)
	log.Infof("deleted pool %s", name)
	return nil
}

func (inv *Inventory) AddCartridgeToPool(poolName, tapeID string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	p, ok := inv.pools[poolName]
	if !ok {
		return errors.Wrapf(hsm.ErrUnknownPool, "%s", poolName)
	}

	c, ok := inv.cartridges[tapeID]
	switch {
	case !ok:
		return errors.Wrapf(hsm.ErrUnknownTape, "%s", tapeID)
	case c.Pool != "":
		return errors.Wrapf(hsm.ErrTapeInPool, "%s is in pool %s", tapeID, c.Pool)
	case c.State == CartridgeInvalid || c.State == CartridgeUnknown:
		return errors.Errorf("cartridge %s is %s", tapeID, c.State)
	}

	if inv.poolStor != nil {
		if err := inv.poolStor.AddCartridge(poolName, tapeID); err != nil {
			return errors.Wrapf(err, "unable to add %s to pool %s", tapeID, poolName)
		}
	}

	c.Pool = poolName
	p.Cartridges = append(p.Cartridges, tapeID)
	return nil
}

// RemoveCartridgeFromPool refuses cartridges that sit in a drive or have an operation running.
func (inv *Inventory) RemoveCartridgeFromPool(poolName, tapeID string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	p, ok := inv.pools[poolName]
	if !ok {
		return errors.Wrapf(hsm.ErrUnknownPool, "%s", poolName)
	}

	c, ok := inv.cartridges[tapeID]
	switch {
	case !ok:
		return errors.Wrapf(hsm.ErrUnknownTape, "%s", tapeID)
	case c.Pool != poolName:
		return errors.Wrapf(hsm.ErrTapeNotInPool, "%s is not in pool %s", tapeID, poolName)
	case c.State.InDrive() || c.InProgress:
		return errors.Wrapf(hsm.ErrTapeBusy, "%s is %s", tapeID, c.State)
	}

	if inv.poolStor != nil {
		if err := inv.poolStor.RemoveCartridge(poolName, tapeID); err != nil {
			return errors.Wrapf(err, "unable to remove %s from pool %s", tapeID, poolName)
		}
	}

	c.Pool = ""
	for i, id := range p.Cartridges {
		if id == tapeID {
			p.Cartridges = append(p.Cartridges[:i], p.Cartridges[i+1:]...)
			break
		}
	}

	return nil
}

// WithLock runs fn with the inventory lock held. fn must not call other Inventory methods.
func (inv *Inventory) WithLock(fn func(tx *Tx) error) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return fn(&Tx{inv: inv})
}
