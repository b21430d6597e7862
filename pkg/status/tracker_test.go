package status

import (
	"sync"
	"testing"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/stretchr/testify/require"
)

func TestTracker_SeedAndUpdate(t *testing.T) {
	tracker := NewTracker()

	tracker.UpdateSuccess(1, hsm.Resident, hsm.Migrated)
	_, ok := tracker.Query(1)
	require.False(t, ok, "updates before Add are dropped")

	tracker.Add(1, map[hsm.FileState]int64{hsm.Resident: 3, hsm.Failed: 1, hsm.Premigrating: 1})
	p, ok := tracker.Query(1)
	require.True(t, ok)
	require.Equal(t, int64(4), p.Resident)
	require.Equal(t, int64(1), p.Failed)

	tracker.UpdateSuccess(1, hsm.Resident, hsm.Migrated)
	tracker.UpdateSuccess(1, hsm.Premigrating, hsm.Premigrated)
	tracker.UpdateFailed(1, hsm.Resident)

	p, _ = tracker.Query(1)
	require.Equal(t, Progress{RequestNum: 1, Resident: 1, Premigrated: 1, Migrated: 1, Failed: 2}, p)
	require.Equal(t, int64(5), p.Total())
}

func TestTracker_StableAfterDone(t *testing.T) {
	tracker := NewTracker()
	tracker.Add(2, map[hsm.FileState]int64{hsm.Migrated: 2})
	tracker.UpdateSuccess(2, hsm.Migrated, hsm.Resident)
	tracker.SetDone(2)

	first, _ := tracker.Query(2)
	tracker.UpdateSuccess(2, hsm.Migrated, hsm.Resident)
	second, _ := tracker.Query(2)

	require.True(t, first.Done)
	require.Equal(t, first, second)
	require.Equal(t, int64(2), second.Total())
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tracker := NewTracker()
	tracker.Add(3, map[hsm.FileState]int64{hsm.Resident: 1000})
	tracker.Add(4, map[hsm.FileState]int64{hsm.Migrated: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.UpdateSuccess(3, hsm.Resident, hsm.Migrated)
				_, _ = tracker.Query(4)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.UpdateSuccess(4, hsm.Migrated, hsm.Premigrated)
			}
		}()
	}
	wg.Wait()

	p3, _ := tracker.Query(3)
	p4, _ := tracker.Query(4)
	require.Equal(t, int64(1000), p3.Migrated)
	require.Equal(t, int64(1000), p4.Premigrated)
}

func TestTracker_Subscribe(t *testing.T) {
	tracker := NewTracker()
	_, _, ok := tracker.Subscribe(5)
	require.False(t, ok)

	tracker.Add(5, map[hsm.FileState]int64{hsm.Resident: 2})
	ch, cancel, ok := tracker.Subscribe(5)
	require.True(t, ok)
	defer cancel()

	require.Equal(t, int64(2), (<-ch).Resident)

	tracker.UpdateSuccess(5, hsm.Resident, hsm.Migrated)
	tracker.Notify(5)
	tracker.UpdateSuccess(5, hsm.Resident, hsm.Migrated)
	tracker.SetDone(5)

	// Only the latest snapshot is kept.
	p := <-ch
	require.True(t, p.Done)
	require.Equal(t, int64(2), p.Migrated)
}
