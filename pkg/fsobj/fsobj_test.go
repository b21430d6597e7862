package fsobj

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/tutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMigAttr_WithReplica(t *testing.T) {
	tests := []struct {
		name          string
		start         MigAttr
		tape          string
		expectedTapes []string
	}{
		{name: "First replica", start: MigAttr{}, tape: "T1", expectedTapes: []string{"T1"}},
		{name: "Second replica", start: MigAttr{Copies: 1, TapeIDs: []string{"T1"}, StartBlocks: []int64{0}}, tape: "T2", expectedTapes: []string{"T1", "T2"}},
		{name: "Same tape twice is ignored", start: MigAttr{Copies: 1, TapeIDs: []string{"T1"}, StartBlocks: []int64{0}}, tape: "T1", expectedTapes: []string{"T1"}},
		{
			name:          "Capped at max replica",
			start:         MigAttr{Copies: 3, TapeIDs: []string{"T1", "T2", "T3"}, StartBlocks: []int64{0, 0, 0}},
			tape:          "T4",
			expectedTapes: []string{"T1", "T2", "T3"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			attr := test.start.WithReplica(test.tape, 7)
			require.Equal(t, test.expectedTapes, attr.TapeIDs)
			require.Equal(t, len(test.expectedTapes), attr.Copies)
		})
	}
}

func TestMemOpener_MigrateAndRecallTransitions(t *testing.T) {
	opener := NewMemOpener()
	opener.Create("/fs/a", []byte("hello world"))

	err := With(opener, "/fs/a", func(obj FsObj) error {
		state, err := obj.MigState()
		require.NoError(t, err)
		require.Equal(t, hsm.Resident, state)

		require.NoError(t, obj.PreparePremigration())
		state, _ = obj.MigState()
		require.Equal(t, hsm.Resident, state, "interrupted premigration must still look resident")

		require.NoError(t, obj.FinishPremigration())
		require.NoError(t, obj.PrepareStubbing())
		state, _ = obj.MigState()
		require.Equal(t, hsm.Premigrated, state)

		require.NoError(t, obj.Stub())
		state, _ = obj.MigState()
		require.Equal(t, hsm.Migrated, state)

		info, err := obj.Stat()
		require.NoError(t, err)
		require.Equal(t, int64(11), info.Size, "stub reports the premigration size")
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, opener.Content("/fs/a"))

	err = With(opener, "/fs/a", func(obj FsObj) error {
		require.NoError(t, obj.PrepareRecall())
		_, err := obj.WriteAt([]byte("hello world"), 0)
		require.NoError(t, err)
		return obj.FinishRecall(hsm.Resident)
	})
	require.NoError(t, err)
	require.Equal(t, hsm.Resident, opener.State("/fs/a"))
	require.Equal(t, "hello world", string(opener.Content("/fs/a")))
}

func TestMemOpener_TryLockIsExclusive(t *testing.T) {
	opener := NewMemOpener()
	opener.Create("/fs/a", nil)

	release := opener.HoldLock("/fs/a")
	err := With(opener, "/fs/a", func(obj FsObj) error {
		locked, err := obj.TryLock()
		require.NoError(t, err)
		require.False(t, locked)

		release()
		locked, err = obj.TryLock()
		require.NoError(t, err)
		require.True(t, locked)
		return nil
	})
	require.NoError(t, err)

	// Close released the lock taken by TryLock.
	release = opener.HoldLock("/fs/a")
	release()
}

func TestMemOpener_FailureInjection(t *testing.T) {
	opener := NewMemOpener()
	opener.Create("/fs/a", []byte("data"))
	injected := errors.New("injected")

	opener.FailRead("/fs/a", injected)
	err := With(opener, "/fs/a", func(obj FsObj) error {
		_, err := obj.ReadAt(make([]byte, 4), 0)
		return err
	})
	require.ErrorIs(t, err, injected)

	opener.FailOpen("/fs/a", injected)
	_, err = opener.Open("/fs/a")
	require.ErrorIs(t, err, injected)

	_, err = opener.Open("/fs/missing")
	require.True(t, os.IsNotExist(err))
}

func TestPosixOpener_Transitions(t *testing.T) {
	if !tutil.IsIntegrationTest() {
		t.Skip("needs a file system with user xattrs")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	require.NoError(t, os.WriteFile(path, []byte("some content"), 0644))

	opener := NewPosixOpener(dir)
	err := With(opener, path, func(obj FsObj) error {
		require.True(t, obj.IsManaged())
		require.NoError(t, obj.Lock())

		require.NoError(t, obj.PreparePremigration())
		require.NoError(t, obj.FinishPremigration())
		require.NoError(t, obj.AddAttribute(MigAttr{}.WithReplica("T1", 0)))
		require.NoError(t, obj.PrepareStubbing())
		require.NoError(t, obj.Stub())

		state, err := obj.MigState()
		require.NoError(t, err)
		require.Equal(t, hsm.Migrated, state)

		info, err := obj.Stat()
		require.NoError(t, err)
		require.Equal(t, int64(12), info.Size)

		attr, err := obj.Attribute()
		require.NoError(t, err)
		require.Equal(t, "T1", attr.FirstTape())
		return nil
	})
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(0), fi.Size())

	_, err = opener.Open(dir)
	require.ErrorIs(t, err, hsm.ErrNotRegular)
}
