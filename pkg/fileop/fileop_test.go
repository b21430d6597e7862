package fileop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/materials-commons/tapehsm/pkg/config"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/materials-commons/tapehsm/pkg/scheduler"
	"github.com/materials-commons/tapehsm/pkg/status"
	"github.com/materials-commons/tapehsm/pkg/tape"
	"github.com/materials-commons/tapehsm/pkg/workpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	*Env
	opener  *fsobj.MemOpener
	lib     *tape.DirLibrary
	tracker *status.Tracker
	numbers *RequestNumbers
}

type layout struct {
	drives     []config.DriveDescription
	cartridges []config.CartridgeDescription
	pools      map[string][]string
}

// defaultLayout is one drive D1 holding T1. Pool p1 has T1 (room for two 1000 byte files)
// and T2, pool p2 has T3.
func defaultLayout() layout {
	return layout{
		drives: []config.DriveDescription{{ID: "D1", DevName: "/dev/IBMtape0", Slot: 256}},
		cartridges: []config.CartridgeDescription{
			{ID: "T1", Slot: 4096, Capacity: "2kB", MountedIn: "D1"},
			{ID: "T2", Slot: 4097, Capacity: "10kB"},
			{ID: "T3", Slot: 4098, Capacity: "10kB"},
		},
		pools: map[string][]string{"p1": {"T1", "T2"}, "p2": {"T3"}},
	}
}

// twoDriveLayout has T1 mounted in D1 and T3 in D2, both large enough for big files.
func twoDriveLayout() layout {
	return layout{
		drives: []config.DriveDescription{
			{ID: "D1", DevName: "/dev/IBMtape0", Slot: 256},
			{ID: "D2", DevName: "/dev/IBMtape1", Slot: 257},
		},
		cartridges: []config.CartridgeDescription{
			{ID: "T1", Slot: 4096, Capacity: "10MB", MountedIn: "D1"},
			{ID: "T3", Slot: 4098, Capacity: "10MB", MountedIn: "D2"},
		},
		pools: map[string][]string{"p1": {"T1"}, "p2": {"T3"}},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newLayoutEnv(t, defaultLayout(), nil)
}

// newLayoutEnv builds an env for l. A non nil slow stands between the runner and the tape
// library.
func newLayoutEnv(t *testing.T, l layout, slow *slowLibrary) *testEnv {
	desc := &config.LibraryDescription{Drives: l.drives, Cartridges: l.cartridges}

	stors := stor.NewGormStors(hsmdb.MustOpenTestDB(t))
	inv, err := inventory.New(desc, inventory.WithPoolStor(stors.PoolStor), inventory.WithPoolReferenceChecker(stors.RequestStor))
	require.NoError(t, err)

	for pool, tapes := range l.pools {
		require.NoError(t, inv.CreatePool(pool))
		for _, tapeID := range tapes {
			require.NoError(t, inv.AddCartridgeToPool(pool, tapeID))
		}
	}

	lib := tape.NewDirLibrary(t.TempDir(), 0)
	for _, c := range l.cartridges {
		if c.MountedIn != "" {
			require.NoError(t, lib.MarkMounted(c.MountedIn, c.ID))
		}
	}

	var library tape.Library = lib
	if slow != nil {
		slow.Library = lib
		library = slow
	}

	tracker := status.NewTracker()
	sched := scheduler.New(inv, library, stors, tracker, workpool.New("test", 4), scheduler.WithStatsInterval(0))

	env := &Env{
		Opener:           fsobj.NewMemOpener(),
		Inventory:        inv,
		Scheduler:        sched,
		Stors:            stors,
		Library:          library,
		ProgressInterval: 10 * time.Millisecond,
	}
	NewRunner(env).Register()

	numbers, err := NewRequestNumbers(stors.RequestStor)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	t.Cleanup(func() {
		sched.Stop()
		cancel()
	})

	return &testEnv{
		Env:     env,
		opener:  env.Opener.(*fsobj.MemOpener),
		lib:     lib,
		tracker: tracker,
		numbers: numbers,
	}
}

// slowLibrary sleeps on every chunk moved to or from tape. onChunk, when set, sees the
// object key first.
type slowLibrary struct {
	tape.Library
	delay time.Duration

	mu      sync.Mutex
	onChunk func(key string)
}

func (l *slowLibrary) setOnChunk(fn func(key string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChunk = fn
}

func (l *slowLibrary) chunk(key string) {
	l.mu.Lock()
	fn := l.onChunk
	l.mu.Unlock()

	if fn != nil {
		fn(key)
	}
	time.Sleep(l.delay)
}

func (l *slowLibrary) OpenRead(tapeID, key string) (io.ReadCloser, error) {
	rd, err := l.Library.OpenRead(tapeID, key)
	if err != nil {
		return nil, err
	}
	return &slowReader{ReadCloser: rd, key: key, lib: l}, nil
}

func (l *slowLibrary) Create(tapeID, key string) (tape.Writer, error) {
	w, err := l.Library.Create(tapeID, key)
	if err != nil {
		return nil, err
	}
	return &slowWriter{Writer: w, key: key, lib: l}, nil
}

type slowReader struct {
	io.ReadCloser
	key string
	lib *slowLibrary
}

func (r *slowReader) Read(p []byte) (int, error) {
	r.lib.chunk(r.key)
	return r.ReadCloser.Read(p)
}

type slowWriter struct {
	tape.Writer
	key string
	lib *slowLibrary
}

func (w *slowWriter) Write(p []byte) (int, error) {
	w.lib.chunk(w.key)
	return w.Writer.Write(p)
}

// objectKeyOf is the tape object key of path as it is now.
func (e *testEnv) objectKeyOf(t *testing.T, path string) string {
	var info fsobj.FileInfo
	require.NoError(t, fsobj.With(e.opener, path, func(obj fsobj.FsObj) error {
		var err error
		info, err = obj.Stat()
		return err
	}))
	return tape.ObjectKey(info.FsID, info.IGen, info.INode)
}

func (e *testEnv) requireNoTransitionalJobs(t *testing.T) {
	left, err := e.Stors.JobStor.ListTransitionalJobs()
	require.NoError(t, err)
	require.Empty(t, left)
}

func (e *testEnv) requestState(t *testing.T, reqNum int, tapeID string) hsm.RequestState {
	r, err := e.Stors.RequestStor.GetRequest(reqNum, tapeID)
	require.NoError(t, err)
	return r.State
}

func content(path string) []byte {
	return bytes.Repeat([]byte(path[len(path)-1:]), 1000)
}

func (e *testEnv) createFiles(paths ...string) {
	for _, p := range paths {
		e.opener.Create(p, content(p))
	}
}

func (e *testEnv) run(t *testing.T, op FileOperation, paths ...string) status.Progress {
	_, err := op.AddJobs(context.Background(), paths)
	require.NoError(t, err)
	require.NoError(t, op.AddRequest(context.Background()))
	return e.waitDone(t, op.RequestNumber())
}

func (e *testEnv) waitDone(t *testing.T, reqNum int) status.Progress {
	var p status.Progress
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = e.tracker.Query(reqNum)
		return ok && p.Done
	}, 5*time.Second, 5*time.Millisecond, "request %d never finished", reqNum)
	return p
}

func (e *testEnv) migrate(t *testing.T, pools []string, target hsm.FileState, paths ...string) status.Progress {
	m, err := NewMigration(e.Env, e.numbers.Next(), pools, target)
	require.NoError(t, err)
	return e.run(t, m, paths...)
}

func (e *testEnv) selRecall(t *testing.T, target hsm.FileState, paths ...string) status.Progress {
	r, err := NewSelRecall(e.Env, e.numbers.Next(), target)
	require.NoError(t, err)
	return e.run(t, r, paths...)
}

func TestMigration_SpillsToSecondCartridge(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b", "/fs/c")

	p := env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a", "/fs/b", "/fs/c")
	require.Equal(t, int64(3), p.Migrated)
	require.Equal(t, int64(0), p.Failed)

	for path, tapeID := range map[string]string{"/fs/a": "T1", "/fs/b": "T1", "/fs/c": "T2"} {
		require.Equal(t, hsm.Migrated, env.opener.State(path), path)
		require.Empty(t, env.opener.Content(path), path)
		require.Equal(t, []string{tapeID}, env.opener.Attr(path).TapeIDs, path)
	}

	require.Equal(t, 1, env.lib.MountCount())
	require.True(t, env.lib.IsMounted("T2"))

	rows, err := env.Stors.RequestStor.ListRequests(p.RequestNum)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, hsm.RequestCompleted, r.State)
	}

	c, _ := env.Inventory.LookupCartridge("T2")
	require.Equal(t, inventory.CartridgeMounted, c.State)
	d, _ := env.Inventory.LookupDrive("D1")
	require.False(t, d.Busy)
	require.Equal(t, "T2", d.Cartridge)
}

func TestRecall_RestoresContent(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b", "/fs/c")
	env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a", "/fs/b", "/fs/c")

	p := env.selRecall(t, hsm.Resident, "/fs/a", "/fs/c")
	require.Equal(t, int64(2), p.Resident)
	require.Equal(t, int64(0), p.Failed)

	for _, path := range []string{"/fs/a", "/fs/c"} {
		require.Equal(t, hsm.Resident, env.opener.State(path), path)
		require.Equal(t, content(path), env.opener.Content(path), path)
		require.Empty(t, env.opener.Attr(path).TapeIDs, path)
	}

	require.Equal(t, hsm.Migrated, env.opener.State("/fs/b"))
}

func TestRecall_ToPremigratedKeepsAttribute(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")
	env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a")

	p := env.selRecall(t, hsm.Premigrated, "/fs/a")
	require.Equal(t, int64(1), p.Premigrated)
	require.Equal(t, hsm.Premigrated, env.opener.State("/fs/a"))
	require.Equal(t, content("/fs/a"), env.opener.Content("/fs/a"))
	require.Equal(t, []string{"T1"}, env.opener.Attr("/fs/a").TapeIDs)

	// Premigrated to resident needs no tape.
	mounts := env.lib.MountCount()
	p = env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, hsm.Resident, env.opener.State("/fs/a"))
	require.Equal(t, mounts, env.lib.MountCount())
}

func TestRecall_ResidentFileIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")

	p := env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, int64(1), p.Total())

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, hsm.NoTapeID, jobs[0].TapeID)
	require.Equal(t, hsm.Resident, jobs[0].State)
}

func TestMigration_PremigratedTarget(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")

	p := env.migrate(t, []string{"p1"}, hsm.Premigrated, "/fs/a")
	require.Equal(t, int64(1), p.Premigrated)
	require.Equal(t, hsm.Premigrated, env.opener.State("/fs/a"))
	require.Equal(t, content("/fs/a"), env.opener.Content("/fs/a"))

	// A later migration only has to stub it.
	p = env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a")
	require.Equal(t, int64(1), p.Migrated)
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, hsm.NoTapeID, jobs[0].TapeID)
}

func TestMigration_ReplicasStubAfterLastCopy(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")

	p := env.migrate(t, []string{"p1", "p2"}, hsm.Migrated, "/fs/a")
	require.Equal(t, int64(2), p.Migrated)
	require.Equal(t, int64(2), p.Total())

	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, []string{"T1", "T3"}, env.opener.Attr("/fs/a").TapeIDs)

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, hsm.Migrated, j.State)
	}

	// Either replica can serve a recall, the first one is used.
	p = env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, content("/fs/a"), env.opener.Content("/fs/a"))
}

func TestMigration_PerFileFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b", "/fs/c")
	env.opener.FailRead("/fs/b", errors.New("media error"))
	env.opener.FailOpen("/fs/c", errors.New("permission denied"))

	p := env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a", "/fs/b", "/fs/c", "/fs/missing")
	require.Equal(t, int64(1), p.Migrated)
	require.Equal(t, int64(3), p.Failed)

	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, hsm.Resident, env.opener.State("/fs/b"))
	require.Equal(t, content("/fs/b"), env.opener.Content("/fs/b"))

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	failed := make(map[string]hsmmodel.Job)
	for _, j := range jobs {
		if j.State == hsm.Failed {
			failed[j.FilePath] = j
		}
	}
	require.Len(t, failed, 3)
	require.Contains(t, failed["/fs/b"].LastError, "media error")
	require.Equal(t, hsm.FailedTapeID, failed["/fs/c"].TapeID)
	require.Equal(t, hsm.FailedTapeID, failed["/fs/missing"].TapeID)

	r, err := env.Stors.RequestStor.GetRequest(p.RequestNum, hsm.FailedTapeID)
	require.NoError(t, err)
	require.Equal(t, hsm.RequestCompleted, r.State)
}

func TestMigration_NoSpaceFailsFile(t *testing.T) {
	env := newTestEnv(t)
	env.opener.Create("/fs/big", make([]byte, 20_000))

	p := env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/big")
	require.Equal(t, int64(1), p.Failed)
	require.Equal(t, hsm.Resident, env.opener.State("/fs/big"))
}

func TestMigration_LockedFileWaitsForUnlock(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b")

	release := env.opener.HoldLock("/fs/b")

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1"}, hsm.Migrated)
	require.NoError(t, err)
	_, err = m.AddJobs(context.Background(), []string{"/fs/a", "/fs/b"})
	require.NoError(t, err)
	require.NoError(t, m.AddRequest(context.Background()))

	// The unit gave up on /fs/b without failing it.
	require.GreaterOrEqual(t, env.Scheduler.Stats().Suspensions(), int64(1))
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, hsm.Resident, env.opener.State("/fs/b"))
	p, ok := env.tracker.Query(m.RequestNumber())
	require.True(t, ok)
	require.False(t, p.Done)
	require.Equal(t, int64(0), p.Failed)

	release()

	p = env.waitDone(t, m.RequestNumber())
	require.Equal(t, int64(2), p.Migrated)
	require.Equal(t, int64(0), p.Failed)
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/b"))
	env.requireNoTransitionalJobs(t)
}

func TestMigration_ReplicasOnTwoDrivesRunTogether(t *testing.T) {
	env := newLayoutEnv(t, twoDriveLayout(), &slowLibrary{delay: 100 * time.Millisecond})
	data := bytes.Repeat([]byte("r"), 4*hsm.ReadBufferSize)
	env.opener.Create("/fs/a", data)

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1", "p2"}, hsm.Migrated)
	require.NoError(t, err)
	p := env.run(t, m, "/fs/a")

	require.Equal(t, int64(2), p.Migrated)
	require.Equal(t, int64(0), p.Failed)
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Empty(t, env.opener.Content("/fs/a"))
	require.ElementsMatch(t, []string{"T1", "T3"}, env.opener.Attr("/fs/a").TapeIDs)

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, hsm.Migrated, j.State, j.TapeID)
	}

	for _, d := range env.Inventory.ListDrives() {
		require.False(t, d.Busy, d.ID)
	}

	// Either copy restores the file.
	p = env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, data, env.opener.Content("/fs/a"))
}

func TestMigration_ReplacedFileFails(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1"}, hsm.Migrated)
	require.NoError(t, err)
	require.NoError(t, m.AddJob(context.Background(), "/fs/a"))

	// Same path, new inode.
	env.createFiles("/fs/a")
	require.NoError(t, m.AddRequest(context.Background()))

	p := env.waitDone(t, m.RequestNumber())
	require.Equal(t, int64(1), p.Failed)
	require.Equal(t, hsm.Resident, env.opener.State("/fs/a"))
}

func TestAddJobs_Duplicates(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b")

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1"}, hsm.Migrated)
	require.NoError(t, err)

	result, err := m.AddJobs(context.Background(), []string{"/fs/a", "/fs/b", "/fs/a"})
	require.NoError(t, err)
	require.Equal(t, 2, result.Added)
	require.Equal(t, []string{"/fs/a"}, result.Duplicates)

	err = m.AddJob(context.Background(), "/fs/b")
	require.ErrorIs(t, err, hsm.ErrDuplicateJob)

	jobs, err := env.Stors.JobStor.ListJobs(m.RequestNumber())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestNewMigration_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		pools  []string
		target hsm.FileState
		err    error
	}{
		{name: "no pools", pools: nil, target: hsm.Migrated, err: hsm.ErrNoPools},
		{name: "too many pools", pools: []string{"p1", "p2", "p3", "p4"}, target: hsm.Migrated, err: hsm.ErrTooManyPools},
		{name: "unknown pool", pools: []string{"p1", "nope"}, target: hsm.Migrated, err: hsm.ErrUnknownPool},
		{name: "resident target", pools: []string{"p1"}, target: hsm.Resident},
		{name: "pool twice", pools: []string{"p1", "p1"}, target: hsm.Migrated},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewMigration(env.Env, 1, test.pools, test.target)
			require.Error(t, err)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				require.True(t, hsm.IsValidation(err))
			}
		})
	}

	_, err := NewSelRecall(env.Env, 1, hsm.Migrated)
	require.Error(t, err)
}

func TestRequestNumbers_ContinueAfterStore(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")

	first := env.numbers.Next()
	m, err := NewMigration(env.Env, first, []string{"p1"}, hsm.Premigrated)
	require.NoError(t, err)
	require.NoError(t, m.AddJob(context.Background(), "/fs/a"))

	numbers, err := NewRequestNumbers(env.Stors.RequestStor)
	require.NoError(t, err)
	require.Equal(t, first+1, numbers.Next())
	require.Equal(t, first+2, numbers.Next())
}

func TestReconcile_TransitionalRows(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/resident", "/fs/premig", "/fs/mig", "/fs/replaced")

	prepare := func(path string, stub bool) {
		err := fsobj.With(env.opener, path, func(obj fsobj.FsObj) error {
			require.NoError(t, obj.PreparePremigration())
			require.NoError(t, obj.AddAttribute(fsobj.MigAttr{}.WithReplica("T1", 0)))
			require.NoError(t, obj.FinishPremigration())
			if stub {
				require.NoError(t, obj.PrepareStubbing())
				require.NoError(t, obj.Stub())
			}
			return nil
		})
		require.NoError(t, err)
	}
	prepare("/fs/premig", false)
	prepare("/fs/mig", true)

	rows := []struct {
		path  string
		state hsm.FileState
		want  hsm.FileState
	}{
		{path: "/fs/resident", state: hsm.Premigrating, want: hsm.Resident},
		{path: "/fs/premig", state: hsm.Premigrating, want: hsm.Premigrated},
		{path: "/fs/mig", state: hsm.RecallingMig, want: hsm.Migrated},
		{path: "/fs/replaced", state: hsm.Stubbing, want: hsm.Failed},
	}

	for _, r := range rows {
		var info fsobj.FileInfo
		require.NoError(t, fsobj.With(env.opener, r.path, func(obj fsobj.FsObj) error {
			var err error
			info, err = obj.Stat()
			return err
		}))

		j := &hsmmodel.Job{
			RequestNum: 99,
			FilePath:   r.path,
			State:      r.state,
			TapeID:     "T1",
			FsID:       info.FsID,
			IGen:       info.IGen,
			INode:      info.INode,
		}
		require.NoError(t, env.Stors.JobStor.InsertJob(j))
	}

	env.createFiles("/fs/replaced")

	n, err := Reconcile(env.Env)
	require.NoError(t, err)
	require.Equal(t, len(rows), n)

	jobs, err := env.Stors.JobStor.ListJobs(99)
	require.NoError(t, err)
	for _, j := range jobs {
		for _, r := range rows {
			if r.path == j.FilePath {
				require.Equal(t, r.want, j.State, fmt.Sprintf("%s from %s", r.path, r.state))
			}
		}
	}

	left, err := env.Stors.JobStor.ListTransitionalJobs()
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestSelRecall_GivesDriveToTransparentRecall(t *testing.T) {
	l := defaultLayout()
	l.cartridges[0].Capacity = "10MB"
	slow := &slowLibrary{delay: 100 * time.Millisecond}
	env := newLayoutEnv(t, l, slow)

	paths := []string{"/fs/a", "/fs/b", "/fs/c", "/fs/d"}
	env.createFiles(paths...)
	env.migrate(t, []string{"p1"}, hsm.Migrated, paths...)

	selNum := env.numbers.Next()
	traNum := env.numbers.Next()
	dKey := env.objectKeyOf(t, "/fs/d")

	var (
		once       sync.Once
		selWaiting atomic.Bool
	)
	recalling := make(chan struct{})
	slow.setOnChunk(func(key string) {
		once.Do(func() { close(recalling) })
		if key == dKey && !selWaiting.Load() {
			r, err := env.Stors.RequestStor.GetRequest(selNum, "T1")
			selWaiting.Store(err == nil && r.State == hsm.RequestNew)
		}
	})

	sel, err := NewSelRecall(env.Env, selNum, hsm.Resident)
	require.NoError(t, err)
	_, err = sel.AddJobs(context.Background(), paths)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sel.AddRequest(context.Background()) }()
	<-recalling

	tra, err := NewTraRecall(env.Env, traNum, hsm.Resident)
	require.NoError(t, err)
	require.NoError(t, tra.AddJob(context.Background(), "/fs/d"))
	require.NoError(t, tra.AddRequest(context.Background()))

	require.NoError(t, <-done)
	traProgress := env.waitDone(t, traNum)
	require.Equal(t, int64(1), traProgress.Resident)

	p := env.waitDone(t, selNum)
	require.Equal(t, int64(4), p.Resident)
	require.Equal(t, int64(0), p.Failed)

	require.True(t, selWaiting.Load(), "selective recall was not back in the queue while /fs/d was read")
	require.Equal(t, int64(1), env.Scheduler.Stats().Preemptions())
	require.GreaterOrEqual(t, env.Scheduler.Stats().Suspensions(), int64(1))

	for _, path := range paths {
		require.Equal(t, hsm.Resident, env.opener.State(path), path)
		require.Equal(t, content(path), env.opener.Content(path), path)
	}

	require.Equal(t, hsm.RequestCompleted, env.requestState(t, selNum, "T1"))
	env.requireNoTransitionalJobs(t)

	d, _ := env.Inventory.LookupDrive("D1")
	require.Equal(t, hsm.OpNone, d.ToUnblock)
}

func TestMigration_TerminationLeavesRemainingFilesResident(t *testing.T) {
	slow := &slowLibrary{delay: 10 * time.Millisecond}
	env := newLayoutEnv(t, defaultLayout(), slow)
	env.createFiles("/fs/a", "/fs/b")

	var once sync.Once
	slow.setOnChunk(func(string) {
		once.Do(env.Scheduler.Termination().Terminate)
	})

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1"}, hsm.Migrated)
	require.NoError(t, err)
	_, err = m.AddJobs(context.Background(), []string{"/fs/a", "/fs/b"})
	require.NoError(t, err)
	require.NoError(t, m.AddRequest(context.Background()))

	// The file in flight finishes, the next one is not started.
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, hsm.Resident, env.opener.State("/fs/b"))
	require.Equal(t, content("/fs/b"), env.opener.Content("/fs/b"))

	require.Equal(t, hsm.RequestNew, env.requestState(t, m.RequestNumber(), "T1"))
	env.requireNoTransitionalJobs(t)

	jobs, err := env.Stors.JobStor.ListJobs(m.RequestNumber())
	require.NoError(t, err)
	for _, j := range jobs {
		if j.FilePath == "/fs/b" {
			require.Equal(t, hsm.Resident, j.State)
		}
	}

	p, _ := env.tracker.Query(m.RequestNumber())
	require.False(t, p.Done)

	// Nothing new starts once terminating.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, hsm.RequestNew, env.requestState(t, m.RequestNumber(), "T1"))
	d, _ := env.Inventory.LookupDrive("D1")
	require.False(t, d.Busy)
}

func TestMigration_ForcedTerminationAbortsCopy(t *testing.T) {
	l := defaultLayout()
	l.cartridges[0].Capacity = "10MB"
	slow := &slowLibrary{}
	env := newLayoutEnv(t, l, slow)

	data := bytes.Repeat([]byte("f"), 3*hsm.ReadBufferSize)
	env.opener.Create("/fs/big", data)

	var once sync.Once
	slow.setOnChunk(func(string) {
		once.Do(env.Scheduler.Termination().ForceTerminate)
	})

	m, err := NewMigration(env.Env, env.numbers.Next(), []string{"p1"}, hsm.Migrated)
	require.NoError(t, err)
	_, err = m.AddJobs(context.Background(), []string{"/fs/big"})
	require.NoError(t, err)
	require.NoError(t, m.AddRequest(context.Background()))

	require.Equal(t, hsm.Resident, env.opener.State("/fs/big"))
	require.Equal(t, data, env.opener.Content("/fs/big"))
	require.Empty(t, env.opener.Attr("/fs/big").TapeIDs)

	_, err = env.lib.OpenRead("T1", env.objectKeyOf(t, "/fs/big"))
	require.ErrorIs(t, err, tape.ErrObjectNotFound)

	require.Equal(t, hsm.RequestNew, env.requestState(t, m.RequestNumber(), "T1"))
	env.requireNoTransitionalJobs(t)
}

func TestRecall_ForcedTerminationAbortsCopy(t *testing.T) {
	l := defaultLayout()
	l.cartridges[0].Capacity = "10MB"
	slow := &slowLibrary{}
	env := newLayoutEnv(t, l, slow)

	env.opener.Create("/fs/big", bytes.Repeat([]byte("f"), 3*hsm.ReadBufferSize))
	env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/big")

	var once sync.Once
	slow.setOnChunk(func(string) {
		once.Do(env.Scheduler.Termination().ForceTerminate)
	})

	r, err := NewSelRecall(env.Env, env.numbers.Next(), hsm.Resident)
	require.NoError(t, err)
	_, err = r.AddJobs(context.Background(), []string{"/fs/big"})
	require.NoError(t, err)
	require.NoError(t, r.AddRequest(context.Background()))

	require.Equal(t, hsm.Migrated, env.opener.State("/fs/big"))
	require.Equal(t, []string{"T1"}, env.opener.Attr("/fs/big").TapeIDs)
	require.Equal(t, hsm.RequestNew, env.requestState(t, r.RequestNumber(), "T1"))
	env.requireNoTransitionalJobs(t)

	jobs, err := env.Stors.JobStor.ListJobs(r.RequestNumber())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, hsm.Migrated, jobs[0].State)
}

func TestRecall_WriteFailureKeepsFileMigrated(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a", "/fs/b")
	env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a", "/fs/b")

	env.opener.FailWrite("/fs/a", errors.New("no space left on device"))

	p := env.selRecall(t, hsm.Resident, "/fs/a", "/fs/b")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, int64(1), p.Failed)

	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, []string{"T1"}, env.opener.Attr("/fs/a").TapeIDs)
	require.Equal(t, hsm.Resident, env.opener.State("/fs/b"))
	require.Equal(t, content("/fs/b"), env.opener.Content("/fs/b"))

	jobs, err := env.Stors.JobStor.ListJobs(p.RequestNum)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.FilePath == "/fs/a" {
			require.Equal(t, hsm.Failed, j.State)
			require.Contains(t, j.LastError, "no space left on device")
		}
	}

	// The tape copy is still usable.
	env.opener.FailWrite("/fs/a", nil)
	p = env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, content("/fs/a"), env.opener.Content("/fs/a"))
}

func TestRecall_FinishFailureKeepsReplicaAttribute(t *testing.T) {
	env := newTestEnv(t)
	env.createFiles("/fs/a")
	env.migrate(t, []string{"p1"}, hsm.Migrated, "/fs/a")

	env.opener.FailFinishRecall("/fs/a", errors.New("utimes: read-only file system"))

	p := env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Failed)
	require.Equal(t, hsm.Migrated, env.opener.State("/fs/a"))
	require.Equal(t, []string{"T1"}, env.opener.Attr("/fs/a").TapeIDs)

	env.opener.FailFinishRecall("/fs/a", nil)
	p = env.selRecall(t, hsm.Resident, "/fs/a")
	require.Equal(t, int64(1), p.Resident)
	require.Equal(t, hsm.Resident, env.opener.State("/fs/a"))
	require.Empty(t, env.opener.Attr("/fs/a").TapeIDs)
}
