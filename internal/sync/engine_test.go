package sync

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/utils"
)

const testRootURI = "drive://my/sync"

type engineFixture struct {
	engine    *Engine
	remote    *fakeRemote
	store     *Store
	clock     *clockwork.FakeClock
	localRoot string
	task      *Task
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	localRoot := t.TempDir()
	store := NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })

	task := &Task{
		TaskID:        "t1",
		BaseURL:       "https://drive.example.com",
		LocalRoot:     localRoot,
		RemoteRootURI: testRootURI,
		DeviceID:      "dev1",
		Mode:          TaskModeTwoWay,
		IntervalSecs:  30,
		CreatedAtMS:   time.Now().UnixMilli(),
	}
	require.NoError(t, store.CreateTask(task))

	remote := newFakeRemote()
	clock := clockwork.NewFakeClock()
	engine, err := NewEngine(EngineConfig{
		Task:     task,
		Store:    store,
		Remote:   remote,
		DeviceID: "dev1",
		Clock:    clock,
	})
	require.NoError(t, err)

	return &engineFixture{
		engine:    engine,
		remote:    remote,
		store:     store,
		clock:     clock,
		localRoot: localRoot,
		task:      task,
	}
}

func (f *engineFixture) writeLocal(t *testing.T, relPath, content string) {
	t.Helper()
	absPath := filepath.Join(f.localRoot, filepath.FromSlash(relPath))
	require.NoError(t, utils.EnsureParent(absPath))
	require.NoError(t, os.WriteFile(absPath, []byte(content), 0o644))
}

func (f *engineFixture) readLocal(t *testing.T, relPath string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.localRoot, filepath.FromSlash(relPath)))
	require.NoError(t, err)
	return string(content)
}

func (f *engineFixture) run(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.RunCycle(context.Background()))
}

func TestEngine_UploadRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "docs/report.txt", "quarterly numbers")

	f.run(t)

	file := f.remote.get(testRootURI + "/docs/report.txt")
	require.NotNil(t, file)
	assert.Equal(t, "quarterly numbers", string(file.content))
	assert.Equal(t, utils.HashBytes([]byte("quarterly numbers")), file.metadata[MetaSHA256])
	assert.Equal(t, "dev1", file.metadata[MetaDeviceID])

	entry, err := f.store.GetEntry("t1", "docs/report.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, EntryStateOK, entry.State)
	assert.Equal(t, entry.LastLocalHash, entry.LastRemoteHash)
}

func TestEngine_SecondCycleIsNoop(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "a.txt", "alpha")
	f.writeLocal(t, "dir/b.txt", "beta")

	f.run(t)
	uploadsAfterFirst := f.remote.uploadCalls

	f.run(t)
	assert.Equal(t, uploadsAfterFirst, f.remote.uploadCalls, "no intervening change must mean no transfers")
	assert.Equal(t, Progress{}, f.engine.Status().Snapshot().Progress)
}

func TestEngine_DownloadRemoteNew(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.put(testRootURI+"/notes/todo.md", []byte("remember the milk"), "dev2", time.Now().Add(-time.Hour))

	f.run(t)

	assert.Equal(t, "remember the milk", f.readLocal(t, "notes/todo.md"))
	entry, err := f.store.GetEntry("t1", "notes/todo.md")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, EntryStateOK, entry.State)
}

func TestEngine_ConflictKeepsBothCopies(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "report.docx", "baseline A")
	f.run(t)

	// both sides diverge from the baseline
	f.writeLocal(t, "report.docx", "local edit B")
	f.remote.put(testRootURI+"/report.docx", []byte("remote edit C"), "dev2", time.Now())

	f.run(t)

	// remote original untouched, canonical content restored locally
	original := f.remote.get(testRootURI + "/report.docx")
	require.NotNil(t, original)
	assert.Equal(t, "remote edit C", string(original.content))
	assert.Equal(t, "remote edit C", f.readLocal(t, "report.docx"))

	conflicts, err := f.store.ListConflicts("t1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "report.docx", conflicts[0].OriginalRelPath)
	assert.Regexp(t, regexp.MustCompile(`^report \(conflict-dev1-\d{8}-\d{6}\)\.docx$`), conflicts[0].ConflictRelPath)

	// the local edit survives under the conflict-copy name, on both sides
	assert.Equal(t, "local edit B", f.readLocal(t, conflicts[0].ConflictRelPath))
	copyFile := f.remote.get(testRootURI + "/" + conflicts[0].ConflictRelPath)
	require.NotNil(t, copyFile)
	assert.Equal(t, "local edit B", string(copyFile.content))
	assert.Equal(t, "report.docx", copyFile.metadata[MetaConflictOf])

	// the original entry carries the conflict overlay until resolved
	entry, err := f.store.GetEntry("t1", "report.docx")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, EntryStateConflicted, entry.State)

	assert.True(t, f.engine.Status().Snapshot().HasConflicts)
}

func TestEngine_InterruptedConflictNeverDropsEither(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "report.docx", "baseline A")
	f.run(t)

	f.writeLocal(t, "report.docx", "local edit B")
	f.remote.put(testRootURI+"/report.docx", []byte("remote edit C"), "dev2", time.Now())

	// the canonical download dies mid-resolution
	f.remote.failDownloads = 1
	f.run(t)

	// the original path stays populated; the failure must not read as a
	// local deletion on later cycles
	assert.Equal(t, "local edit B", f.readLocal(t, "report.docx"))
	original := f.remote.get(testRootURI + "/report.docx")
	require.NotNil(t, original)
	assert.Equal(t, "remote edit C", string(original.content))
	assert.Empty(t, original.metadata[MetaDeletedAt])

	// recovered cycles past the absence debounce still must not soft-delete
	f.clock.Advance(DefaultAbsenceDebounce + time.Second)
	f.run(t)
	f.clock.Advance(DefaultAbsenceDebounce + time.Second)
	f.run(t)

	original = f.remote.get(testRootURI + "/report.docx")
	require.NotNil(t, original)
	assert.Empty(t, original.metadata[MetaDeletedAt])
	assert.Equal(t, "remote edit C", string(original.content))
	assert.Equal(t, "remote edit C", f.readLocal(t, "report.docx"))

	// the local edit survived under a conflict-copy name
	conflicts, err := f.store.ListConflicts("t1")
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, "local edit B", f.readLocal(t, conflicts[len(conflicts)-1].ConflictRelPath))
}

func TestEngine_ConvergedEditsAreNoConflict(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "shared.txt", "v1")
	f.run(t)

	f.writeLocal(t, "shared.txt", "v2")
	f.remote.put(testRootURI+"/shared.txt", []byte("v2"), "dev2", time.Now())

	f.run(t)

	conflicts, err := f.store.ListConflicts("t1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	entry, err := f.store.GetEntry("t1", "shared.txt")
	require.NoError(t, err)
	assert.Equal(t, utils.HashBytes([]byte("v2")), entry.LastLocalHash)
}

func TestEngine_SingleAbsenceNeverDeletes(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "keep.txt", "precious")
	f.run(t)

	require.NoError(t, os.Remove(filepath.Join(f.localRoot, "keep.txt")))

	// first absence observation: no marker anywhere, so no deletion
	f.run(t)
	file := f.remote.get(testRootURI + "/keep.txt")
	require.NotNil(t, file)
	assert.Empty(t, file.metadata[MetaDeletedAt])
	tombstones, err := f.store.TombstonesByPath("t1")
	require.NoError(t, err)
	assert.Empty(t, tombstones)

	// a second consistent absence after the debounce interval confirms it
	f.clock.Advance(DefaultAbsenceDebounce + time.Second)
	f.run(t)

	file = f.remote.get(testRootURI + "/keep.txt")
	require.NotNil(t, file, "soft delete must not erase the remote object")
	assert.NotEmpty(t, file.metadata[MetaDeletedAt])

	tombstones, err = f.store.TombstonesByPath("t1")
	require.NoError(t, err)
	require.Contains(t, tombstones, "keep.txt")
	assert.Equal(t, OriginLocal, tombstones["keep.txt"].Origin)
}

func TestEngine_RemoteDeletionMarker(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "old.txt", "obsolete")
	f.run(t)

	// another device soft-deleted the file
	file := f.remote.get(testRootURI + "/old.txt")
	require.NotNil(t, file)
	file.metadata[MetaDeletedAt] = "1700000000000"

	f.run(t)

	assert.NoFileExists(t, filepath.Join(f.localRoot, "old.txt"))
	tombstones, err := f.store.TombstonesByPath("t1")
	require.NoError(t, err)
	require.Contains(t, tombstones, "old.txt")
	assert.Equal(t, OriginRemote, tombstones["old.txt"].Origin)

	// re-running is a no-op and retires the entry
	f.run(t)
	entry, err := f.store.GetEntry("t1", "old.txt")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoFileExists(t, filepath.Join(f.localRoot, "old.txt"))
}

func TestEngine_LargeUploadFallsBackToSession(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.singleRequestCap = 8

	content := "this body exceeds the single-request cap"
	f.writeLocal(t, "big.bin", content)

	f.run(t)

	file := f.remote.get(testRootURI + "/big.bin")
	require.NotNil(t, file)
	assert.Equal(t, content, string(file.content))
	assert.Empty(t, f.remote.sessions, "completed session must be closed")
}

func TestEngine_CreateDirRejectionFailsUpload(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "deep/nested/a.txt", "alpha")

	f.remote.createDirErr = &drivesdk.APIError{Code: drivesdk.CodeQuotaExceeded, Msg: "quota exceeded", Op: "create dir"}
	f.run(t)

	assert.Nil(t, f.remote.get(testRootURI+"/deep/nested/a.txt"), "a rejected parent dir must fail the upload")
	assert.Equal(t, 1, f.engine.Status().Snapshot().Progress.Failed)

	// an already-existing directory is not an error
	f.remote.createDirErr = &drivesdk.APIError{Code: drivesdk.CodeObjectExisted, Msg: "object existed", Op: "create dir"}
	f.run(t)

	file := f.remote.get(testRootURI + "/deep/nested/a.txt")
	require.NotNil(t, file)
	assert.Equal(t, "alpha", string(file.content))
}

func TestEngine_ListingFailureLeavesLocalAlone(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "a.txt", "alpha")
	f.run(t)

	f.remote.failListings = 1
	err := f.engine.RunCycle(context.Background())
	require.Error(t, err)

	assert.FileExists(t, filepath.Join(f.localRoot, "a.txt"))
	assert.Equal(t, StateError, f.engine.Status().Snapshot().State)

	// next cycle recovers
	f.run(t)
	assert.Equal(t, StateIdle, f.engine.Status().Snapshot().State)
}

func TestEngine_ResurrectionClearsDeletionMarker(t *testing.T) {
	f := newEngineFixture(t)
	f.writeLocal(t, "back.txt", "v1")
	f.run(t)

	// confirmed local deletion, soft delete propagated
	require.NoError(t, os.Remove(filepath.Join(f.localRoot, "back.txt")))
	f.run(t)
	f.clock.Advance(DefaultAbsenceDebounce + time.Second)
	f.run(t)
	require.NotEmpty(t, f.remote.get(testRootURI+"/back.txt").metadata[MetaDeletedAt])

	// the file comes back
	f.writeLocal(t, "back.txt", "v2")
	f.run(t)

	file := f.remote.get(testRootURI + "/back.txt")
	assert.Equal(t, "v2", string(file.content))
	assert.Empty(t, file.metadata[MetaDeletedAt], "upload must clear the soft-delete marker")

	entry, err := f.store.GetEntry("t1", "back.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, EntryStateOK, entry.State)
}
