package sync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func baselineEntry(hash string) *Entry {
	return &Entry{
		TaskID:            "t1",
		LocalRelPath:      "a.txt",
		LastLocalSize:     5,
		LastLocalMtimeMS:  1000,
		LastLocalHash:     hash,
		LastRemoteSize:    5,
		LastRemoteMtimeMS: 1000,
		LastRemoteHash:    hash,
		State:             EntryStateOK,
	}
}

func localFile(hash string, size, mtimeMS int64) *LocalFile {
	return &LocalFile{RelPath: "a.txt", Size: size, MtimeMS: mtimeMS, Hash: hash}
}

func remoteInfo(hash string, size, mtimeMS int64) *RemoteInfo {
	return &RemoteInfo{RelPath: "a.txt", URI: "drive://my/sync/a.txt", Size: size, MtimeMS: mtimeMS, Hash: hash}
}

func newTestDetector() *Detector {
	return NewDetector(clockwork.NewFakeClock(), DefaultAbsenceDebounce)
}

func TestDetector_Verdicts(t *testing.T) {
	tests := []struct {
		name    string
		entry   *Entry
		local   *LocalFile
		remote  *RemoteInfo
		verdict Verdict
	}{
		{"unchanged", baselineEntry("h1"), localFile("h1", 5, 1000), remoteInfo("h1", 5, 1000), VerdictUnchanged},
		{"local modified", baselineEntry("h1"), localFile("h2", 6, 2000), remoteInfo("h1", 5, 1000), VerdictLocalModified},
		{"remote modified", baselineEntry("h1"), localFile("h1", 5, 1000), remoteInfo("h3", 7, 3000), VerdictRemoteModified},
		{"both modified", baselineEntry("h1"), localFile("h2", 6, 2000), remoteInfo("h3", 7, 3000), VerdictBothModified},
		{"converged edits", baselineEntry("h1"), localFile("h2", 6, 2000), remoteInfo("h2", 6, 3000), VerdictUnchanged},
		{"local new", nil, localFile("h1", 5, 1000), nil, VerdictLocalNew},
		{"remote new", nil, nil, remoteInfo("h1", 5, 1000), VerdictRemoteNew},
		{"no baseline same content", nil, localFile("h1", 5, 1000), remoteInfo("h1", 5, 2000), VerdictUnchanged},
		{"no baseline diverged", nil, localFile("h1", 5, 1000), remoteInfo("h2", 6, 2000), VerdictBothModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector()
			assert.Equal(t, tt.verdict, d.Classify("a.txt", tt.entry, tt.local, tt.remote, nil))
		})
	}
}

func TestDetector_HashOverridesTimeAndSize(t *testing.T) {
	d := newTestDetector()

	// mtime moved but content identical: not a modification
	verdict := d.Classify("a.txt", baselineEntry("h1"), localFile("h1", 5, 9999), remoteInfo("h1", 5, 1000), nil)
	assert.Equal(t, VerdictUnchanged, verdict)
}

func TestDetector_SizeDecidesWithoutHashes(t *testing.T) {
	d := newTestDetector()

	entry := baselineEntry("")
	remote := remoteInfo("", 9, 1000)
	verdict := d.Classify("a.txt", entry, localFile("", 5, 1000), remote, nil)
	assert.Equal(t, VerdictRemoteModified, verdict)
}

func TestDetector_LocalAbsenceIsDebounced(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDetector(clock, DefaultAbsenceDebounce)
	entry := baselineEntry("h1")
	remote := remoteInfo("h1", 5, 1000)

	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, nil, remote, nil))

	// still inside the debounce window
	clock.Advance(DefaultAbsenceDebounce / 2)
	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, nil, remote, nil))

	clock.Advance(DefaultAbsenceDebounce)
	assert.Equal(t, VerdictLocalDeleted, d.Classify("a.txt", entry, nil, remote, nil))
}

func TestDetector_ReappearanceResetsAbsence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDetector(clock, DefaultAbsenceDebounce)
	entry := baselineEntry("h1")
	remote := remoteInfo("h1", 5, 1000)

	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, nil, remote, nil))
	clock.Advance(DefaultAbsenceDebounce * 2)

	// the file is back; the absence record must not linger
	assert.Equal(t, VerdictUnchanged, d.Classify("a.txt", entry, localFile("h1", 5, 1000), remote, nil))
	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, nil, remote, nil))
}

func TestDetector_RemoteMarkerConfirmsImmediately(t *testing.T) {
	d := newTestDetector()
	entry := baselineEntry("h1")
	remote := remoteInfo("h1", 5, 1000)
	remote.DeletedAtMS = 1700000000000

	verdict := d.Classify("a.txt", entry, localFile("h1", 5, 1000), remote, nil)
	assert.Equal(t, VerdictRemoteDeleted, verdict)
}

func TestDetector_ModifyVersusDeleteFavorsRetention(t *testing.T) {
	d := newTestDetector()
	entry := baselineEntry("h1")
	remote := remoteInfo("h1", 5, 1000)
	remote.DeletedAtMS = 1700000000000

	// the local side edited what the remote side deleted; the edit wins
	verdict := d.Classify("a.txt", entry, localFile("h2", 6, 2000), remote, nil)
	assert.Equal(t, VerdictLocalModified, verdict)
}

func TestDetector_DeletedEntryResurrection(t *testing.T) {
	d := newTestDetector()
	entry := baselineEntry("h1")
	entry.State = EntryStateDeleted

	verdict := d.Classify("a.txt", entry, localFile("h2", 6, 2000), nil, nil)
	assert.Equal(t, VerdictLocalNew, verdict)
}

func TestDetector_PendingMarkerReapplied(t *testing.T) {
	d := newTestDetector()
	entry := baselineEntry("h1")
	entry.State = EntryStateDeleted
	tombstone := &Tombstone{TaskID: "t1", LocalRelPath: "a.txt", Origin: OriginLocal, DeletedAtMS: 1}

	verdict := d.Classify("a.txt", entry, nil, remoteInfo("h1", 5, 1000), tombstone)
	assert.Equal(t, VerdictLocalDeleted, verdict)
}

func TestDetector_DeleteVersusRemoteEditFavorsRetention(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDetector(clock, DefaultAbsenceDebounce)
	entry := baselineEntry("h1")
	edited := remoteInfo("h2", 6, 2000)

	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, nil, edited, nil))
	clock.Advance(DefaultAbsenceDebounce + time.Second)

	// the remote moved past the baseline while the local copy vanished;
	// the edit comes back down instead of being soft-deleted
	assert.Equal(t, VerdictRemoteModified, d.Classify("a.txt", entry, nil, edited, nil))
}

func TestDetector_RemoteAbsenceIsDebounced(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDetector(clock, DefaultAbsenceDebounce)
	entry := baselineEntry("h1")
	local := localFile("h1", 5, 1000)

	assert.Equal(t, VerdictIndeterminate, d.Classify("a.txt", entry, local, nil, nil))
	clock.Advance(DefaultAbsenceDebounce + time.Second)
	assert.Equal(t, VerdictRemoteDeleted, d.Classify("a.txt", entry, local, nil, nil))
}
