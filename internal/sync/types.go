package sync

import (
	"context"

	"github.com/skysyncd/skysync/internal/drivesdk"
)

// Verdict is the Change Detector's classification of one logical path.
type Verdict string

const (
	VerdictUnchanged      Verdict = "unchanged"
	VerdictLocalModified  Verdict = "local_modified"
	VerdictRemoteModified Verdict = "remote_modified"
	VerdictBothModified   Verdict = "both_modified"
	VerdictLocalNew       Verdict = "local_new"
	VerdictRemoteNew      Verdict = "remote_new"
	VerdictLocalDeleted   Verdict = "local_deleted"
	VerdictRemoteDeleted  Verdict = "remote_deleted"

	// VerdictIndeterminate means the evidence is not decisive (a single
	// absence sample with no deletion marker). The engine defers judgment.
	VerdictIndeterminate Verdict = "indeterminate"
)

// OpType is a planned action for one logical path.
type OpType string

const (
	OpUpload          OpType = "Upload"
	OpDownload        OpType = "Download"
	OpConflict        OpType = "Conflict"
	OpDeleteLocal     OpType = "DeleteLocal"
	OpDeleteRemote    OpType = "DeleteRemote"
	OpRefreshBaseline OpType = "RefreshBaseline"
	OpCleanup         OpType = "Cleanup"
)

// LocalFile is the observed state of one file under the task root.
type LocalFile struct {
	RelPath string
	AbsPath string
	Size    int64
	MtimeMS int64
	Hash    string
}

// RemoteInfo is the observed state of one file on the drive server, with its
// sync metadata already parsed.
type RemoteInfo struct {
	FileID      string
	URI         string
	RelPath     string
	Size        int64
	MtimeMS     int64
	Hash        string
	DeletedAtMS int64 // 0 means no deletion marker
	DeviceID    string
	ConflictOf  string
}

// Deleted reports whether the remote carries a soft-delete marker.
func (r *RemoteInfo) Deleted() bool {
	return r.DeletedAtMS > 0
}

// Operation is one planned action, carrying the three views it was derived from.
type Operation struct {
	Type    OpType
	RelPath string
	Verdict Verdict
	Local   *LocalFile
	Remote  *RemoteInfo
	Entry   *Entry
}

// Remote is the slice of the drive API the engine consumes. *drivesdk.Client
// satisfies it; tests substitute an in-memory fake.
type Remote interface {
	ListAll(ctx context.Context, uri string) ([]*drivesdk.RemoteFile, error)
	DownloadFile(ctx context.Context, uri string) ([]byte, error)
	UpdateContent(ctx context.Context, uri string, content []byte) error
	CreateUploadSession(ctx context.Context, uri string, size int64) (*drivesdk.UploadSession, error)
	UploadChunk(ctx context.Context, sessionID string, index int, chunk []byte) error
	DeleteUploadSession(ctx context.Context, sessionID string, uri string) error
	CreateDir(ctx context.Context, uri string) error
	PatchMetadata(ctx context.Context, uris []string, patches []drivesdk.MetadataPatch) error
}
