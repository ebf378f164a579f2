package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/skysyncd/skysync/internal/drivesdk"
)

// propagateLocalDelete applies a confirmed local deletion to the remote as a
// soft delete: a deletion marker in metadata, never physical erasure. Safe to
// re-run; the marker write and the tombstone are both idempotent.
func (e *Engine) propagateLocalDelete(ctx context.Context, op *Operation) error {
	deletedAtMS := e.clock.Now().UnixMilli()

	if op.Remote != nil {
		patches := []drivesdk.MetadataPatch{
			drivesdk.SetPatch(MetaDeletedAt, strconv.FormatInt(deletedAtMS, 10)),
			drivesdk.SetPatch(MetaDeviceID, e.deviceID),
		}
		if err := e.withRetry(ctx, func() error {
			return e.remote.PatchMetadata(ctx, []string{op.Remote.URI}, patches)
		}); err != nil {
			return fmt.Errorf("mark deleted %q: %w", op.RelPath, err)
		}
	}

	return e.recordDeletion(op, OriginLocal, deletedAtMS)
}

// applyRemoteDelete applies a confirmed remote deletion locally.
func (e *Engine) applyRemoteDelete(ctx context.Context, op *Operation) error {
	_ = ctx

	absPath := filepath.Join(e.task.LocalRoot, filepath.FromSlash(op.RelPath))
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", op.RelPath, err)
	}

	deletedAtMS := e.clock.Now().UnixMilli()
	if op.Remote != nil && op.Remote.DeletedAtMS > 0 {
		deletedAtMS = op.Remote.DeletedAtMS
	}
	return e.recordDeletion(op, OriginRemote, deletedAtMS)
}

// recordDeletion writes the tombstone and flips the entry to deleted. The
// entry stays until both sides confirm absence, then cleanup retires it.
func (e *Engine) recordDeletion(op *Operation, origin string, deletedAtMS int64) error {
	tombstone := &Tombstone{
		TaskID:       e.task.TaskID,
		LocalRelPath: op.RelPath,
		DeletedAtMS:  deletedAtMS,
		Origin:       origin,
	}
	if op.Remote != nil {
		tombstone.RemoteFileID = op.Remote.FileID
	} else if op.Entry != nil {
		tombstone.RemoteFileID = op.Entry.RemoteFileID
	}
	if err := e.store.UpsertTombstone(tombstone); err != nil {
		return err
	}

	entry := op.Entry
	if entry == nil {
		entry = &Entry{
			TaskID:       e.task.TaskID,
			LocalRelPath: op.RelPath,
			RemoteFileID: tombstone.RemoteFileID,
		}
	}
	entry.State = EntryStateDeleted
	entry.LastSyncTSMS = e.clock.Now().UnixMilli()
	return e.store.UpsertEntry(entry)
}
