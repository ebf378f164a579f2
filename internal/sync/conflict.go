package sync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/utils"
)

// ReasonDivergentEdit is the reason code recorded for both-modified conflicts.
const ReasonDivergentEdit = "divergent_edit"

const (
	conflictStampLayout      = "20060102-150405"
	conflictStampMicroLayout = "20060102-150405.000000"
)

// ConflictCopyPath derives the dual-retention name for a diverged file:
// "<basename> (conflict-<device>-<stamp>).<ext>" in the same directory.
func ConflictCopyPath(relPath, deviceID string, at time.Time, micro bool) string {
	dir := path.Dir(relPath)
	name := path.Base(relPath)
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	layout := conflictStampLayout
	if micro {
		layout = conflictStampMicroLayout
	}

	copyName := fmt.Sprintf("%s (conflict-%s-%s)%s", base, deviceID, at.Format(layout), ext)
	if dir == "." {
		return copyName
	}
	return dir + "/" + copyName
}

// deriveConflictPath returns a conflict-copy path that exists on neither
// side. The first candidate uses second granularity; collisions re-derive at
// microsecond granularity, stepping one microsecond per attempt so two
// conflicts in the same nominal second still get distinct names.
func deriveConflictPath(relPath, deviceID string, at time.Time, taken func(string) bool) string {
	candidate := ConflictCopyPath(relPath, deviceID, at, false)
	if !taken(candidate) {
		return candidate
	}
	for i := 0; ; i++ {
		candidate = ConflictCopyPath(relPath, deviceID, at.Add(time.Duration(i)*time.Microsecond), true)
		if !taken(candidate) {
			return candidate
		}
	}
}

// resolveConflict applies dual retention to a diverged path. The local edit
// is copied to a conflict-copy name and uploaded under it; the remote file
// stays canonical and is downloaded back to the original path. Neither side's
// content is ever overwritten. This behavior is deliberately not configurable.
func (e *Engine) resolveConflict(ctx context.Context, op *Operation) error {
	now := e.clock.Now()
	taken := func(candidate string) bool {
		return utils.FileExists(filepath.Join(e.task.LocalRoot, filepath.FromSlash(candidate)))
	}
	conflictRel := deriveConflictPath(op.RelPath, e.deviceID, now, taken)
	conflictAbs := filepath.Join(e.task.LocalRoot, filepath.FromSlash(conflictRel))

	// copy, never move: the original path stays populated until the canonical
	// download commits, so an interrupted resolution cannot read as a local
	// deletion on the next cycle
	if err := utils.CopyFile(op.Local.AbsPath, conflictAbs); err != nil {
		return fmt.Errorf("stage conflict copy %q: %w", conflictRel, err)
	}

	conflictCopy := &LocalFile{
		RelPath: conflictRel,
		AbsPath: conflictAbs,
		Size:    op.Local.Size,
		MtimeMS: op.Local.MtimeMS,
		Hash:    op.Local.Hash,
	}
	if info, err := os.Stat(conflictAbs); err == nil {
		conflictCopy.Size = info.Size()
		conflictCopy.MtimeMS = info.ModTime().UnixMilli()
	}
	originPatches := []drivesdk.MetadataPatch{
		drivesdk.SetPatch(MetaConflictOf, op.RelPath),
		drivesdk.SetPatch(MetaConflictTS, strconv.FormatInt(now.UnixMilli(), 10)),
	}
	if err := e.uploadFile(ctx, conflictCopy, originPatches); err != nil {
		return fmt.Errorf("upload conflict copy %q: %w", conflictRel, err)
	}

	record := &Conflict{
		TaskID:          e.task.TaskID,
		OriginalRelPath: op.RelPath,
		ConflictRelPath: conflictRel,
		CreatedAtMS:     now.UnixMilli(),
		Reason:          ReasonDivergentEdit,
	}
	if err := e.store.AppendConflict(record); err != nil {
		return fmt.Errorf("record conflict %q: %w", op.RelPath, err)
	}
	e.logActivity("warn", "conflict", fmt.Sprintf("%s diverged; local edit kept as %s", op.RelPath, conflictRel))

	// canonical remote content takes the original path back
	if err := e.downloadFile(ctx, op.RelPath, op.Remote); err != nil {
		return fmt.Errorf("restore canonical %q: %w", op.RelPath, err)
	}

	// the entry stays conflicted until its records are resolved
	entry, err := e.store.GetEntry(e.task.TaskID, op.RelPath)
	if err != nil || entry == nil {
		return err
	}
	entry.State = EntryStateConflicted
	return e.store.UpsertEntry(entry)
}
