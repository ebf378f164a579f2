package sync

import (
	"strconv"
	"time"

	"github.com/skysyncd/skysync/internal/drivesdk"
)

// Sync metadata keys written onto remote files. The server treats these as
// opaque key/value pairs; only this engine interprets them.
const (
	MetaDeviceID   = "sync:device_id"
	MetaMtimeMS    = "sync:mtime_ms"
	MetaSHA256     = "sync:sha256"
	MetaDeletedAt  = "sync:deleted_at_ms"
	MetaConflictOf = "sync:conflict_of"
	MetaConflictTS = "sync:conflict_ts"
)

// buildRemoteView converts a raw listing into the engine's per-path view,
// keyed by path relative to rootURI. Directories are dropped; they are
// implied by their children.
func buildRemoteView(files []*drivesdk.RemoteFile, rootURI string) map[string]*RemoteInfo {
	view := make(map[string]*RemoteInfo, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		relPath := drivesdk.RelPath(rootURI, file.URI)
		if relPath == "" {
			continue
		}

		info := &RemoteInfo{
			FileID:  file.ID,
			URI:     file.URI,
			RelPath: relPath,
			Size:    file.Size,
			MtimeMS: parseUpdatedAt(file.UpdatedAt),
		}
		if file.Metadata != nil {
			info.Hash = file.Metadata[MetaSHA256]
			info.DeviceID = file.Metadata[MetaDeviceID]
			info.ConflictOf = file.Metadata[MetaConflictOf]
			if v, err := strconv.ParseInt(file.Metadata[MetaMtimeMS], 10, 64); err == nil {
				info.MtimeMS = v
			}
			if v, err := strconv.ParseInt(file.Metadata[MetaDeletedAt], 10, 64); err == nil {
				info.DeletedAtMS = v
			}
		}
		view[relPath] = info
	}
	return view
}

// parseUpdatedAt falls back to now when the server timestamp is unparseable,
// which errs on the side of treating the file as recently changed.
func parseUpdatedAt(value string) int64 {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

// syncMetadataPatches builds the metadata written after every successful
// upload. Clearing the deletion marker resurrects a previously soft-deleted
// path when the same file is recreated.
func syncMetadataPatches(deviceID string, local *LocalFile, clearDeleted bool) []drivesdk.MetadataPatch {
	patches := []drivesdk.MetadataPatch{
		drivesdk.SetPatch(MetaDeviceID, deviceID),
		drivesdk.SetPatch(MetaMtimeMS, strconv.FormatInt(local.MtimeMS, 10)),
		drivesdk.SetPatch(MetaSHA256, local.Hash),
	}
	if clearDeleted {
		patches = append(patches, drivesdk.RemovePatch(MetaDeletedAt))
	}
	return patches
}
