package sync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/utils"
)

const (
	maxTransferAttempts = 5
	retryBaseDelay      = 500 * time.Millisecond
	retryMaxDelay       = 30 * time.Second

	// singleRequestLimit is the size above which uploads go straight to a
	// chunked session instead of probing the single-request endpoint.
	singleRequestLimit = 16 << 20

	defaultChunkSize        = 8 << 20
	sessionChunkConcurrency = 2
)

// withRetry runs fn with exponential backoff. Rejected requests fail fast;
// transport and server-side errors retry up to the attempt bound.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !drivesdk.Retryable(err) || attempt >= maxTransferAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(delay):
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func (e *Engine) uploadOne(ctx context.Context, op *Operation) error {
	if err := e.uploadFile(ctx, op.Local, nil); err != nil {
		return err
	}
	return e.store.DeleteTombstone(e.task.TaskID, op.Local.RelPath)
}

// uploadFile pushes one local file, writes its sync metadata, and advances
// the baseline. The metadata write retries on its own; a failure there never
// re-uploads bytes.
func (e *Engine) uploadFile(ctx context.Context, local *LocalFile, extraPatches []drivesdk.MetadataPatch) error {
	content, err := os.ReadFile(local.AbsPath)
	if err != nil {
		return fmt.Errorf("read %q: %w", local.RelPath, err)
	}

	// the file may have changed between scan and dispatch
	if hash := utils.HashBytes(content); hash != local.Hash {
		local.Hash = hash
		local.Size = int64(len(content))
		if info, err := os.Stat(local.AbsPath); err == nil {
			local.MtimeMS = info.ModTime().UnixMilli()
		}
	}

	uri := drivesdk.JoinURI(e.task.RemoteRootURI, local.RelPath)
	if err := e.ensureRemoteDir(ctx, path.Dir(local.RelPath)); err != nil {
		return err
	}

	if err := e.withRetry(ctx, func() error {
		return e.putContent(ctx, uri, content)
	}); err != nil {
		return fmt.Errorf("upload %q: %w", local.RelPath, err)
	}

	patches := append(syncMetadataPatches(e.deviceID, local, true), extraPatches...)
	if err := e.withRetry(ctx, func() error {
		return e.remote.PatchMetadata(ctx, []string{uri}, patches)
	}); err != nil {
		return fmt.Errorf("write sync metadata %q: %w", local.RelPath, err)
	}

	entry := &Entry{
		TaskID:            e.task.TaskID,
		LocalRelPath:      local.RelPath,
		RemoteURI:         uri,
		LastLocalSize:     local.Size,
		LastLocalMtimeMS:  local.MtimeMS,
		LastLocalHash:     local.Hash,
		LastRemoteSize:    local.Size,
		LastRemoteMtimeMS: local.MtimeMS,
		LastRemoteHash:    local.Hash,
		LastSyncTSMS:      e.clock.Now().UnixMilli(),
		State:             EntryStateOK,
	}
	if prev, err := e.store.GetEntry(e.task.TaskID, local.RelPath); err == nil && prev != nil {
		entry.RemoteFileID = prev.RemoteFileID
	}
	return e.store.UpsertEntry(entry)
}

// putContent tries the single-request endpoint and falls back to a chunked
// session when the body is too large, either by local policy or by server
// rejection.
func (e *Engine) putContent(ctx context.Context, uri string, content []byte) error {
	if len(content) > singleRequestLimit {
		return e.sessionUpload(ctx, uri, content)
	}
	err := e.remote.UpdateContent(ctx, uri, content)
	if drivesdk.IsCode(err, drivesdk.CodeFileTooLarge) {
		return e.sessionUpload(ctx, uri, content)
	}
	return err
}

// sessionUpload streams content through an upload session. Chunks retry
// individually; a failed session is abandoned so the server can reclaim it.
func (e *Engine) sessionUpload(ctx context.Context, uri string, content []byte) error {
	session, err := e.remote.CreateUploadSession(ctx, uri, int64(len(content)))
	if err != nil {
		return fmt.Errorf("create upload session: %w", err)
	}
	chunkSize := int(session.ChunkSize)
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sessionChunkConcurrency)
	for index, offset := 0, 0; offset < len(content); index, offset = index+1, offset+chunkSize {
		end := min(offset+chunkSize, len(content))
		chunk := content[offset:end]
		g.Go(func() error {
			return e.withRetry(gctx, func() error {
				return e.remote.UploadChunk(gctx, session.SessionID, index, chunk)
			})
		})
	}
	if err := g.Wait(); err != nil {
		_ = e.remote.DeleteUploadSession(ctx, session.SessionID, uri)
		return fmt.Errorf("upload session: %w", err)
	}
	return nil
}

// ensureRemoteDir creates the ancestors of a path, rootmost first. Results
// are cached for the cycle; an "already exists" rejection counts as success.
func (e *Engine) ensureRemoteDir(ctx context.Context, relDir string) error {
	if relDir == "." || relDir == "" {
		return nil
	}

	segments := splitPath(relDir)
	prefix := ""
	for _, segment := range segments {
		if prefix == "" {
			prefix = segment
		} else {
			prefix += "/" + segment
		}

		e.dirsMu.Lock()
		_, done := e.createdDirs[prefix]
		e.dirsMu.Unlock()
		if done {
			continue
		}

		uri := drivesdk.JoinURI(e.task.RemoteRootURI, prefix)
		err := e.withRetry(ctx, func() error {
			return e.remote.CreateDir(ctx, uri)
		})
		if err != nil && !drivesdk.IsCode(err, drivesdk.CodeObjectExisted) {
			return fmt.Errorf("create remote dir %q: %w", prefix, err)
		}

		e.dirsMu.Lock()
		e.createdDirs[prefix] = struct{}{}
		e.dirsMu.Unlock()
	}
	return nil
}

func (e *Engine) downloadOne(ctx context.Context, op *Operation) error {
	if err := e.downloadFile(ctx, op.RelPath, op.Remote); err != nil {
		return err
	}
	return e.store.DeleteTombstone(e.task.TaskID, op.RelPath)
}

// downloadFile fetches one remote file, verifies its declared hash, and
// commits it locally with an atomic rename.
func (e *Engine) downloadFile(ctx context.Context, relPath string, remote *RemoteInfo) error {
	var content []byte
	err := e.withRetry(ctx, func() error {
		bytes, err := e.remote.DownloadFile(ctx, remote.URI)
		if err != nil {
			return err
		}
		if remote.Hash != "" && utils.HashBytes(bytes) != remote.Hash {
			return fmt.Errorf("hash mismatch for %q", relPath)
		}
		content = bytes
		return nil
	})
	if err != nil {
		return fmt.Errorf("download %q: %w", relPath, err)
	}

	absPath := filepath.Join(e.task.LocalRoot, filepath.FromSlash(relPath))
	if err := writeFileAtomic(absPath, content, remote.MtimeMS); err != nil {
		return fmt.Errorf("commit %q: %w", relPath, err)
	}

	hash := remote.Hash
	if hash == "" {
		hash = utils.HashBytes(content)
	}
	mtimeMS := remote.MtimeMS
	if info, err := os.Stat(absPath); err == nil {
		mtimeMS = info.ModTime().UnixMilli()
	}

	entry := &Entry{
		TaskID:            e.task.TaskID,
		LocalRelPath:      relPath,
		RemoteFileID:      remote.FileID,
		RemoteURI:         remote.URI,
		LastLocalSize:     int64(len(content)),
		LastLocalMtimeMS:  mtimeMS,
		LastLocalHash:     hash,
		LastRemoteSize:    remote.Size,
		LastRemoteMtimeMS: remote.MtimeMS,
		LastRemoteHash:    hash,
		LastSyncTSMS:      e.clock.Now().UnixMilli(),
		State:             EntryStateOK,
	}
	return e.store.UpsertEntry(entry)
}

// writeFileAtomic stages content next to the target and renames into place,
// so a crash mid-write never leaves a truncated file at the real path.
func writeFileAtomic(absPath string, content []byte, mtimeMS int64) error {
	if err := utils.EnsureParent(absPath); err != nil {
		return err
	}

	tmpPath := absPath + ".skysync-part"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return err
	}
	if mtimeMS > 0 {
		mtime := time.UnixMilli(mtimeMS)
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			os.Remove(tmpPath)
			return err
		}
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func splitPath(relPath string) []string {
	return strings.Split(strings.Trim(relPath, "/"), "/")
}
