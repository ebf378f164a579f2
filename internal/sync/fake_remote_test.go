package sync

import (
	"context"
	"fmt"
	"path"
	"strings"
	stdsync "sync"
	"time"

	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/utils"
)

// fakeRemote is an in-memory drive server for engine tests.
type fakeRemote struct {
	mu       stdsync.Mutex
	files    map[string]*fakeFile // keyed by full uri
	sessions map[string]*fakeSession
	nextID   int

	// singleRequestCap makes UpdateContent reject larger bodies the way a
	// real server does; 0 disables.
	singleRequestCap int

	// failListings makes the next n ListAll calls fail.
	failListings int

	// failDownloads makes the next n DownloadFile calls fail with a
	// non-retryable rejection.
	failDownloads int

	// createDirErr is returned by every CreateDir call when set.
	createDirErr error

	listCalls   int
	uploadCalls int
}

type fakeFile struct {
	id        string
	content   []byte
	metadata  map[string]string
	updatedAt time.Time
}

type fakeSession struct {
	uri    string
	size   int64
	chunks map[int][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:    make(map[string]*fakeFile),
		sessions: make(map[string]*fakeSession),
	}
}

// put seeds a remote file with full sync metadata, as a prior upload would.
func (f *fakeRemote) put(uri string, content []byte, deviceID string, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.files[uri] = &fakeFile{
		id:      fmt.Sprintf("f%d", f.nextID),
		content: append([]byte(nil), content...),
		metadata: map[string]string{
			MetaSHA256:   utils.HashBytes(content),
			MetaDeviceID: deviceID,
			MetaMtimeMS:  fmt.Sprintf("%d", mtime.UnixMilli()),
		},
		updatedAt: mtime,
	}
}

func (f *fakeRemote) get(uri string) *fakeFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[uri]
}

func (f *fakeRemote) ListAll(ctx context.Context, uri string) ([]*drivesdk.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.failListings > 0 {
		f.failListings--
		return nil, fmt.Errorf("listing temporarily unavailable")
	}

	prefix := strings.TrimSuffix(uri, "/") + "/"
	var out []*drivesdk.RemoteFile
	for fileURI, file := range f.files {
		if !strings.HasPrefix(fileURI, prefix) {
			continue
		}
		metadata := make(map[string]string, len(file.metadata))
		for k, v := range file.metadata {
			metadata[k] = v
		}
		out = append(out, &drivesdk.RemoteFile{
			ID:        file.id,
			Name:      path.Base(fileURI),
			URI:       fileURI,
			Size:      int64(len(file.content)),
			UpdatedAt: file.updatedAt.Format(time.RFC3339),
			Metadata:  metadata,
		})
	}
	return out, nil
}

func (f *fakeRemote) DownloadFile(ctx context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDownloads > 0 {
		f.failDownloads--
		return nil, &drivesdk.APIError{Code: drivesdk.CodeNotFound, Msg: "download rejected", Op: "download"}
	}

	file, ok := f.files[uri]
	if !ok {
		return nil, &drivesdk.APIError{Code: drivesdk.CodeNotFound, Msg: "not found", Op: "download"}
	}
	return append([]byte(nil), file.content...), nil
}

func (f *fakeRemote) UpdateContent(ctx context.Context, uri string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.singleRequestCap > 0 && len(content) > f.singleRequestCap {
		return &drivesdk.APIError{Code: drivesdk.CodeFileTooLarge, Msg: "file too large", Op: "update content"}
	}

	f.uploadCalls++
	f.storeLocked(uri, content)
	return nil
}

func (f *fakeRemote) CreateUploadSession(ctx context.Context, uri string, size int64) (*drivesdk.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("s%d", f.nextID)
	f.sessions[id] = &fakeSession{uri: uri, size: size, chunks: make(map[int][]byte)}
	return &drivesdk.UploadSession{SessionID: id, ChunkSize: 4}, nil
}

func (f *fakeRemote) UploadChunk(ctx context.Context, sessionID string, index int, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return &drivesdk.APIError{Code: drivesdk.CodeNotFound, Msg: "no session", Op: "upload chunk"}
	}
	session.chunks[index] = append([]byte(nil), chunk...)

	var got int64
	for _, c := range session.chunks {
		got += int64(len(c))
	}
	if got >= session.size {
		content := make([]byte, 0, session.size)
		for i := 0; i < len(session.chunks); i++ {
			content = append(content, session.chunks[i]...)
		}
		f.uploadCalls++
		f.storeLocked(session.uri, content)
		delete(f.sessions, sessionID)
	}
	return nil
}

func (f *fakeRemote) DeleteUploadSession(ctx context.Context, sessionID string, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeRemote) CreateDir(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createDirErr
}

func (f *fakeRemote) PatchMetadata(ctx context.Context, uris []string, patches []drivesdk.MetadataPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, uri := range uris {
		file, ok := f.files[uri]
		if !ok {
			return &drivesdk.APIError{Code: drivesdk.CodeNotFound, Msg: "not found", Op: "patch metadata"}
		}
		for _, patch := range patches {
			if patch.Remove {
				delete(file.metadata, patch.Key)
			} else if patch.Value != nil {
				file.metadata[patch.Key] = *patch.Value
			}
		}
	}
	return nil
}

func (f *fakeRemote) storeLocked(uri string, content []byte) {
	file, ok := f.files[uri]
	if !ok {
		f.nextID++
		file = &fakeFile{id: fmt.Sprintf("f%d", f.nextID), metadata: make(map[string]string)}
		f.files[uri] = file
	}
	file.content = append([]byte(nil), content...)
	file.updatedAt = time.Now()
}
