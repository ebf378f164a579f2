package controlplane

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysyncd/skysync/internal/config"
	"github.com/skysyncd/skysync/internal/sync"
)

func newTestServer(t *testing.T) (*Server, *sync.Store) {
	t.Helper()

	store := sync.NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{ServerURL: "https://drive.example.com", DataDir: t.TempDir()}
	require.NoError(t, cfg.Validate())

	manager := sync.NewManager(cfg, store, nil, "dev1")
	return New("", manager), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestControlPlane_TaskLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.routes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tasks",
		`{"local_root":"/home/user/sync","remote_root_uri":"drive://my/sync"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.TaskID)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []struct {
			TaskID        string `json:"task_id"`
			RemoteRootURI string `json:"remote_root_uri"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "drive://my/sync", list.Tasks[0].RemoteRootURI)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/tasks/"+created.TaskID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/tasks/"+created.TaskID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/tasks/"+created.TaskID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControlPlane_CreateTaskValidation(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.routes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tasks", `{"local_root":"/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlPlane_ConflictsAndActivity(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.routes()

	require.NoError(t, store.CreateTask(&sync.Task{
		TaskID: "t1", LocalRoot: "/x", RemoteRootURI: "drive://my/x",
		DeviceID: "dev1", Mode: sync.TaskModeTwoWay, IntervalSecs: 30,
	}))
	require.NoError(t, store.AppendConflict(&sync.Conflict{
		TaskID: "t1", OriginalRelPath: "a.txt",
		ConflictRelPath: "a (conflict-dev1-20260117-154230).txt",
		CreatedAtMS:     1, Reason: sync.ReasonDivergentEdit,
	}))
	require.NoError(t, store.AppendActivity(&sync.Activity{
		TaskID: "t1", Level: "warn", Event: "conflict", Detail: "a.txt diverged",
	}))

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/tasks/t1/conflicts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var conflicts struct {
		Conflicts []*sync.Conflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflicts))
	require.Len(t, conflicts.Conflicts, 1)

	rec = doJSON(t, handler, http.MethodPost,
		"/api/v1/tasks/t1/conflicts/"+strconv.FormatInt(conflicts.Conflicts[0].ID, 10)+"/resolve", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/activity?task_id=t1&level=warn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.txt diverged")
}

func TestControlPlane_StopUnknownTask(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.routes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tasks/nope/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
