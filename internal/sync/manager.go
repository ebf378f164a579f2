package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/skysyncd/skysync/internal/config"
	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/utils"
)

func relToRoot(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", err
	}
	return utils.NormPath(rel), nil
}

// TaskModeTwoWay is the only sync mode currently supported.
const TaskModeTwoWay = "two_way"

// runner is one task's engine plus its trigger loop.
type runner struct {
	engine  *Engine
	watcher *Watcher
	cancel  context.CancelFunc
	paused  bool
	done    chan struct{}
}

// Manager owns the store and every task runner: interval timers, watcher
// triggers, pause and resume.
type Manager struct {
	cfg      *config.Config
	store    *Store
	sdk      *drivesdk.Client
	deviceID string
	clock    clockwork.Clock

	mu      stdsync.Mutex
	runners map[string]*runner
}

func NewManager(cfg *config.Config, store *Store, sdk *drivesdk.Client, deviceID string) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		sdk:      sdk,
		deviceID: deviceID,
		clock:    clockwork.NewRealClock(),
		runners:  make(map[string]*runner),
	}
}

// CreateTask registers a new sync pair and persists it.
func (m *Manager) CreateTask(localRoot, remoteRootURI string, intervalSecs int) (*Task, error) {
	if intervalSecs <= 0 {
		intervalSecs = m.cfg.IntervalSecs
	}
	task := &Task{
		TaskID:        uuid.NewString(),
		BaseURL:       m.cfg.ServerURL,
		LocalRoot:     localRoot,
		RemoteRootURI: remoteRootURI,
		DeviceID:      m.deviceID,
		Mode:          TaskModeTwoWay,
		IntervalSecs:  intervalSecs,
		CreatedAtMS:   time.Now().UnixMilli(),
	}
	if err := m.store.CreateTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// StartAll launches a runner for every persisted task.
func (m *Manager) StartAll(ctx context.Context) error {
	tasks, err := m.store.ListTasks()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := m.StartTask(ctx, task.TaskID); err != nil {
			slog.Error("failed to start task", "task", task.TaskID, "error", err)
		}
	}
	return nil
}

// StartTask launches the runner loop for one task. Starting a running task
// is an error; resume a paused one instead.
func (m *Manager) StartTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.runners[taskID]; running {
		return fmt.Errorf("task %s already running", taskID)
	}

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	engine, err := NewEngine(EngineConfig{
		Task:            task,
		Store:           m.store,
		Remote:          m.sdk,
		DeviceID:        m.deviceID,
		Clock:           m.clock,
		UploadWorkers:   m.cfg.UploadWorkers,
		DownloadWorkers: m.cfg.DownloadWorkers,
	})
	if err != nil {
		return err
	}

	watcher := NewWatcher(task.LocalRoot, func(path string) bool {
		rel, err := relToRoot(task.LocalRoot, path)
		if err != nil {
			return false
		}
		return engine.ignore.ShouldIgnore(rel)
	})
	if err := watcher.Start(); err != nil {
		slog.Warn("watcher unavailable, interval only", "task", taskID, "error", err)
		watcher = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{
		engine:  engine,
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.runners[taskID] = r

	go m.runLoop(runCtx, r, task)
	slog.Info("task started", "task", taskID, "local", task.LocalRoot, "remote", task.RemoteRootURI)
	return nil
}

// runLoop drives one task: an immediate first cycle, then interval ticks and
// watcher triggers until the task stops.
func (m *Manager) runLoop(ctx context.Context, r *runner, task *Task) {
	defer close(r.done)

	interval := time.Duration(task.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var triggers <-chan struct{}
	if r.watcher != nil {
		triggers = r.watcher.Triggers()
	}

	cycle := func() {
		if m.isPaused(task.TaskID) {
			return
		}
		if err := r.engine.RunCycle(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sync cycle failed", "task", task.TaskID, "error", err)
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		case <-triggers:
			cycle()
		}
	}
}

func (m *Manager) isPaused(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[taskID]
	return ok && r.paused
}

// PauseTask suspends cycle dispatch without tearing the runner down.
func (m *Manager) PauseTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[taskID]
	if !ok {
		return fmt.Errorf("task %s not running", taskID)
	}
	r.paused = true
	r.engine.Status().SetState(StatePaused)
	return nil
}

// ResumeTask re-enables cycle dispatch for a paused task.
func (m *Manager) ResumeTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[taskID]
	if !ok {
		return fmt.Errorf("task %s not running", taskID)
	}
	r.paused = false
	r.engine.Status().SetState(StateIdle)
	return nil
}

// StopTask cancels the runner and waits for its loop to exit. In-flight
// transfers abort at their next suspension point.
func (m *Manager) StopTask(taskID string) error {
	m.mu.Lock()
	r, ok := m.runners[taskID]
	if ok {
		delete(m.runners, taskID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("task %s not running", taskID)
	}

	r.cancel()
	if r.watcher != nil {
		r.watcher.Stop()
	}
	<-r.done
	slog.Info("task stopped", "task", taskID)
	return nil
}

// StopAll stops every runner; used on daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopTask(id); err != nil {
			slog.Warn("stop task", "task", id, "error", err)
		}
	}
}

// DeleteTask stops a running task and removes it with all its records.
func (m *Manager) DeleteTask(taskID string) error {
	_ = m.StopTask(taskID)
	return m.store.DeleteTask(taskID)
}

// RunNow forces a cycle outside the schedule.
func (m *Manager) RunNow(ctx context.Context, taskID string) error {
	m.mu.Lock()
	r, ok := m.runners[taskID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("task %s not running", taskID)
	}
	return r.engine.RunCycle(ctx)
}

// Statuses returns a snapshot per running task.
func (m *Manager) Statuses() map[string]StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make(map[string]StatusSnapshot, len(m.runners))
	for id, r := range m.runners {
		statuses[id] = r.engine.Status().Snapshot()
	}
	return statuses
}

// Status returns the live snapshot for one task, or false if not running.
func (m *Manager) Status(taskID string) (StatusSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[taskID]
	if !ok {
		return StatusSnapshot{}, false
	}
	return r.engine.Status().Snapshot(), true
}

func (m *Manager) Store() *Store {
	return m.store
}
