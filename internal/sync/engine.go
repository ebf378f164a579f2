package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultUploadWorkers   = 4
	DefaultDownloadWorkers = 4
)

// EngineConfig wires one task's collaborators together.
type EngineConfig struct {
	Task            *Task
	Store           *Store
	Remote          Remote
	DeviceID        string
	Clock           clockwork.Clock
	AbsenceDebounce time.Duration
	UploadWorkers   int
	DownloadWorkers int
}

// Engine runs reconciliation cycles for a single task: list remote, scan and
// hash local, plan, execute, advance the baseline.
type Engine struct {
	task     *Task
	store    *Store
	remote   Remote
	scanner  *Scanner
	ignore   *IgnoreList
	planner  *Planner
	tracker  *StatusTracker
	clock    clockwork.Clock
	deviceID string

	uploadWorkers   int
	downloadWorkers int

	// cycleMu guarantees at most one running cycle per task; an overlapping
	// trigger is dropped, not queued.
	cycleMu stdsync.Mutex

	// remote directories confirmed to exist, valid for one cycle
	dirsMu      stdsync.Mutex
	createdDirs map[string]struct{}
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Task == nil || cfg.Store == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("engine: task, store and remote are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = DefaultUploadWorkers
	}
	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = DefaultDownloadWorkers
	}

	ignore := NewIgnoreList(cfg.Task.LocalRoot)
	scanner, err := NewScanner(cfg.Task.LocalRoot, ignore)
	if err != nil {
		return nil, err
	}

	return &Engine{
		task:            cfg.Task,
		store:           cfg.Store,
		remote:          cfg.Remote,
		scanner:         scanner,
		ignore:          ignore,
		planner:         NewPlanner(NewDetector(cfg.Clock, cfg.AbsenceDebounce)),
		tracker:         NewStatusTracker(cfg.Task.TaskID),
		clock:           cfg.Clock,
		deviceID:        cfg.DeviceID,
		uploadWorkers:   cfg.UploadWorkers,
		downloadWorkers: cfg.DownloadWorkers,
	}, nil
}

func (e *Engine) Status() *StatusTracker {
	return e.tracker
}

func (e *Engine) Task() *Task {
	return e.task
}

// RunCycle executes one full reconciliation pass. A cycle already in flight
// makes this call a no-op.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.cycleMu.TryLock() {
		slog.Debug("cycle already running", "task", e.task.TaskID)
		return nil
	}
	defer e.cycleMu.Unlock()

	e.dirsMu.Lock()
	e.createdDirs = make(map[string]struct{})
	e.dirsMu.Unlock()

	e.tracker.SetState(StateListingRemote)
	files, err := e.remote.ListAll(ctx, e.task.RemoteRootURI)
	if err != nil {
		e.tracker.SetError(err)
		e.logActivity("error", "list_remote", err.Error())
		return fmt.Errorf("list remote: %w", err)
	}
	remoteView := buildRemoteView(files, e.task.RemoteRootURI)

	e.tracker.SetState(StateHashing)
	e.ignore.Load()
	localView, err := e.scanner.Scan()
	if err != nil {
		e.tracker.SetError(err)
		e.logActivity("error", "scan_local", err.Error())
		return fmt.Errorf("scan local: %w", err)
	}

	entries, err := e.store.EntriesByPath(e.task.TaskID)
	if err != nil {
		e.tracker.SetError(err)
		return err
	}
	tombstones, err := e.store.TombstonesByPath(e.task.TaskID)
	if err != nil {
		e.tracker.SetError(err)
		return err
	}

	plan := e.planner.Plan(entries, localView, remoteView, tombstones)

	e.tracker.SetState(StateSyncing)
	e.tracker.CycleStarted(len(plan))
	e.execute(ctx, plan)

	if count, err := e.store.CountConflicts(e.task.TaskID); err == nil {
		e.tracker.SetConflicts(count > 0)
	}

	e.tracker.CycleFinished(e.clock.Now())
	e.tracker.SetState(StateIdle)
	return nil
}

// execute dispatches the plan. Conflicts, deletions and housekeeping run
// sequentially in plan order; uploads and downloads run through their own
// bounded pools.
func (e *Engine) execute(ctx context.Context, plan []*Operation) {
	var uploads, downloads []*Operation

	for _, op := range plan {
		if ctx.Err() != nil {
			return
		}
		switch op.Type {
		case OpUpload:
			uploads = append(uploads, op)
		case OpDownload:
			downloads = append(downloads, op)
		default:
			e.runAction(ctx, op, e.applySequential)
		}
	}

	var wg stdsync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.runPool(ctx, downloads, e.downloadWorkers, e.downloadOne)
	}()
	go func() {
		defer wg.Done()
		e.runPool(ctx, uploads, e.uploadWorkers, e.uploadOne)
	}()
	wg.Wait()
}

func (e *Engine) applySequential(ctx context.Context, op *Operation) error {
	switch op.Type {
	case OpConflict:
		return e.resolveConflict(ctx, op)
	case OpDeleteRemote:
		return e.propagateLocalDelete(ctx, op)
	case OpDeleteLocal:
		return e.applyRemoteDelete(ctx, op)
	case OpRefreshBaseline:
		return e.refreshBaseline(op)
	case OpCleanup:
		return e.cleanupEntry(op)
	default:
		return fmt.Errorf("unexpected sequential op %s", op.Type)
	}
}

// runPool is the bounded worker pool for one transfer direction.
func (e *Engine) runPool(ctx context.Context, ops []*Operation, workers int, apply func(context.Context, *Operation) error) {
	if len(ops) == 0 {
		return
	}

	opsChan := make(chan *Operation, len(ops))
	var wg stdsync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case op, ok := <-opsChan:
					if !ok {
						return
					}
					e.runAction(ctx, op, apply)
				}
			}
		}()
	}

	for _, op := range ops {
		opsChan <- op
	}
	close(opsChan)
	wg.Wait()
}

// runAction wraps one op with status accounting. A single op's failure is
// logged and isolated; the rest of the cycle continues.
func (e *Engine) runAction(ctx context.Context, op *Operation, apply func(context.Context, *Operation) error) {
	e.tracker.ActionStarted()
	if err := apply(ctx, op); err != nil {
		e.tracker.ActionFailed()
		slog.Error("sync", "op", op.Type, "path", op.RelPath, "task", e.task.TaskID, "error", err)
		e.logActivity("error", string(op.Type), fmt.Sprintf("%s: %v", op.RelPath, err))
		return
	}

	var sent, received int64
	switch op.Type {
	case OpUpload, OpConflict:
		if op.Local != nil {
			sent = op.Local.Size
		}
	case OpDownload:
		if op.Remote != nil {
			received = op.Remote.Size
		}
	}
	e.tracker.ActionDone(sent, received)
	slog.Info("sync", "op", op.Type, "path", op.RelPath, "task", e.task.TaskID)
}

func (e *Engine) logActivity(level, event, detail string) {
	activity := &Activity{
		TaskID:      e.task.TaskID,
		Level:       level,
		Event:       event,
		Detail:      detail,
		CreatedAtMS: e.clock.Now().UnixMilli(),
	}
	if err := e.store.AppendActivity(activity); err != nil {
		slog.Warn("failed to append activity", "error", err)
	}
}

// refreshBaseline records the observed converged state as the new baseline.
func (e *Engine) refreshBaseline(op *Operation) error {
	entry := &Entry{
		TaskID:            e.task.TaskID,
		LocalRelPath:      op.RelPath,
		RemoteURI:         op.Remote.URI,
		RemoteFileID:      op.Remote.FileID,
		LastLocalSize:     op.Local.Size,
		LastLocalMtimeMS:  op.Local.MtimeMS,
		LastLocalHash:     op.Local.Hash,
		LastRemoteSize:    op.Remote.Size,
		LastRemoteMtimeMS: op.Remote.MtimeMS,
		LastRemoteHash:    op.Remote.Hash,
		LastSyncTSMS:      e.clock.Now().UnixMilli(),
		State:             EntryStateOK,
	}
	return e.store.UpsertEntry(entry)
}

// cleanupEntry retires an entry whose deletion has propagated to both sides.
// The tombstone itself stays as durable history.
func (e *Engine) cleanupEntry(op *Operation) error {
	return e.store.DeleteEntry(e.task.TaskID, op.RelPath)
}
