package sync

import (
	stdsync "sync"
	"time"
)

// TaskState is the lifecycle state of one task.
type TaskState string

const (
	StateIdle          TaskState = "idle"
	StateListingRemote TaskState = "listing_remote"
	StateHashing       TaskState = "hashing"
	StateSyncing       TaskState = "syncing"
	StatePaused        TaskState = "paused"
	StateError         TaskState = "error"
)

// Progress counts planned actions through their lifecycle within one cycle.
type Progress struct {
	Queued        int   `json:"queued"`
	InFlight      int   `json:"in_flight"`
	Completed     int   `json:"completed"`
	Failed        int   `json:"failed"`
	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`
}

// StatusSnapshot is one advisory observation of a task. The store remains
// authoritative; snapshots exist for observers and may be dropped.
type StatusSnapshot struct {
	TaskID       string    `json:"task_id"`
	State        TaskState `json:"state"`
	HasConflicts bool      `json:"has_conflicts"`
	Progress     Progress  `json:"progress"`
	LastError    string    `json:"last_error,omitempty"`
	LastSyncMS   int64     `json:"last_sync_ms"`
	UpdatedAtMS  int64     `json:"updated_at_ms"`
}

// StatusTracker holds a task's live status and fans snapshots out to
// subscribers. Publishing never blocks; a slow subscriber misses updates
// instead of stalling the engine.
type StatusTracker struct {
	mu          stdsync.Mutex
	snapshot    StatusSnapshot
	subscribers map[int]chan StatusSnapshot
	nextSubID   int
}

func NewStatusTracker(taskID string) *StatusTracker {
	return &StatusTracker{
		snapshot:    StatusSnapshot{TaskID: taskID, State: StateIdle},
		subscribers: make(map[int]chan StatusSnapshot),
	}
}

func (t *StatusTracker) Snapshot() StatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Subscribe returns a snapshot channel and its cancel function. The channel
// is buffered; updates arriving while it is full are dropped.
func (t *StatusTracker) Subscribe() (<-chan StatusSnapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	ch := make(chan StatusSnapshot, 16)
	t.subscribers[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if ch, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (t *StatusTracker) SetState(state TaskState) {
	t.update(func(s *StatusSnapshot) {
		s.State = state
		if state != StateError {
			s.LastError = ""
		}
	})
}

func (t *StatusTracker) SetError(err error) {
	t.update(func(s *StatusSnapshot) {
		s.State = StateError
		s.LastError = err.Error()
	})
}

func (t *StatusTracker) SetConflicts(present bool) {
	t.update(func(s *StatusSnapshot) { s.HasConflicts = present })
}

func (t *StatusTracker) CycleStarted(queued int) {
	t.update(func(s *StatusSnapshot) {
		s.Progress = Progress{Queued: queued}
	})
}

func (t *StatusTracker) ActionStarted() {
	t.update(func(s *StatusSnapshot) {
		s.Progress.Queued--
		s.Progress.InFlight++
	})
}

func (t *StatusTracker) ActionDone(sent, received int64) {
	t.update(func(s *StatusSnapshot) {
		s.Progress.InFlight--
		s.Progress.Completed++
		s.Progress.BytesSent += sent
		s.Progress.BytesReceived += received
	})
}

func (t *StatusTracker) ActionFailed() {
	t.update(func(s *StatusSnapshot) {
		s.Progress.InFlight--
		s.Progress.Failed++
	})
}

func (t *StatusTracker) CycleFinished(at time.Time) {
	t.update(func(s *StatusSnapshot) { s.LastSyncMS = at.UnixMilli() })
}

func (t *StatusTracker) update(apply func(*StatusSnapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	apply(&t.snapshot)
	t.snapshot.UpdatedAtMS = time.Now().UnixMilli()

	for _, ch := range t.subscribers {
		select {
		case ch <- t.snapshot:
		default:
		}
	}
}
