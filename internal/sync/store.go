package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/skysyncd/skysync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    base_url TEXT NOT NULL,
    local_root TEXT NOT NULL,
    remote_root_uri TEXT NOT NULL,
    device_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    interval_secs INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
    task_id TEXT NOT NULL,
    local_relpath TEXT NOT NULL,
    remote_file_id TEXT NOT NULL,
    remote_uri TEXT NOT NULL,
    last_local_size INTEGER NOT NULL,
    last_local_mtime_ms INTEGER NOT NULL,
    last_local_hash TEXT NOT NULL,
    last_remote_size INTEGER NOT NULL,
    last_remote_mtime_ms INTEGER NOT NULL,
    last_remote_hash TEXT NOT NULL,
    last_sync_ts_ms INTEGER NOT NULL,
    state TEXT NOT NULL,
    PRIMARY KEY (task_id, local_relpath)
);

CREATE TABLE IF NOT EXISTS tombstones (
    task_id TEXT NOT NULL,
    remote_file_id TEXT NOT NULL,
    local_relpath TEXT NOT NULL,
    deleted_at_ms INTEGER NOT NULL,
    origin TEXT NOT NULL,
    PRIMARY KEY (task_id, local_relpath)
);

CREATE TABLE IF NOT EXISTS conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    original_relpath TEXT NOT NULL,
    conflict_relpath TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    level TEXT NOT NULL,
    event TEXT NOT NULL,
    detail TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_task ON entries(task_id);
CREATE INDEX IF NOT EXISTS idx_tombstones_task ON tombstones(task_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_task ON conflicts(task_id);
CREATE INDEX IF NOT EXISTS idx_activity_task ON activity(task_id, created_at_ms);
`

// Entry lifecycle states.
const (
	EntryStateOK         = "ok"
	EntryStateConflicted = "conflicted"
	EntryStateDeleted    = "deleted"
)

// Tombstone origins.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Task is one configured sync pair: a local root and a remote root URI.
type Task struct {
	TaskID        string `db:"task_id" json:"task_id"`
	BaseURL       string `db:"base_url" json:"base_url"`
	LocalRoot     string `db:"local_root" json:"local_root"`
	RemoteRootURI string `db:"remote_root_uri" json:"remote_root_uri"`
	DeviceID      string `db:"device_id" json:"device_id"`
	Mode          string `db:"mode" json:"mode"`
	IntervalSecs  int    `db:"interval_secs" json:"interval_secs"`
	CreatedAtMS   int64  `db:"created_at_ms" json:"created_at_ms"`
}

// Entry is the per-path baseline: the last state confirmed on both sides.
// The last_* fields are only ever written together from a completed transfer,
// never from a one-sided observation.
type Entry struct {
	TaskID            string `db:"task_id" json:"task_id"`
	LocalRelPath      string `db:"local_relpath" json:"local_relpath"`
	RemoteFileID      string `db:"remote_file_id" json:"remote_file_id"`
	RemoteURI         string `db:"remote_uri" json:"remote_uri"`
	LastLocalSize     int64  `db:"last_local_size" json:"last_local_size"`
	LastLocalMtimeMS  int64  `db:"last_local_mtime_ms" json:"last_local_mtime_ms"`
	LastLocalHash     string `db:"last_local_hash" json:"last_local_hash"`
	LastRemoteSize    int64  `db:"last_remote_size" json:"last_remote_size"`
	LastRemoteMtimeMS int64  `db:"last_remote_mtime_ms" json:"last_remote_mtime_ms"`
	LastRemoteHash    string `db:"last_remote_hash" json:"last_remote_hash"`
	LastSyncTSMS      int64  `db:"last_sync_ts_ms" json:"last_sync_ts_ms"`
	State             string `db:"state" json:"state"`
}

// Tombstone records a confirmed deletion so a stale copy on the other side
// is recognized as deleted rather than new.
type Tombstone struct {
	TaskID       string `db:"task_id" json:"task_id"`
	RemoteFileID string `db:"remote_file_id" json:"remote_file_id"`
	LocalRelPath string `db:"local_relpath" json:"local_relpath"`
	DeletedAtMS  int64  `db:"deleted_at_ms" json:"deleted_at_ms"`
	Origin       string `db:"origin" json:"origin"`
}

// Conflict is one append-only record of a dual-retention event.
type Conflict struct {
	ID              int64  `db:"id" json:"id"`
	TaskID          string `db:"task_id" json:"task_id"`
	OriginalRelPath string `db:"original_relpath" json:"original_relpath"`
	ConflictRelPath string `db:"conflict_relpath" json:"conflict_relpath"`
	CreatedAtMS     int64  `db:"created_at_ms" json:"created_at_ms"`
	Reason          string `db:"reason" json:"reason"`
}

// Activity is one durable log event tied to a task.
type Activity struct {
	ID          int64  `db:"id" json:"id"`
	TaskID      string `db:"task_id" json:"task_id"`
	Level       string `db:"level" json:"level"`
	Event       string `db:"event" json:"event"`
	Detail      string `db:"detail" json:"detail"`
	CreatedAtMS int64  `db:"created_at_ms" json:"created_at_ms"`
}

// Store is the durable metadata store shared by all tasks. Every write is a
// single-statement transaction scoped to one logical path, so concurrent
// workers only contend on sqlite's own locking.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

// NewStore creates a store handle; Open must be called before use.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Open connects to the database and applies the schema.
func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("store already open")
	}

	database, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return fmt.Errorf("initialize store schema: %w", err)
	}

	s.db = database
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("store not open")
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ---- tasks ----

func (s *Store) CreateTask(task *Task) error {
	_, err := s.db.NamedExec(`INSERT INTO tasks
		(task_id, base_url, local_root, remote_root_uri, device_id, mode, interval_secs, created_at_ms)
		VALUES (:task_id, :base_url, :local_root, :remote_root_uri, :device_id, :mode, :interval_secs, :created_at_ms)`, task)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *Store) GetTask(taskID string) (*Task, error) {
	var task Task
	err := s.db.Get(&task, "SELECT * FROM tasks WHERE task_id = ?", taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *Store) ListTasks() ([]*Task, error) {
	var tasks []*Task
	if err := s.db.Select(&tasks, "SELECT * FROM tasks ORDER BY created_at_ms DESC"); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTask removes a task and every record scoped to it.
func (s *Store) DeleteTask(taskID string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "tombstones", "conflicts", "activity", "tasks"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE task_id = ?", taskID); err != nil {
			return fmt.Errorf("delete task %s from %s: %w", taskID, table, err)
		}
	}
	return tx.Commit()
}

// ---- entries ----

func (s *Store) UpsertEntry(entry *Entry) error {
	_, err := s.db.NamedExec(`INSERT INTO entries
		(task_id, local_relpath, remote_file_id, remote_uri,
		 last_local_size, last_local_mtime_ms, last_local_hash,
		 last_remote_size, last_remote_mtime_ms, last_remote_hash,
		 last_sync_ts_ms, state)
		VALUES (:task_id, :local_relpath, :remote_file_id, :remote_uri,
		 :last_local_size, :last_local_mtime_ms, :last_local_hash,
		 :last_remote_size, :last_remote_mtime_ms, :last_remote_hash,
		 :last_sync_ts_ms, :state)
		ON CONFLICT(task_id, local_relpath) DO UPDATE SET
		 remote_file_id=excluded.remote_file_id,
		 remote_uri=excluded.remote_uri,
		 last_local_size=excluded.last_local_size,
		 last_local_mtime_ms=excluded.last_local_mtime_ms,
		 last_local_hash=excluded.last_local_hash,
		 last_remote_size=excluded.last_remote_size,
		 last_remote_mtime_ms=excluded.last_remote_mtime_ms,
		 last_remote_hash=excluded.last_remote_hash,
		 last_sync_ts_ms=excluded.last_sync_ts_ms,
		 state=excluded.state`, entry)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", entry.LocalRelPath, err)
	}
	return nil
}

func (s *Store) GetEntry(taskID, relPath string) (*Entry, error) {
	var entry Entry
	err := s.db.Get(&entry, "SELECT * FROM entries WHERE task_id = ? AND local_relpath = ?", taskID, relPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", relPath, err)
	}
	return &entry, nil
}

// EntriesByPath returns every entry of a task keyed by relative path.
func (s *Store) EntriesByPath(taskID string) (map[string]*Entry, error) {
	var entries []*Entry
	if err := s.db.Select(&entries, "SELECT * FROM entries WHERE task_id = ?", taskID); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	byPath := make(map[string]*Entry, len(entries))
	for _, entry := range entries {
		byPath[entry.LocalRelPath] = entry
	}
	return byPath, nil
}

func (s *Store) DeleteEntry(taskID, relPath string) error {
	if _, err := s.db.Exec("DELETE FROM entries WHERE task_id = ? AND local_relpath = ?", taskID, relPath); err != nil {
		return fmt.Errorf("delete entry %s: %w", relPath, err)
	}
	return nil
}

// ---- tombstones ----

func (s *Store) UpsertTombstone(tombstone *Tombstone) error {
	_, err := s.db.NamedExec(`INSERT INTO tombstones
		(task_id, remote_file_id, local_relpath, deleted_at_ms, origin)
		VALUES (:task_id, :remote_file_id, :local_relpath, :deleted_at_ms, :origin)
		ON CONFLICT(task_id, local_relpath) DO UPDATE SET
		 remote_file_id=excluded.remote_file_id,
		 deleted_at_ms=excluded.deleted_at_ms,
		 origin=excluded.origin`, tombstone)
	if err != nil {
		return fmt.Errorf("upsert tombstone %s: %w", tombstone.LocalRelPath, err)
	}
	return nil
}

func (s *Store) TombstonesByPath(taskID string) (map[string]*Tombstone, error) {
	var tombstones []*Tombstone
	if err := s.db.Select(&tombstones, "SELECT * FROM tombstones WHERE task_id = ?", taskID); err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	byPath := make(map[string]*Tombstone, len(tombstones))
	for _, tombstone := range tombstones {
		byPath[tombstone.LocalRelPath] = tombstone
	}
	return byPath, nil
}

func (s *Store) DeleteTombstone(taskID, relPath string) error {
	if _, err := s.db.Exec("DELETE FROM tombstones WHERE task_id = ? AND local_relpath = ?", taskID, relPath); err != nil {
		return fmt.Errorf("delete tombstone %s: %w", relPath, err)
	}
	return nil
}

// ---- conflicts ----

// AppendConflict records a conflict. Records are append-only history; nothing
// ever updates one in place.
func (s *Store) AppendConflict(conflict *Conflict) error {
	_, err := s.db.NamedExec(`INSERT INTO conflicts
		(task_id, original_relpath, conflict_relpath, created_at_ms, reason)
		VALUES (:task_id, :original_relpath, :conflict_relpath, :created_at_ms, :reason)`, conflict)
	if err != nil {
		return fmt.Errorf("append conflict %s: %w", conflict.OriginalRelPath, err)
	}
	return nil
}

func (s *Store) ListConflicts(taskID string) ([]*Conflict, error) {
	var conflicts []*Conflict
	var err error
	if taskID == "" {
		err = s.db.Select(&conflicts, "SELECT * FROM conflicts ORDER BY created_at_ms DESC")
	} else {
		err = s.db.Select(&conflicts, "SELECT * FROM conflicts WHERE task_id = ? ORDER BY created_at_ms DESC", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict removes a conflict record once the operator has dealt with
// the copy. The conflict-copy file itself is a normal entry and stays. When
// the last record for the original path goes, its entry leaves the
// conflicted state.
func (s *Store) ResolveConflict(taskID string, conflictID int64) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
	}
	defer tx.Rollback()

	var conflict Conflict
	err = tx.Get(&conflict, "SELECT * FROM conflicts WHERE task_id = ? AND id = ?", taskID, conflictID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conflict %d not found", conflictID)
	}
	if err != nil {
		return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
	}

	if _, err := tx.Exec("DELETE FROM conflicts WHERE task_id = ? AND id = ?", taskID, conflictID); err != nil {
		return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
	}

	var remaining int
	if err := tx.Get(&remaining, "SELECT COUNT(*) FROM conflicts WHERE task_id = ? AND original_relpath = ?",
		taskID, conflict.OriginalRelPath); err != nil {
		return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
	}
	if remaining == 0 {
		if _, err := tx.Exec("UPDATE entries SET state = ? WHERE task_id = ? AND local_relpath = ? AND state = ?",
			EntryStateOK, taskID, conflict.OriginalRelPath, EntryStateConflicted); err != nil {
			return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CountConflicts(taskID string) (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM conflicts WHERE task_id = ?", taskID); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return count, nil
}

// ---- activity ----

func (s *Store) AppendActivity(activity *Activity) error {
	if activity.CreatedAtMS == 0 {
		activity.CreatedAtMS = time.Now().UnixMilli()
	}
	_, err := s.db.NamedExec(`INSERT INTO activity
		(task_id, level, event, detail, created_at_ms)
		VALUES (:task_id, :level, :event, :detail, :created_at_ms)`, activity)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest events first, optionally filtered by task
// and level.
func (s *Store) ListActivity(taskID, level string, limit, offset int) ([]*Activity, error) {
	query := "SELECT * FROM activity"
	var filters []string
	var args []any
	if taskID != "" {
		filters = append(filters, "task_id = ?")
		args = append(args, taskID)
	}
	if level != "" {
		filters = append(filters, "level = ?")
		args = append(args, level)
	}
	for i, filter := range filters {
		if i == 0 {
			query += " WHERE " + filter
		} else {
			query += " AND " + filter
		}
	}
	query += " ORDER BY created_at_ms DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	var activities []*Activity
	if err := s.db.Select(&activities, query, args...); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return activities, nil
}
