package sync

import (
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	watcherBufferSize     = 64
	defaultQuietInterval  = 500 * time.Millisecond
	partialWriteSuffixLen = len(".skysync-part")
)

// Watcher turns raw filesystem events under a task root into a coalesced
// trigger signal. The engine rescans the whole tree per cycle, so per-path
// event detail is irrelevant; a burst of writes collapses into one trigger
// after a quiet interval.
type Watcher struct {
	rootDir   string
	quiet     time.Duration
	rawEvents chan notify.EventInfo
	triggers  chan struct{}
	filter    func(path string) bool

	mu    stdsync.Mutex
	timer *time.Timer
	done  chan struct{}
	wg    stdsync.WaitGroup
}

// NewWatcher creates a watcher for rootDir. filter returns true for absolute
// paths whose events should be dropped; nil disables filtering.
func NewWatcher(rootDir string, filter func(path string) bool) *Watcher {
	return &Watcher{
		rootDir:  rootDir,
		quiet:    defaultQuietInterval,
		triggers: make(chan struct{}, 1),
		filter:   filter,
		done:     make(chan struct{}),
	}
}

func (w *Watcher) SetQuietInterval(quiet time.Duration) {
	w.quiet = quiet
}

func (w *Watcher) Start() error {
	w.rawEvents = make(chan notify.EventInfo, watcherBufferSize)
	if err := notify.Watch(w.rootDir+"/...", w.rawEvents, notify.Write, notify.Remove, notify.Rename, notify.Create); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()
	slog.Debug("watcher started", "dir", w.rootDir)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	notify.Stop(w.rawEvents)
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// Triggers delivers at most one pending trigger; an undelivered trigger
// absorbs later ones.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			path := event.Path()
			if len(path) >= partialWriteSuffixLen && path[len(path)-partialWriteSuffixLen:] == ".skysync-part" {
				continue
			}
			if w.filter != nil && w.filter(path) {
				continue
			}
			w.arm()
		}
	}
}

// arm restarts the quiet timer; the trigger fires once events stop arriving.
func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.quiet, func() {
		select {
		case w.triggers <- struct{}{}:
		default:
		}
	})
}
