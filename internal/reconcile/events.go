package reconcile

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/tonimelisma/tower/internal/watchlist"
)

// DefaultDebounce is the quiet period after the last filesystem event before
// an on-demand cycle is requested.
const DefaultDebounce = 2 * time.Second

// EventTriggerConfig holds the options for NewEventTrigger.
type EventTriggerConfig struct {
	Trigger  func()        // called once per burst of events, typically Scheduler.Trigger
	Debounce time.Duration // <= 0 uses DefaultDebounce
	Fs       afero.Fs      // used to enumerate directories; nil uses the OS filesystem
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// EventTrigger watches every directory under the watch roots with fsnotify
// and requests a cycle once activity settles. It only shortens the time until
// the next cycle; the periodic schedule still catches anything it misses
// (e.g. when the inotify watch limit is reached).
type EventTrigger struct {
	watcher  *fsnotify.Watcher
	trigger  func()
	debounce time.Duration
	fs       afero.Fs
	clock    clockwork.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[string]bool
	closed  bool // set once Run has closed the watcher
}

// NewEventTrigger creates the underlying fsnotify watcher. Call Sync to
// register directories and Run to start delivering triggers.
func NewEventTrigger(cfg *EventTriggerConfig) (*EventTrigger, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EventTrigger{
		watcher:  w,
		trigger:  cfg.Trigger,
		debounce: debounce,
		fs:       fsys,
		clock:    clock,
		logger:   logger,
		watched:  make(map[string]bool),
	}, nil
}

// Sync makes the watched directory set match entries: every directory below
// a directory root, and the parent of a file root (so that replacing or
// re-creating the file is noticed). Roots that do not exist yet are covered
// through their parent when it exists.
func (t *EventTrigger) Sync(entries []watchlist.WatchEntry) {
	want := make(map[string]bool)

	for _, e := range entries {
		for _, dir := range t.dirsFor(e.Path) {
			want[dir] = true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	for dir := range t.watched {
		if want[dir] {
			continue
		}

		// The directory may already be gone; fsnotify dropped it then.
		_ = t.watcher.Remove(dir)
		delete(t.watched, dir)
	}

	for dir := range want {
		if t.watched[dir] {
			continue
		}

		t.addLocked(dir)
	}
}

// Watched returns the number of directories currently watched.
func (t *EventTrigger) Watched() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.watched)
}

func (t *EventTrigger) addLocked(dir string) {
	if err := t.watcher.Add(dir); err != nil {
		t.logger.Warn("cannot watch directory for changes",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)

		return
	}

	t.watched[dir] = true
}

func (t *EventTrigger) dirsFor(root string) []string {
	info, err := t.fs.Stat(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		if parent, perr := t.fs.Stat(filepath.Dir(root)); perr == nil && parent.IsDir() {
			return []string{filepath.Dir(root)}
		}

		return nil
	}

	if !info.IsDir() {
		return []string{filepath.Dir(root)}
	}

	dirs := []string{root}

	_ = afero.Walk(t.fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || path == root {
			return nil
		}

		if fi.IsDir() {
			dirs = append(dirs, path)
		}

		return nil
	})

	return dirs
}

// Run delivers debounced triggers until ctx is canceled, then closes the
// watcher.
func (t *EventTrigger) Run(ctx context.Context) {
	defer t.close()

	var (
		timer  clockwork.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			if ev.Has(fsnotify.Create) {
				t.watchNewDir(ev.Name)
			}

			if timer == nil {
				timer = t.clock.NewTimer(t.debounce)
			} else {
				timer.Reset(t.debounce)
			}

			timerC = timer.Chan()

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}

			t.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil

			t.logger.Debug("filesystem activity settled, requesting cycle")
			t.trigger()
		}
	}
}

// close stops the watcher. Later Sync calls are no-ops.
func (t *EventTrigger) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.watched = make(map[string]bool)

	if err := t.watcher.Close(); err != nil {
		t.logger.Debug("closing filesystem watcher", slog.String("error", err.Error()))
	}
}

// watchNewDir starts watching a directory created under a watched one.
// fsnotify is not recursive.
func (t *EventTrigger) watchNewDir(path string) {
	lst, ok := t.fs.(afero.Lstater)
	if !ok {
		return
	}

	fi, _, err := lst.LstatIfPossible(path)
	if err != nil || !fi.IsDir() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed && !t.watched[path] {
		t.addLocked(path)
	}
}
