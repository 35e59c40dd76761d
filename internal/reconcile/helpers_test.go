package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tower/internal/config"
	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/snapshot"
	"github.com/tonimelisma/tower/internal/watchlist"
)

var testDevice = config.DeviceConfig{Name: "laptop", IP: "192.168.1.20", User: "alice"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, r.Clone())

	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0

	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}

	return n
}

// fakeRegistry records every remote call and lets tests inject failures.
type fakeRegistry struct {
	mu        sync.Mutex
	healthy   bool
	registers []registry.FileMetadata
	deletes   []string
	failPaths map[string]error // Register/DeleteByPath fail for these paths

	// onCall runs at the start of every Register and DeleteByPath.
	onCall func()

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{healthy: true, failPaths: make(map[string]error)}
}

func (f *fakeRegistry) HealthCheck(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.healthy
}

func (f *fakeRegistry) setHealthy(v bool) {
	f.mu.Lock()
	f.healthy = v
	f.mu.Unlock()
}

func (f *fakeRegistry) setFailure(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.failPaths, path)
		return
	}

	f.failPaths[path] = err
}

func (f *fakeRegistry) enter() func() {
	n := f.inFlight.Add(1)

	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.onCall != nil {
		f.onCall()
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	return func() { f.inFlight.Add(-1) }
}

func (f *fakeRegistry) Register(_ context.Context, md *registry.FileMetadata) (*registry.RegisterResult, error) {
	defer f.enter()()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.registers = append(f.registers, *md)

	if err := f.failPaths[md.AbsolutePath]; err != nil {
		return nil, err
	}

	return &registry.RegisterResult{ID: int64(len(f.registers)), FileName: md.FileName, Action: registry.ActionCreated}, nil
}

func (f *fakeRegistry) DeleteByPath(_ context.Context, absPath, device string) (int, error) {
	defer f.enter()()

	f.mu.Lock()
	defer f.mu.Unlock()

	if device != testDevice.Name {
		return 0, errors.New("wrong device")
	}

	f.deletes = append(f.deletes, absPath)

	if err := f.failPaths[absPath]; err != nil {
		return 0, err
	}

	return 1, nil
}

// drain returns the paths of the recorded calls and resets them.
func (f *fakeRegistry) drain() (registered, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, md := range f.registers {
		registered = append(registered, md.AbsolutePath)
	}

	deleted = append(deleted, f.deletes...)
	f.registers, f.deletes = nil, nil

	return registered, deleted
}

// fakeWatches is an in-memory WatchList.
type fakeWatches struct {
	mu        sync.Mutex
	entries   []watchlist.WatchEntry
	reloadErr error
}

func (w *fakeWatches) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.reloadErr
}

func (w *fakeWatches) List() []watchlist.WatchEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]watchlist.WatchEntry(nil), w.entries...)
}

func (w *fakeWatches) add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, watchlist.WatchEntry{Path: path, AddedAt: time.Now()})
}

func (w *fakeWatches) remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if e.Path == path {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			return
		}
	}
}

// testEnv wires an engine to in-memory fakes.
type testEnv struct {
	fs      afero.Fs
	reg     *fakeRegistry
	watches *fakeWatches
	engine  *Engine
	logs    *recordingHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		fs:      afero.NewMemMapFs(),
		reg:     newFakeRegistry(),
		watches: &fakeWatches{},
		logs:    &recordingHandler{},
	}

	env.engine = NewEngine(&EngineConfig{
		Registry:    env.reg,
		Watches:     env.watches,
		Snapshotter: snapshot.New(env.fs, testLogger()),
		Device:      testDevice,
		Concurrency: 4,
		Logger:      slog.New(env.logs),
	})

	return env
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func (env *testEnv) writeFile(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()

	require.NoError(t, env.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(env.fs, path, make([]byte, size), 0o644))
	require.NoError(t, env.fs.Chtimes(path, mtime, mtime))
}

func (env *testEnv) cycle(t *testing.T) *CycleReport {
	t.Helper()

	report, err := env.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	return report
}

func statePaths(states []FileState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.Path
	}

	return out
}
