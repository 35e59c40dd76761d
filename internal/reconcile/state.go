package reconcile

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// FileState is the engine's belief about one file currently registered with
// the remote registry on behalf of this device.
type FileState struct {
	Path       string
	Root       string // watch entry that produced this file
	ModifiedAt time.Time
	Size       int64
}

// sameVersion reports whether two observations describe the same version of
// a file: equal modification time and equal size. Content is not compared.
func sameVersion(a FileState, modifiedAt time.Time, size int64) bool {
	return a.Size == size && a.ModifiedAt.Equal(modifiedAt)
}

// stateMap is the mutex-guarded FileState cache. It is process-local and
// never persisted; after a restart the first cycle re-registers everything.
type stateMap struct {
	mu      sync.Mutex
	entries map[string]FileState
}

func newStateMap() *stateMap {
	return &stateMap{entries: make(map[string]FileState)}
}

func (m *stateMap) set(fs FileState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[fs.Path] = fs
}

func (m *stateMap) remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, path)
}

// retag moves an entry to a different owning root without touching its
// version attributes.
func (m *stateMap) retag(path, root string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fs, ok := m.entries[path]; ok {
		fs.Root = root
		m.entries[path] = fs
	}
}

// snapshot returns a copy of all entries sorted by path.
func (m *stateMap) snapshot() []FileState {
	m.mu.Lock()
	out := make([]FileState, 0, len(m.entries))

	for _, fs := range m.entries {
		out = append(out, fs)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b FileState) int { return strings.Compare(a.Path, b.Path) })

	return out
}
