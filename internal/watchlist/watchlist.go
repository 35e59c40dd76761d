// Package watchlist holds the user-declared set of filesystem paths that the
// reconciliation engine keeps registered with the remote registry. The list
// is persisted as a JSON document; every mutation is written to disk before
// it returns.
package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// FilePerms restricts the watch list to owner read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// formatVersion is written into every saved document.
const formatVersion = 1

var (
	// ErrDuplicateWatch is returned by Add when the path is already watched.
	ErrDuplicateWatch = errors.New("watchlist: path is already watched")
	// ErrNotWatched is returned by Remove when the path is not in the list.
	ErrNotWatched = errors.New("watchlist: path is not watched")
)

// WatchEntry is one watched path.
type WatchEntry struct {
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
}

// document is the on-disk format.
type document struct {
	Version int          `json:"version"`
	Entries []WatchEntry `json:"entries"`
}

// Registry is the persisted, insertion-ordered watch list. Safe for
// concurrent use within one process. Other processes observe changes only
// through the file (see Reload).
type Registry struct {
	path    string
	mu      sync.RWMutex
	entries []WatchEntry
	nowFunc func() time.Time
}

// Load reads the watch list at path. A missing file yields an empty list.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, nowFunc: time.Now}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}

	if err != nil {
		return nil, fmt.Errorf("watchlist: reading %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("watchlist: decoding %s: %w", path, err)
	}

	if doc.Version > formatVersion {
		return nil, fmt.Errorf("watchlist: %s has unsupported version %d", path, doc.Version)
	}

	seen := make(map[string]bool, len(doc.Entries))

	for _, e := range doc.Entries {
		if e.Path == "" || seen[e.Path] {
			continue
		}

		seen[e.Path] = true
		r.entries = append(r.entries, e)
	}

	return r, nil
}

// Reload re-reads the backing file, replacing the in-memory list. The daemon
// calls it at the start of every cycle so that 'watch add' and 'watch remove'
// run from another process take effect without a restart.
func (r *Registry) Reload() error {
	fresh, err := Load(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.entries = fresh.entries
	r.mu.Unlock()

	return nil
}

// Path returns the file backing this registry.
func (r *Registry) Path() string {
	return r.path
}

// Add appends path to the list and persists. The path is normalized first;
// the normalized form is returned.
func (r *Registry) Add(path string) (WatchEntry, error) {
	abs, err := Normalize(path)
	if err != nil {
		return WatchEntry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(abs) >= 0 {
		return WatchEntry{}, fmt.Errorf("%w: %s", ErrDuplicateWatch, abs)
	}

	entry := WatchEntry{Path: abs, AddedAt: r.nowFunc().UTC()}
	next := append(slices.Clone(r.entries), entry)

	if err := r.saveLocked(next); err != nil {
		return WatchEntry{}, err
	}

	r.entries = next

	return entry, nil
}

// Remove deletes path from the list and persists.
func (r *Registry) Remove(path string) error {
	abs, err := Normalize(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(abs)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotWatched, abs)
	}

	next := slices.Delete(slices.Clone(r.entries), i, i+1)

	if err := r.saveLocked(next); err != nil {
		return err
	}

	r.entries = next

	return nil
}

// Clear empties the list and persists. It returns the number of entries
// removed.
func (r *Registry) Clear() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)

	if err := r.saveLocked(nil); err != nil {
		return 0, err
	}

	r.entries = nil

	return n, nil
}

// List returns a copy of the entries in insertion order.
func (r *Registry) List() []WatchEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.entries)
}

// Contains reports whether path (after normalization) is watched.
func (r *Registry) Contains(path string) bool {
	abs, err := Normalize(path)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.indexLocked(abs) >= 0
}

// Len returns the number of watched paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) indexLocked(abs string) int {
	return slices.IndexFunc(r.entries, func(e WatchEntry) bool { return e.Path == abs })
}

// Normalize expands a leading "~" and returns the cleaned absolute path.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New("watchlist: empty path")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("watchlist: expanding %s: %w", path, err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("watchlist: resolving %s: %w", path, err)
	}

	return filepath.Clean(abs), nil
}

// saveLocked writes entries atomically (temp file + rename).
func (r *Registry) saveLocked(entries []WatchEntry) error {
	if entries == nil {
		entries = []WatchEntry{}
	}

	data, err := json.MarshalIndent(document{Version: formatVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("watchlist: encoding: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("watchlist: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".watchlist-*.tmp")
	if err != nil {
		return fmt.Errorf("watchlist: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("watchlist: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("watchlist: writing: %w", err)
	}

	// Flush before rename so a crash cannot leave a truncated list behind.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("watchlist: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("watchlist: closing: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("watchlist: renaming: %w", err)
	}

	success = true

	return nil
}
