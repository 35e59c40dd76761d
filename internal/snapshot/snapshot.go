// Package snapshot enumerates the regular files under a watched path along
// with the attributes the reconciliation engine compares between cycles.
package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// File is one regular file observed on disk.
type File struct {
	Path       string
	ModifiedAt time.Time
	Size       int64
}

// Snapshotter takes filesystem snapshots. It never fails: unreadable subtrees
// are logged and skipped, and a missing root yields an empty snapshot.
type Snapshotter struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New returns a Snapshotter over fsys. A nil fsys uses the OS filesystem.
func New(fsys afero.Fs, logger *slog.Logger) *Snapshotter {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Snapshotter{fs: fsys, logger: logger}
}

// Fs returns the filesystem this snapshotter reads.
func (s *Snapshotter) Fs() afero.Fs {
	return s.fs
}

// Take returns every regular file reachable from root. A regular-file root
// yields exactly that file. Symlinks to regular files are followed and
// reported under the link's path; symlinked directories below the root are
// not descended into. If ctx is canceled the files collected so far are
// returned.
func (s *Snapshotter) Take(ctx context.Context, root string) []File {
	root = filepath.Clean(root)

	info, err := s.fs.Stat(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cannot stat watched path",
				slog.String("path", root),
				slog.String("error", err.Error()),
			)
		}

		return []File{}
	}

	if info.Mode().IsRegular() {
		return []File{fileFrom(root, info)}
	}

	if !info.IsDir() {
		return []File{}
	}

	walkRoot := root
	if s.isSymlink(root) {
		// A trailing separator makes Lstat resolve the link, so the walk
		// descends into the target while reporting paths under root.
		walkRoot = root + string(filepath.Separator)
	}

	files := []File{}

	walkErr := afero.Walk(s.fs, walkRoot, func(path string, fi os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			s.logger.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			return nil
		}

		switch {
		case fi.IsDir():
			return nil
		case fi.Mode()&os.ModeSymlink != 0:
			if f, ok := s.followLink(path); ok {
				files = append(files, f)
			}

			return nil
		case fi.Mode().IsRegular():
			files = append(files, fileFrom(filepath.Clean(path), fi))
		}

		return nil
	})

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) && !errors.Is(walkErr, context.DeadlineExceeded) {
		s.logger.Warn("snapshot walk ended early",
			slog.String("path", root),
			slog.String("error", walkErr.Error()),
		)
	}

	return files
}

// followLink resolves a symlink found during the walk. Links to regular files
// are reported; links to directories and broken links are skipped.
func (s *Snapshotter) followLink(path string) (File, bool) {
	target, err := s.fs.Stat(path)
	if err != nil {
		s.logger.Warn("skipping broken symlink",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return File{}, false
	}

	if !target.Mode().IsRegular() {
		s.logger.Debug("not following symlink to non-regular file", slog.String("path", path))
		return File{}, false
	}

	return fileFrom(filepath.Clean(path), target), true
}

func (s *Snapshotter) isSymlink(path string) bool {
	lst, ok := s.fs.(afero.Lstater)
	if !ok {
		return false
	}

	fi, lstatCalled, err := lst.LstatIfPossible(path)

	return err == nil && lstatCalled && fi.Mode()&os.ModeSymlink != 0
}

func fileFrom(path string, fi os.FileInfo) File {
	return File{Path: path, ModifiedAt: fi.ModTime(), Size: fi.Size()}
}
