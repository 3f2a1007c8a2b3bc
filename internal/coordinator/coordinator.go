// Package coordinator serialises destructive storage operations against
// open recording and playback sessions.
//
// Every session touching the affected path is stopped before the storage
// operation starts. The catalog only changes after the storage operation
// succeeds.
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/media"
)

// ErrPartialDelete is returned when a directory delete stopped at a file that
// could not be removed. Files deleted before it stay deleted.
var ErrPartialDelete = errors.New("directory partially deleted")

// Session is an open recording or playback.
type Session interface {
	Active() bool
	Path() (dir, name string)
	Abort(reason string)
}

// Storage is the destructive side of the card.
type Storage interface {
	Mount() error
	Unmount()
	RemoveFile(dir, name string) error
	RemoveDirectory(dir string) error
	Format() error
	Scan() ([]media.DirEntry, error)
}

// Index is the catalog as seen by the coordinator.
type Index interface {
	Lookup(dir, name string) (dirIdx, fileIdx int, err error)
	LocateDirectory(name string) (int, error)
	NumFiles(dirIdx int) int
	FileName(dirIdx, fileIdx int) (string, error)
	DeleteFile(dirIdx, fileIdx int) error
	DeleteDirectory(dirIdx int) error
	Rebuild(s catalog.Scanner) error
	Clear()
	Invalidate()
}

// Coordinator owns no state besides its collaborators; it runs on the task
// that owns the catalog.
type Coordinator struct {
	storage  Storage
	index    Index
	sessions []Session
}

// New returns a Coordinator guarding the given sessions.
func New(storage Storage, index Index, sessions ...Session) *Coordinator {
	return &Coordinator{storage: storage, index: index, sessions: sessions}
}

func (c *Coordinator) stopMatching(reason string, match func(dir, name string) bool) {
	for _, s := range c.sessions {
		if !s.Active() {
			continue
		}
		dir, name := s.Path()
		if match(dir, name) {
			slog.Info("stopping session before storage change", "dir", dir, "file", name, "reason", reason)
			s.Abort(reason)
		}
	}
}

// DeleteFile removes dir/name from the card and the catalog. A directory left
// empty is removed too.
func (c *Coordinator) DeleteFile(dir, name string) error {
	if err := c.storage.Mount(); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	dirIdx, fileIdx, err := c.index.Lookup(dir, name)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	c.stopMatching("file deleted", func(d, n string) bool { return d == dir && n == name })

	if err := c.storage.RemoveFile(dir, name); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err := c.index.DeleteFile(dirIdx, fileIdx); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	if c.index.NumFiles(dirIdx) == 0 {
		c.removeEmptyDirectory(dir, dirIdx)
	}
	return nil
}

// DeleteDirectory removes every tracked file of dir in reverse order, then the
// directory itself. On the first file that cannot be removed it stops and
// returns ErrPartialDelete; the directory and its remaining files stay
// tracked.
func (c *Coordinator) DeleteDirectory(dir string) error {
	if err := c.storage.Mount(); err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}
	dirIdx, err := c.index.LocateDirectory(dir)
	if err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}

	c.stopMatching("directory deleted", func(d, _ string) bool { return d == dir })

	for i := c.index.NumFiles(dirIdx) - 1; i >= 0; i-- {
		name, err := c.index.FileName(dirIdx, i)
		if err != nil {
			return fmt.Errorf("delete directory: %w", err)
		}
		if err := c.storage.RemoveFile(dir, name); err != nil {
			slog.Warn("directory delete aborted", "dir", dir, "file", name, "remaining", i+1, "error", err)
			return fmt.Errorf("%w: %s/%s: %v", ErrPartialDelete, dir, name, err)
		}
		if err := c.index.DeleteFile(dirIdx, i); err != nil {
			return fmt.Errorf("delete directory: %w", err)
		}
	}

	c.removeEmptyDirectory(dir, dirIdx)
	return nil
}

// removeEmptyDirectory drops a directory that has no tracked files. Foreign
// files keep it on the card, in which case it stays tracked.
func (c *Coordinator) removeEmptyDirectory(dir string, dirIdx int) {
	if err := c.storage.RemoveDirectory(dir); err != nil {
		slog.Warn("directory kept", "dir", dir, "error", err)
		return
	}
	if err := c.index.DeleteDirectory(dirIdx); err != nil {
		slog.Warn("catalog directory delete failed", "dir", dir, "error", err)
	}
}

// Format stops every session and erases the card. On failure the catalog is
// rebuilt from whatever remains.
func (c *Coordinator) Format() error {
	if err := c.storage.Mount(); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	c.stopMatching("media formatted", func(string, string) bool { return true })

	if err := c.storage.Format(); err != nil {
		if rerr := c.index.Rebuild(c.storage); rerr != nil {
			slog.Error("catalog rebuild after failed format", "error", rerr)
			c.index.Invalidate()
		}
		return fmt.Errorf("format: %w", err)
	}
	c.index.Clear()
	return nil
}

// MediaRemoved aborts every session and invalidates the catalog.
func (c *Coordinator) MediaRemoved() {
	c.stopMatching("media removed", func(string, string) bool { return true })
	c.index.Invalidate()
	c.storage.Unmount()
	slog.Warn("media removed, catalog invalidated")
}
