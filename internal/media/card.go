// Package media manages the removable card: mounting, tracked naming,
// presence polling and the file operations the core performs on it.
//
// The card is modelled as a host directory. Every operation is issued by the
// single task that owns the catalog; Card itself only guards its mount flag.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrNoMedia is returned when the card is absent.
	ErrNoMedia = errors.New("no media present")
	// ErrNotMounted is returned for file operations on an unmounted card.
	ErrNotMounted = errors.New("media not mounted")
	// ErrInvalidName is returned for names outside the tracked pattern.
	ErrInvalidName = errors.New("invalid media name")
)

// File is an open file for reading.
type File interface {
	io.Reader
	io.ReaderAt
	io.Closer
	Size() int64
}

// DirEntry is one tracked directory found by Scan.
type DirEntry struct {
	Name  string
	Files []string
}

// Card is a removable card rooted at a host directory.
type Card struct {
	root string

	mu      sync.RWMutex
	mounted bool
}

// NewCard returns a Card rooted at root. Nothing is touched until Mount.
func NewCard(root string) *Card {
	return &Card{root: root}
}

// Root returns the host directory of the card.
func (c *Card) Root() string {
	return c.root
}

// Present reports whether the card is inserted.
func (c *Card) Present() bool {
	info, err := os.Stat(c.root)
	return err == nil && info.IsDir()
}

// Mount makes the card usable. Mounting a mounted card is a no-op.
func (c *Card) Mount() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return nil
	}
	if !c.Present() {
		return ErrNoMedia
	}
	c.mounted = true
	slog.Info("media mounted", "root", c.root)
	return nil
}

// Unmount marks the card unusable.
func (c *Card) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		c.mounted = false
		slog.Info("media unmounted", "root", c.root)
	}
}

// Mounted reports whether the card is mounted.
func (c *Card) Mounted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mounted
}

func (c *Card) ready() error {
	if !c.Mounted() {
		return ErrNotMounted
	}
	return nil
}

// CreateDirectory creates a tracked directory. It is idempotent: created is
// false when the directory already existed.
func (c *Card) CreateDirectory(name string) (created bool, err error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	if !ValidDirName(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(c.root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create directory %s: %w", name, err)
	}
	slog.Debug("directory created", "dir", name)
	return true, nil
}

// Create opens dir/name for writing, truncating an existing file.
func (c *Card) Create(dir, name string) (io.WriteCloser, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(c.root, dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s for writing: %w", dir, name, err)
	}
	return f, nil
}

type readFile struct {
	*os.File
	size int64
}

func (f *readFile) Size() int64 { return f.size }

// Open opens dir/name for reading.
func (c *Card) Open(dir, name string) (File, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(c.root, dir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", dir, name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s/%s: %w", dir, name, err)
	}
	return &readFile{File: f, size: info.Size()}, nil
}

// RemoveFile deletes dir/name.
func (c *Card) RemoveFile(dir, name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(c.root, dir, name)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", dir, name, err)
	}
	slog.Info("file deleted", "dir", dir, "file", name)
	return nil
}

// RemoveDirectory deletes an empty directory.
func (c *Card) RemoveDirectory(dir string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(c.root, dir)); err != nil {
		return fmt.Errorf("delete directory %s: %w", dir, err)
	}
	slog.Info("directory deleted", "dir", dir)
	return nil
}

// Scan walks the card top-down once and returns the tracked directories and
// their tracked, non-empty files. Foreign entries are ignored.
func (c *Card) Scan() ([]DirEntry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	top, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("scan media: %w", err)
	}

	var dirs []DirEntry
	for _, d := range top {
		if !d.IsDir() || !ValidDirName(d.Name()) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(c.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", d.Name(), err)
		}

		de := DirEntry{Name: d.Name()}
		for _, f := range entries {
			if f.IsDir() || !ValidFileName(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil || info.Size() == 0 {
				continue
			}
			de.Files = append(de.Files, f.Name())
		}
		sort.Strings(de.Files)
		dirs = append(dirs, de)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs, nil
}

// Format erases everything on the card.
func (c *Card) Format() error {
	if err := c.ready(); err != nil {
		return err
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	slog.Info("media formatted", "root", c.root, "entries_removed", len(entries))
	return nil
}
