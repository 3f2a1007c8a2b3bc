// Package catalog is the in-memory index of tracked directories and files on
// the card.
//
// Directories and files live in generation-checked slabs and are addressed by
// DirID/FileID handles. Directory order and each directory's file order are
// kept alphabetical, so (directory index, file index) positions and absolute
// file indices are stable until the next insert or delete.
//
// A Catalog has no internal locking. It must be used from the single task
// that owns it; other tasks only see copies returned by Names.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/e7canasta/tcam-core/internal/media"
)

// DefaultMaxNames caps the length of one Names listing.
const DefaultMaxNames = 150

// RootIndex selects the directory listing in Names.
const RootIndex = -1

var (
	// ErrNotFound is returned for an unknown index, name or stale handle.
	ErrNotFound = errors.New("catalog entry not found")
	// ErrNotReady is returned while the catalog is invalidated.
	ErrNotReady = errors.New("catalog not ready")
	// ErrInvalidName is returned when inserting a name outside the tracked pattern.
	ErrInvalidName = errors.New("name does not match tracked pattern")
)

// DirID is a stable handle to a directory.
type DirID struct {
	slot, gen uint32
}

// FileID is a stable handle to a file.
type FileID struct {
	slot, gen uint32
}

type dirNode struct {
	name  string
	files []FileID
}

type fileNode struct {
	name string
	dir  DirID
}

// Scanner walks storage once and returns its tracked entries.
type Scanner interface {
	Scan() ([]media.DirEntry, error)
}

// Catalog indexes directories and files.
type Catalog struct {
	dirs     slab[dirNode]
	files    slab[fileNode]
	order    []DirID
	total    int
	valid    bool
	maxNames int
}

// New returns an empty, invalid catalog. maxNames <= 0 selects DefaultMaxNames.
func New(maxNames int) *Catalog {
	if maxNames <= 0 {
		maxNames = DefaultMaxNames
	}
	return &Catalog{maxNames: maxNames}
}

// Rebuild replaces the catalog with a fresh scan. On failure the current
// contents are left untouched.
func (c *Catalog) Rebuild(s Scanner) error {
	entries, err := s.Scan()
	if err != nil {
		return fmt.Errorf("rebuild catalog: %w", err)
	}

	next := New(c.maxNames)
	for _, de := range entries {
		if !media.ValidDirName(de.Name) {
			continue
		}
		d, _, err := next.insertDir(de.Name)
		if err != nil {
			return fmt.Errorf("rebuild catalog: %w", err)
		}
		for _, f := range de.Files {
			if !media.ValidFileName(f) {
				continue
			}
			next.insertFile(d, f)
		}
	}
	next.valid = true

	*c = *next
	slog.Info("catalog rebuilt", "dirs", len(c.order), "files", c.total)
	return nil
}

// Invalidate drops every entry and marks the catalog unusable until the next
// Rebuild.
func (c *Catalog) Invalidate() {
	*c = Catalog{maxNames: c.maxNames}
}

// Clear drops every entry but keeps the catalog usable (empty media).
func (c *Catalog) Clear() {
	*c = Catalog{maxNames: c.maxNames, valid: true}
}

// Valid reports whether the catalog reflects mounted media.
func (c *Catalog) Valid() bool {
	return c.valid
}

func (c *Catalog) ready() error {
	if !c.valid {
		return ErrNotReady
	}
	return nil
}

func (c *Catalog) dirAt(idx int) (DirID, *dirNode, error) {
	if idx < 0 || idx >= len(c.order) {
		return DirID{}, nil, fmt.Errorf("%w: directory index %d", ErrNotFound, idx)
	}
	id := c.order[idx]
	d, ok := c.dirs.get(id.slot, id.gen)
	if !ok {
		return DirID{}, nil, fmt.Errorf("%w: directory index %d", ErrNotFound, idx)
	}
	return id, d, nil
}

func (c *Catalog) fileAt(d *dirNode, idx int) (FileID, *fileNode, error) {
	if idx < 0 || idx >= len(d.files) {
		return FileID{}, nil, fmt.Errorf("%w: file index %d in %s", ErrNotFound, idx, d.name)
	}
	id := d.files[idx]
	f, ok := c.files.get(id.slot, id.gen)
	if !ok {
		return FileID{}, nil, fmt.Errorf("%w: file index %d in %s", ErrNotFound, idx, d.name)
	}
	return id, f, nil
}

func (c *Catalog) dirName(id DirID) string {
	d, _ := c.dirs.get(id.slot, id.gen)
	return d.name
}

func (c *Catalog) fileName(id FileID) string {
	f, _ := c.files.get(id.slot, id.gen)
	return f.name
}

func (c *Catalog) searchDir(name string) int {
	return sort.Search(len(c.order), func(i int) bool { return c.dirName(c.order[i]) >= name })
}

func (c *Catalog) searchFile(d *dirNode, name string) int {
	return sort.Search(len(d.files), func(i int) bool { return c.fileName(d.files[i]) >= name })
}

func (c *Catalog) insertDir(name string) (idx int, created bool, err error) {
	if !media.ValidDirName(name) {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	i := c.searchDir(name)
	if i < len(c.order) && c.dirName(c.order[i]) == name {
		return i, false, nil
	}
	slot, gen := c.dirs.insert(dirNode{name: name})
	c.order = append(c.order, DirID{})
	copy(c.order[i+1:], c.order[i:])
	c.order[i] = DirID{slot: slot, gen: gen}
	return i, true, nil
}

func (c *Catalog) insertFile(dirIdx int, name string) (int, bool) {
	id := c.order[dirIdx]
	d, _ := c.dirs.get(id.slot, id.gen)
	i := c.searchFile(d, name)
	if i < len(d.files) && c.fileName(d.files[i]) == name {
		return i, false
	}
	slot, gen := c.files.insert(fileNode{name: name, dir: id})
	d.files = append(d.files, FileID{})
	copy(d.files[i+1:], d.files[i:])
	d.files[i] = FileID{slot: slot, gen: gen}
	c.total++
	return i, true
}

// InsertDirectory adds a directory in sorted position. created is false when
// it was already tracked.
func (c *Catalog) InsertDirectory(name string) (idx int, created bool, err error) {
	if err := c.ready(); err != nil {
		return 0, false, err
	}
	idx, created, err = c.insertDir(name)
	if err == nil && created {
		slog.Debug("catalog directory inserted", "dir", name, "index", idx)
	}
	return idx, created, err
}

// InsertFile adds name to the named directory in sorted position and returns
// its position. Inserting a tracked file returns its current position.
func (c *Catalog) InsertFile(dir, name string) (dirIdx, fileIdx int, err error) {
	if err := c.ready(); err != nil {
		return 0, 0, err
	}
	if !media.ValidFileName(name) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dirIdx, err = c.LocateDirectory(dir)
	if err != nil {
		return 0, 0, err
	}
	fileIdx, created := c.insertFile(dirIdx, name)
	if created {
		slog.Debug("catalog file inserted", "dir", dir, "file", name, "index", fileIdx)
	}
	return dirIdx, fileIdx, nil
}

// DeleteFile removes the file at fileIdx of directory dirIdx. The directory
// stays tracked even when it becomes empty.
func (c *Catalog) DeleteFile(dirIdx, fileIdx int) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return err
	}
	id, _, err := c.fileAt(d, fileIdx)
	if err != nil {
		return err
	}
	c.files.remove(id.slot, id.gen)
	d.files = append(d.files[:fileIdx], d.files[fileIdx+1:]...)
	c.total--
	return nil
}

// DeleteDirectory removes the directory at dirIdx and any files it still
// tracks.
func (c *Catalog) DeleteDirectory(dirIdx int) error {
	if err := c.ready(); err != nil {
		return err
	}
	id, d, err := c.dirAt(dirIdx)
	if err != nil {
		return err
	}
	for _, f := range d.files {
		c.files.remove(f.slot, f.gen)
	}
	c.total -= len(d.files)
	c.dirs.remove(id.slot, id.gen)
	c.order = append(c.order[:dirIdx], c.order[dirIdx+1:]...)
	return nil
}

// DirName resolves a directory index to its name.
func (c *Catalog) DirName(dirIdx int) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

// FileName resolves a (directory, file) position to the file name.
func (c *Catalog) FileName(dirIdx, fileIdx int) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return "", err
	}
	_, f, err := c.fileAt(d, fileIdx)
	if err != nil {
		return "", err
	}
	return f.name, nil
}

// LocateDirectory returns the index of the named directory.
func (c *Catalog) LocateDirectory(name string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	i := c.searchDir(name)
	if i < len(c.order) && c.dirName(c.order[i]) == name {
		return i, nil
	}
	return 0, fmt.Errorf("%w: directory %q", ErrNotFound, name)
}

// LocateFile returns the index of name within directory dirIdx.
func (c *Catalog) LocateFile(dirIdx int, name string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return 0, err
	}
	i := c.searchFile(d, name)
	if i < len(d.files) && c.fileName(d.files[i]) == name {
		return i, nil
	}
	return 0, fmt.Errorf("%w: file %q in %s", ErrNotFound, name, d.name)
}

// Lookup locates dir/name and returns its position.
func (c *Catalog) Lookup(dir, name string) (dirIdx, fileIdx int, err error) {
	dirIdx, err = c.LocateDirectory(dir)
	if err != nil {
		return 0, 0, err
	}
	fileIdx, err = c.LocateFile(dirIdx, name)
	if err != nil {
		return 0, 0, err
	}
	return dirIdx, fileIdx, nil
}

// AbsIndex converts a (directory, file) position into an index over all files
// in catalog order.
func (c *Catalog) AbsIndex(dirIdx, fileIdx int) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return 0, err
	}
	if fileIdx < 0 || fileIdx >= len(d.files) {
		return 0, fmt.Errorf("%w: file index %d in %s", ErrNotFound, fileIdx, d.name)
	}
	abs := fileIdx
	for i := 0; i < dirIdx; i++ {
		abs += c.numFiles(c.order[i])
	}
	return abs, nil
}

// Position converts an absolute file index back into a (directory, file)
// position.
func (c *Catalog) Position(abs int) (dirIdx, fileIdx int, err error) {
	if err := c.ready(); err != nil {
		return 0, 0, err
	}
	if abs < 0 || abs >= c.total {
		return 0, 0, fmt.Errorf("%w: absolute index %d", ErrNotFound, abs)
	}
	for i, id := range c.order {
		n := c.numFiles(id)
		if abs < n {
			return i, abs, nil
		}
		abs -= n
	}
	return 0, 0, fmt.Errorf("%w: absolute index out of range", ErrNotFound)
}

func (c *Catalog) numFiles(id DirID) int {
	d, ok := c.dirs.get(id.slot, id.gen)
	if !ok {
		return 0
	}
	return len(d.files)
}

// NumDirs returns the number of tracked directories.
func (c *Catalog) NumDirs() int {
	return len(c.order)
}

// NumFiles returns the file count of directory dirIdx, or 0 for an unknown index.
func (c *Catalog) NumFiles(dirIdx int) int {
	if dirIdx < 0 || dirIdx >= len(c.order) {
		return 0
	}
	return c.numFiles(c.order[dirIdx])
}

// TotalFiles returns the number of tracked files.
func (c *Catalog) TotalFiles() int {
	return c.total
}

// DirHandle returns the stable handle of the directory at dirIdx.
func (c *Catalog) DirHandle(dirIdx int) (DirID, error) {
	if err := c.ready(); err != nil {
		return DirID{}, err
	}
	id, _, err := c.dirAt(dirIdx)
	return id, err
}

// FileHandle returns the stable handle of the file at (dirIdx, fileIdx).
func (c *Catalog) FileHandle(dirIdx, fileIdx int) (FileID, error) {
	if err := c.ready(); err != nil {
		return FileID{}, err
	}
	_, d, err := c.dirAt(dirIdx)
	if err != nil {
		return FileID{}, err
	}
	id, _, err := c.fileAt(d, fileIdx)
	return id, err
}

// ResolveDir returns the current index of a directory handle. Handles to
// deleted directories return ErrNotFound.
func (c *Catalog) ResolveDir(id DirID) (int, error) {
	d, ok := c.dirs.get(id.slot, id.gen)
	if !ok {
		return 0, fmt.Errorf("%w: stale directory handle", ErrNotFound)
	}
	return c.LocateDirectory(d.name)
}

// ResolveFile returns the current position of a file handle.
func (c *Catalog) ResolveFile(id FileID) (dirIdx, fileIdx int, err error) {
	f, ok := c.files.get(id.slot, id.gen)
	if !ok {
		return 0, 0, fmt.Errorf("%w: stale file handle", ErrNotFound)
	}
	dirIdx, err = c.ResolveDir(f.dir)
	if err != nil {
		return 0, 0, err
	}
	fileIdx, err = c.LocateFile(dirIdx, f.name)
	return dirIdx, fileIdx, err
}

// Names returns a copy of the directory names (dirIdx == RootIndex) or of the
// file names in directory dirIdx, truncated to the listing cap.
func (c *Catalog) Names(dirIdx int) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var names []string
	if dirIdx == RootIndex {
		names = make([]string, 0, min(len(c.order), c.maxNames))
		for _, id := range c.order {
			if len(names) == c.maxNames {
				break
			}
			names = append(names, c.dirName(id))
		}
	} else {
		_, d, err := c.dirAt(dirIdx)
		if err != nil {
			return nil, err
		}
		names = make([]string, 0, min(len(d.files), c.maxNames))
		for _, id := range d.files {
			if len(names) == c.maxNames {
				break
			}
			names = append(names, c.fileName(id))
		}
	}
	return names, nil
}

// Stats is a summary used by status reporting.
type Stats struct {
	Valid bool `json:"valid"`
	Dirs  int  `json:"dirs"`
	Files int  `json:"files"`
}

// Stats returns a summary of the catalog.
func (c *Catalog) Stats() Stats {
	return Stats{Valid: c.valid, Dirs: len(c.order), Files: c.total}
}
