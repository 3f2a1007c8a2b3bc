package recorder

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/tjsn"
	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/framesupplier"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

// memFile is an in-memory file that can fail after a number of writes.
type memFile struct {
	buf       bytes.Buffer
	failAfter int // writes allowed before failing; <0 never fails
	writes    int
	closed    bool
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.failAfter >= 0 && f.writes >= f.failAfter {
		return 0, errors.New("card write error")
	}
	f.writes++
	return f.buf.Write(p)
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

type fakeStorage struct {
	mountErr  error
	existing  map[string]bool
	files     map[string]*memFile
	failAfter int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{existing: map[string]bool{}, files: map[string]*memFile{}, failAfter: -1}
}

func (s *fakeStorage) Mount() error { return s.mountErr }

func (s *fakeStorage) CreateDirectory(name string) (bool, error) {
	if s.existing[name] {
		return false, nil
	}
	s.existing[name] = true
	return true, nil
}

func (s *fakeStorage) Create(dir, name string) (io.WriteCloser, error) {
	f := &memFile{failAfter: s.failAfter}
	s.files[dir+"/"+name] = f
	return f, nil
}

type fakeSource struct{ ok bool }

func (s fakeSource) Available() bool { return s.ok }

// fakeCatalog rejects files whose directory it does not track, like the
// real catalog.
type fakeCatalog struct {
	dirs    []string
	files   []string
	invalid bool
}

func (c *fakeCatalog) InsertDirectory(name string) (int, bool, error) {
	if i := slices.Index(c.dirs, name); i >= 0 {
		return i, false, nil
	}
	c.dirs = append(c.dirs, name)
	return len(c.dirs) - 1, true, nil
}

func (c *fakeCatalog) InsertFile(dir, name string) (int, int, error) {
	dirIdx := slices.Index(c.dirs, dir)
	if dirIdx < 0 {
		return 0, 0, catalog.ErrNotFound
	}
	c.files = append(c.files, dir+"/"+name)
	return dirIdx, len(c.files) - 1, nil
}

func (c *fakeCatalog) Valid() bool { return !c.invalid }

func (c *fakeCatalog) Invalidate() { c.invalid = true }

// rejectingCatalog fails every file insert.
type rejectingCatalog struct{ fakeCatalog }

func (c *rejectingCatalog) InsertFile(dir, name string) (int, int, error) {
	return 0, 0, errors.New("catalog full")
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	engine  *Engine
	storage *fakeStorage
	catalog *fakeCatalog
	frames  framesupplier.Supplier
	clock   *fakeClock
	notes   chan notifybus.Notification
	wakeups *atomic.Int32
	base    uint16
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		storage: newFakeStorage(),
		catalog: &fakeCatalog{},
		frames:  framesupplier.New(framesupplier.Config{}),
		clock:   &fakeClock{t: time.Date(2024, 3, 14, 10, 11, 12, 0, time.UTC)},
		notes:   make(chan notifybus.Notification, 32),
		wakeups: &atomic.Int32{},
	}
	bus := notifybus.New()
	if err := bus.Subscribe("test", h.notes); err != nil {
		t.Fatal(err)
	}
	h.engine = New(Config{Camera: "tcam-test", Version: "1.0", Now: h.clock.Now}, Deps{
		Storage: h.storage,
		Source:  fakeSource{ok: true},
		Frames:  h.frames,
		Catalog: h.catalog,
		Bus:     bus,
		Notify:  func() { h.wakeups.Add(1) },
	})
	return h
}

// feed distributes one frame and lets the engine consume it.
func (h *harness) feed(t *testing.T) {
	t.Helper()
	h.base += 10
	pixels := make([]uint16, 8*6)
	for i := range pixels {
		pixels[i] = h.base + uint16(i)
	}
	telemetry := []uint16{1, 2, 3}
	f := &framesource.Frame{
		Timestamp: h.clock.Now(),
		Width:     8,
		Height:    6,
		Pixels:    pixels,
		Telemetry: telemetry,
		Checksum:  framesource.Checksum(pixels, telemetry),
	}
	if !h.frames.Distribute(f) {
		t.Fatal("Distribute() rejected a valid frame")
	}
	h.engine.Consume()
}

func (h *harness) expect(t *testing.T, kind notifybus.Kind) notifybus.Notification {
	t.Helper()
	for {
		select {
		case n := <-h.notes:
			if n.Kind == kind {
				return n
			}
		default:
			t.Fatalf("no %s notification", kind)
			return notifybus.Notification{}
		}
	}
}

func readAll(t *testing.T, data []byte) (images int, trailer *tjsn.Trailer) {
	t.Helper()
	r := tjsn.NewReader(bytes.NewReader(data))
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return images, trailer
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if rec.IsTrailer() {
			trailer = rec.Trailer
			continue
		}
		images++
	}
}

// TestCountedRecording validates a bounded video.
//
// Scenario: record 3 frames at 0 ms delay with count=3.
//
// Contract:
//   - Exactly 3 image records and one trailer with frame count 3
//   - The engine auto-stops and returns to Idle
//   - The catalog gains the new directory and one file
func TestCountedRecording(t *testing.T) {
	h := newHarness(t)

	sess, err := h.engine.Start(Continuous(0, 3))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.Dir != "tcam_24_03_14" || sess.File != "mov_10_11_12.tmjsn" || sess.ID == "" || !sess.NewDir {
		t.Fatalf("session = %+v", sess)
	}
	if h.engine.State() != Active {
		t.Fatalf("State() = %s, want active", h.engine.State())
	}
	h.expect(t, notifybus.RecordingStarted)

	for i := 0; i < 5; i++ {
		h.clock.Advance(100 * time.Millisecond)
		h.feed(t)
	}

	if h.engine.State() != Idle {
		t.Fatalf("State() = %s after count reached, want idle", h.engine.State())
	}
	if h.frames.Armed(framesupplier.ClassRecording) {
		t.Fatal("recording class still armed after stop")
	}

	file := h.storage.files["tcam_24_03_14/mov_10_11_12.tmjsn"]
	if !file.closed {
		t.Fatal("file not closed")
	}
	images, trailer := readAll(t, file.buf.Bytes())
	if images != 3 || trailer == nil || trailer.Frames != 3 {
		t.Fatalf("file holds %d images, trailer %+v", images, trailer)
	}
	if trailer.Duration() != 200*time.Millisecond {
		t.Errorf("trailer duration = %v, want 200ms", trailer.Duration())
	}
	if len(h.catalog.dirs) != 1 || len(h.catalog.files) != 1 {
		t.Fatalf("catalog dirs=%v files=%v", h.catalog.dirs, h.catalog.files)
	}
	n := h.expect(t, notifybus.RecordingStopped)
	if n.File != sess.File || n.Millis != 200 {
		t.Errorf("stopped notification = %+v", n)
	}
	if h.wakeups.Load() < 3 {
		t.Errorf("wakeups = %d, want at least 3", h.wakeups.Load())
	}
}

// TestStopIdempotent validates that a second stop is a no-op.
//
// Contract:
//   - Exactly one trailer write and one catalog update
func TestStopIdempotent(t *testing.T) {
	h := newHarness(t)
	h.storage.existing["tcam_24_03_14"] = true
	h.catalog.dirs = []string{"tcam_24_03_14"}

	sess, err := h.engine.Start(Continuous(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if sess.NewDir {
		t.Fatal("existing directory reported as new")
	}
	h.feed(t)
	h.feed(t)

	if err := h.engine.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	_, trailer := readAll(t, h.storage.files["tcam_24_03_14/mov_10_11_12.tmjsn"].buf.Bytes())
	if trailer == nil || trailer.Frames != 2 {
		t.Fatalf("trailer = %+v", trailer)
	}
	if len(h.catalog.files) != 1 {
		t.Fatalf("catalog updates = %d, want 1", len(h.catalog.files))
	}
	if len(h.catalog.dirs) != 1 {
		t.Fatalf("existing directory was re-inserted: %v", h.catalog.dirs)
	}
}

// TestPacingGate validates elapsed-time gating.
//
// Contract:
//   - Frames arriving sooner than the delay after the last accepted frame are skipped
func TestPacingGate(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Start(Continuous(time.Second, 0)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		h.feed(t)
		h.clock.Advance(250 * time.Millisecond)
	}

	cur, ok := h.engine.Current()
	if !ok {
		t.Fatal("no active session")
	}
	// Accepted at t=0, 1000, 2000 ms
	if cur.Frames != 3 {
		t.Fatalf("frames = %d, want 3", cur.Frames)
	}
}

func TestSingleImage(t *testing.T) {
	h := newHarness(t)

	sess, err := h.engine.Start(SingleImage())
	if err != nil {
		t.Fatal(err)
	}
	if !media.ValidFileName(sess.File) || media.IsVideo(sess.File) {
		t.Fatalf("single image name = %q", sess.File)
	}
	h.feed(t)

	if h.engine.Active() {
		t.Fatal("engine still active after snapshot")
	}
	images, trailer := readAll(t, h.storage.files[sess.Dir+"/"+sess.File].buf.Bytes())
	if images != 1 || trailer != nil {
		t.Fatalf("snapshot holds %d images, trailer %+v", images, trailer)
	}
	h.expect(t, notifybus.ImageSaved)
	if len(h.catalog.files) != 1 {
		t.Fatalf("catalog files = %v", h.catalog.files)
	}
}

// TestStartFailsFast validates start preconditions.
//
// Contract:
//   - Unavailable source or missing media reject without state change
//   - A second start while active returns ErrBusy
func TestStartFailsFast(t *testing.T) {
	h := newHarness(t)

	h.engine.deps.Source = fakeSource{ok: false}
	if _, err := h.engine.Start(Continuous(0, 0)); !errors.Is(err, ErrNoSource) {
		t.Fatalf("Start() error = %v, want ErrNoSource", err)
	}
	h.engine.deps.Source = fakeSource{ok: true}

	h.storage.mountErr = media.ErrNoMedia
	if _, err := h.engine.Start(Continuous(0, 0)); !errors.Is(err, media.ErrNoMedia) {
		t.Fatalf("Start() error = %v, want ErrNoMedia", err)
	}
	if h.engine.State() != Idle || h.frames.Armed(framesupplier.ClassRecording) {
		t.Fatal("failed start changed state")
	}
	h.storage.mountErr = nil

	if _, err := h.engine.Start(Continuous(0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Start(SingleImage()); !errors.Is(err, ErrBusy) {
		t.Fatalf("Start() while active error = %v, want ErrBusy", err)
	}
}

// TestWriteFailureLeavesFileUntracked validates failure handling.
//
// Contract:
//   - A write error closes the file and returns the engine to Idle
//   - The catalog is not updated
//   - The failure is reported
func TestWriteFailureLeavesFileUntracked(t *testing.T) {
	h := newHarness(t)
	h.storage.failAfter = 1

	var reported error
	h.engine.cfg.OnFailure = func(_, _ string, err error) { reported = err }

	if _, err := h.engine.Start(Continuous(0, 0)); err != nil {
		t.Fatal(err)
	}
	h.feed(t)
	h.feed(t)

	if h.engine.Active() {
		t.Fatal("engine still active after write failure")
	}
	if reported == nil || h.engine.LastError() == nil {
		t.Fatal("failure not reported")
	}
	if len(h.catalog.files) != 0 {
		t.Fatalf("catalog updated after failure: %v", h.catalog.files)
	}
	if !h.storage.files["tcam_24_03_14/mov_10_11_12.tmjsn"].closed {
		t.Fatal("file not closed after failure")
	}
}

// TestTrailerFailureSkipsCatalog validates the close path.
func TestTrailerFailureSkipsCatalog(t *testing.T) {
	h := newHarness(t)
	h.storage.failAfter = 2

	if _, err := h.engine.Start(Continuous(0, 0)); err != nil {
		t.Fatal(err)
	}
	h.feed(t)
	h.feed(t)

	if err := h.engine.Stop(); err == nil {
		t.Fatal("Stop() succeeded with a failing trailer write")
	}
	if h.engine.State() != Idle {
		t.Fatalf("State() = %s, want idle", h.engine.State())
	}
	if len(h.catalog.files) != 0 {
		t.Fatalf("catalog updated after trailer failure: %v", h.catalog.files)
	}
	if n := h.expect(t, notifybus.RecordingStopped); n.Reason == "" {
		t.Error("RecordingStopped after trailer failure carries no reason")
	}
}

func TestAbort(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Start(Continuous(0, 0)); err != nil {
		t.Fatal(err)
	}
	h.feed(t)
	h.engine.Abort("media removed")
	h.engine.Abort("media removed")

	if h.engine.Active() || h.frames.Armed(framesupplier.ClassRecording) {
		t.Fatal("engine still active after abort")
	}
	_, trailer := readAll(t, h.storage.files["tcam_24_03_14/mov_10_11_12.tmjsn"].buf.Bytes())
	if trailer != nil {
		t.Fatal("abort wrote a trailer")
	}
	if len(h.catalog.files) != 0 {
		t.Fatal("abort updated the catalog")
	}
}

// TestUntrackedDirectoryIsCatalogued validates catalog consistency when a
// session reuses a directory the catalog never saw.
//
// Scenario:
//   - The first snapshot of the day creates the directory, then is stopped
//     before a frame arrives, so nothing reaches the catalog
//   - A later video in the same directory completes
//
// Contract:
//   - The directory is reported as existing, not new
//   - The completed video and its directory are both in the catalog
func TestUntrackedDirectoryIsCatalogued(t *testing.T) {
	card := media.NewCard(t.TempDir())
	if err := card.Mount(); err != nil {
		t.Fatal(err)
	}
	cat := catalog.New(150)
	if err := cat.Rebuild(card); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	h.engine.deps.Storage = card
	h.engine.deps.Catalog = cat

	first, err := h.engine.Start(SingleImage())
	if err != nil {
		t.Fatalf("Start(SingleImage) error = %v", err)
	}
	if !first.NewDir {
		t.Fatal("first session did not create its directory")
	}
	if err := h.engine.Stop(); err == nil {
		t.Fatal("Stop() of an empty snapshot succeeded")
	}
	if cat.NumDirs() != 0 {
		t.Fatalf("abandoned snapshot reached the catalog: %d dirs", cat.NumDirs())
	}

	h.clock.Advance(5 * time.Second)
	sess, err := h.engine.Start(Continuous(0, 2))
	if err != nil {
		t.Fatalf("Start(Continuous) error = %v", err)
	}
	if sess.NewDir || sess.Dir != first.Dir {
		t.Fatalf("second session = %+v, want reuse of %s", sess, first.Dir)
	}
	h.feed(t)
	h.clock.Advance(100 * time.Millisecond)
	h.feed(t)

	if h.engine.Active() {
		t.Fatal("engine still active after count reached")
	}
	if _, _, err := cat.Lookup(sess.Dir, sess.File); err != nil {
		t.Fatalf("completed recording not catalogued: %v (dirs=%d files=%d)", err, cat.NumDirs(), cat.TotalFiles())
	}
	if !cat.Valid() {
		t.Fatal("catalog invalidated after a successful insert")
	}
}

// TestCatalogInsertFailure validates the fallback when a closed file cannot
// be catalogued.
//
// Contract:
//   - The catalog is invalidated so the next listing rebuilds from the card
//   - The failure is reported as ErrUntracked
//   - The recording itself still stops cleanly
func TestCatalogInsertFailure(t *testing.T) {
	h := newHarness(t)
	rejecting := &rejectingCatalog{}
	h.engine.deps.Catalog = rejecting

	var reported error
	h.engine.cfg.OnFailure = func(_, _ string, err error) { reported = err }

	if _, err := h.engine.Start(Continuous(0, 1)); err != nil {
		t.Fatal(err)
	}
	h.feed(t)

	if h.engine.Active() {
		t.Fatal("engine still active")
	}
	if !rejecting.invalid {
		t.Error("catalog not invalidated after insert failure")
	}
	if !errors.Is(reported, ErrUntracked) {
		t.Errorf("reported = %v, want ErrUntracked", reported)
	}
	if n := h.expect(t, notifybus.RecordingStopped); n.Reason != "" {
		t.Errorf("RecordingStopped reason = %q, want clean stop", n.Reason)
	}
}

// TestInvalidCatalogSkipsInsert validates that a catalog awaiting rebuild is
// left alone.
func TestInvalidCatalogSkipsInsert(t *testing.T) {
	h := newHarness(t)
	h.catalog.invalid = true

	if _, err := h.engine.Start(Continuous(0, 1)); err != nil {
		t.Fatal(err)
	}
	h.feed(t)

	if len(h.catalog.dirs) != 0 || len(h.catalog.files) != 0 {
		t.Fatalf("invalid catalog updated: dirs=%v files=%v", h.catalog.dirs, h.catalog.files)
	}
}
