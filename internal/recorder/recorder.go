// Package recorder writes frames delivered to the recording class to the card,
// as a single image or as a paced, optionally counted video.
//
// State machine: Idle -> Opening -> Active -> Closing -> Idle, with
// Active -> Failed -> Idle on any write error. An Engine is owned by one task
// and has no internal locking.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/tjsn"
	"github.com/e7canasta/tcam-core/modules/framesupplier"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

var (
	// ErrBusy is returned when a session is already open.
	ErrBusy = errors.New("recording already in progress")
	// ErrNoSource is returned when the frame source is unavailable.
	ErrNoSource = errors.New("frame source unavailable")
	// ErrUntracked is reported when a closed file could not be added to the
	// catalog. The catalog is invalidated so the next listing rebuilds it.
	ErrUntracked = errors.New("recording not catalogued")
)

// State of the engine.
type State int

const (
	Idle State = iota
	Opening
	Active
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects single-image or video recording.
type Mode struct {
	Single bool
	// Delay is the minimum gap between accepted frames; 0 accepts every frame.
	Delay time.Duration
	// Count stops the recording after that many frames; 0 is unbounded.
	Count int
}

// SingleImage returns the mode for one snapshot.
func SingleImage() Mode {
	return Mode{Single: true}
}

// Continuous returns a video mode.
func Continuous(delay time.Duration, count int) Mode {
	return Mode{Delay: delay, Count: count}
}

// Storage is the part of the card the engine writes to.
type Storage interface {
	Mount() error
	CreateDirectory(name string) (created bool, err error)
	Create(dir, name string) (io.WriteCloser, error)
}

// Source reports whether frames are arriving.
type Source interface {
	Available() bool
}

// Frames is the recording side of the frame supplier.
type Frames interface {
	Arm(class framesupplier.Class, notify func())
	Disarm(class framesupplier.Class)
	Acquire(class framesupplier.Class, after uint64) (*framesupplier.Lease, bool)
}

// CatalogWriter receives the file once it is safely closed.
type CatalogWriter interface {
	InsertDirectory(name string) (idx int, created bool, err error)
	InsertFile(dir, name string) (dirIdx, fileIdx int, err error)
	Valid() bool
	Invalidate()
}

// Config carries engine settings.
type Config struct {
	Camera  string
	Version string
	// Now is the clock; its readings must carry a monotonic component.
	Now func() time.Time
	// OnFailure reports failures that happen outside a caller's request.
	OnFailure func(consumer, op string, err error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Storage Storage
	Source  Source
	Frames  Frames
	Catalog CatalogWriter
	Bus     notifybus.Bus
	// Notify is armed on the recording class; it must only post a wake-up.
	Notify func()
}

// Session describes the open recording.
type Session struct {
	ID     string        `json:"id"`
	Dir    string        `json:"dir"`
	File   string        `json:"file"`
	Single bool          `json:"single"`
	NewDir bool          `json:"new_dir"` // the session created Dir on the card
	Delay  time.Duration `json:"delay"`
	Count  int           `json:"count"`
	Frames int           `json:"frames"`
}

type session struct {
	Session
	file io.WriteCloser
	w    *tjsn.Writer

	opened       time.Time
	first, last  time.Time
	lastAccepted time.Time
	lastSeq      uint64
}

// Engine is the recording state machine.
type Engine struct {
	cfg  Config
	deps Deps

	state   State
	sess    *session
	lastErr error
}

// New returns an idle Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, deps: deps}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// LastError returns the error that ended the previous session, if any.
func (e *Engine) LastError() error {
	return e.lastErr
}

// Active reports whether a session is open.
func (e *Engine) Active() bool {
	return e.sess != nil
}

// Path returns the directory and file of the open session.
func (e *Engine) Path() (dir, name string) {
	if e.sess == nil {
		return "", ""
	}
	return e.sess.Dir, e.sess.File
}

// Current returns a copy of the open session.
func (e *Engine) Current() (Session, bool) {
	if e.sess == nil {
		return Session{}, false
	}
	return e.sess.Session, true
}

// Start opens a new file and arms the recording class. On error no state
// changes.
func (e *Engine) Start(mode Mode) (Session, error) {
	if e.state != Idle {
		return Session{}, ErrBusy
	}
	if e.deps.Source != nil && !e.deps.Source.Available() {
		return Session{}, ErrNoSource
	}
	if err := e.deps.Storage.Mount(); err != nil {
		return Session{}, fmt.Errorf("start recording: %w", err)
	}

	e.state = Opening
	e.lastErr = nil
	now := e.cfg.Now()
	dir := media.DirName(now)
	name := media.VideoName(now)
	if mode.Single {
		name = media.ImageName(now)
	}

	created, err := e.deps.Storage.CreateDirectory(dir)
	if err != nil {
		e.state = Idle
		return Session{}, fmt.Errorf("start recording: %w", err)
	}
	file, err := e.deps.Storage.Create(dir, name)
	if err != nil {
		e.state = Idle
		return Session{}, fmt.Errorf("start recording: %w", err)
	}

	e.sess = &session{
		Session: Session{
			ID:     uuid.NewString(),
			Dir:    dir,
			File:   name,
			Single: mode.Single,
			NewDir: created,
			Delay:  mode.Delay,
			Count:  mode.Count,
		},
		file:   file,
		w:      tjsn.NewWriter(file),
		opened: now,
	}
	e.deps.Frames.Arm(framesupplier.ClassRecording, e.deps.Notify)
	e.state = Active

	slog.Info("recording started",
		"session", e.sess.ID,
		"dir", dir,
		"file", name,
		"single", mode.Single,
		"delay", mode.Delay,
		"count", mode.Count,
		"new_dir", created,
	)
	if !mode.Single {
		e.publish(notifybus.Notification{Kind: notifybus.RecordingStarted, Session: e.sess.ID, Dir: dir, File: name})
	}
	return e.sess.Session, nil
}

// Consume handles a recording-class frame notification. It takes the newest
// unseen frame, applies the pacing gate, writes it and auto-stops when the
// frame count is reached.
func (e *Engine) Consume() {
	if e.state != Active {
		return
	}
	s := e.sess

	lease, ok := e.deps.Frames.Acquire(framesupplier.ClassRecording, s.lastSeq)
	if !ok {
		return
	}
	f := lease.Frame()
	s.lastSeq = f.Seq

	now := e.cfg.Now()
	if !s.Single && s.Frames > 0 && s.Delay > 0 && now.Sub(s.lastAccepted) < s.Delay {
		lease.Release()
		return
	}

	img := tjsn.NewImage(f, e.cfg.Camera, e.cfg.Version)
	lease.Release()

	if err := s.w.WriteImage(img); err != nil {
		e.fail("write frame", err)
		return
	}
	if s.Frames == 0 {
		s.first = img.Timestamp
	}
	s.last = img.Timestamp
	s.lastAccepted = now
	s.Frames++
	slog.Debug("recording frame written", "session", s.ID, "seq", s.lastSeq, "frames", s.Frames)

	if s.Single || (s.Count > 0 && s.Frames >= s.Count) {
		if err := e.Stop(); err != nil {
			slog.Warn("recording auto-stop failed", "session", s.ID, "error", err)
		}
	}
}

// Stop closes the open session. Videos get their trailer first. The catalog
// is updated only if every write and the close succeeded. Stopping an idle
// engine is a no-op.
func (e *Engine) Stop() error {
	if e.state != Active {
		return nil
	}
	s := e.sess
	e.state = Closing
	e.deps.Frames.Disarm(framesupplier.ClassRecording)

	if s.Single && s.Frames == 0 {
		s.file.Close()
		e.reset()
		err := errors.New("stopped before a frame arrived")
		slog.Warn("snapshot abandoned", "session", s.ID, "file", s.File)
		return fmt.Errorf("take picture: %w", err)
	}

	var err error
	if !s.Single {
		start, end := s.first, s.last
		if s.Frames == 0 {
			start, end = s.opened, s.opened
		}
		err = s.w.WriteTrailer(tjsn.Trailer{Start: start, End: end, Frames: s.Frames})
	}
	if cerr := s.file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s/%s: %w", s.Dir, s.File, cerr)
	}
	if err != nil {
		e.state = Failed
		e.lastErr = err
		slog.Error("recording close failed, file left untracked", "session", s.ID, "file", s.File, "error", err)
		e.reset()
		if e.cfg.OnFailure != nil {
			e.cfg.OnFailure(notifybus.ConsumerAll, "recording", err)
		}
		e.publish(notifybus.Notification{Kind: notifybus.RecordingStopped, Session: s.ID, Dir: s.Dir, File: s.File, Reason: err.Error()})
		return fmt.Errorf("stop recording: %w", err)
	}

	e.track(s)

	slog.Info("recording stopped",
		"session", s.ID,
		"file", s.File,
		"frames", s.Frames,
		"bytes", s.w.Written(),
	)
	if s.Single {
		e.publish(notifybus.Notification{Kind: notifybus.ImageSaved, Session: s.ID, Dir: s.Dir, File: s.File})
	} else {
		e.publish(notifybus.Notification{
			Kind:    notifybus.RecordingStopped,
			Session: s.ID,
			Dir:     s.Dir,
			File:    s.File,
			Millis:  s.last.Sub(s.first).Milliseconds(),
		})
	}
	e.reset()
	return nil
}

// Abort closes the file without a trailer or catalog update. Used when the
// card is gone.
func (e *Engine) Abort(reason string) {
	if e.sess == nil {
		return
	}
	s := e.sess
	e.deps.Frames.Disarm(framesupplier.ClassRecording)
	s.file.Close()
	slog.Warn("recording aborted", "session", s.ID, "file", s.File, "reason", reason)
	e.reset()
	e.publish(notifybus.Notification{Kind: notifybus.RecordingStopped, Session: s.ID, Dir: s.Dir, File: s.File, Reason: reason})
}

func (e *Engine) fail(op string, err error) {
	s := e.sess
	e.state = Failed
	e.lastErr = err
	e.deps.Frames.Disarm(framesupplier.ClassRecording)
	s.file.Close()
	slog.Error("recording failed, file left untracked", "session", s.ID, "file", s.File, "op", op, "error", err)
	e.reset()

	if e.cfg.OnFailure != nil {
		e.cfg.OnFailure(notifybus.ConsumerAll, "recording", fmt.Errorf("%s: %w", op, err))
	}
	e.publish(notifybus.Notification{Kind: notifybus.RecordingStopped, Session: s.ID, Dir: s.Dir, File: s.File, Reason: err.Error()})
}

// track adds a safely closed file to the catalog. The directory is inserted
// every time: it may exist on the card from an earlier session that never
// reached the catalog. A catalog that is not built yet picks the file up on
// its next rebuild.
func (e *Engine) track(s *session) {
	cat := e.deps.Catalog
	if !cat.Valid() {
		return
	}
	_, _, err := cat.InsertDirectory(s.Dir)
	if err == nil {
		_, _, err = cat.InsertFile(s.Dir, s.File)
	}
	if err == nil {
		return
	}

	cat.Invalidate()
	slog.Warn("catalog insert failed, catalog invalidated", "dir", s.Dir, "file", s.File, "error", err)
	if e.cfg.OnFailure != nil {
		e.cfg.OnFailure(notifybus.ConsumerAll, "catalog", fmt.Errorf("%w: %s/%s: %v", ErrUntracked, s.Dir, s.File, err))
	}
}

func (e *Engine) reset() {
	e.sess = nil
	e.state = Idle
}

func (e *Engine) publish(n notifybus.Notification) {
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(n)
	}
}
