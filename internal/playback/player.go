// Package playback replays recorded files to one consumer class.
//
// State machine: Idle -> Opening -> Priming -> {Paused <-> Playing} ->
// Draining -> Idle, with -> Failed -> Idle on any I/O or decode error.
//
// Two records are kept decoded ahead of the cursor. Pacing is driven by Tick
// from the owner's evaluation ticker: a frame is due once the elapsed time
// since the previous delivery reaches the current delay, less half a tick.
// A Player has no internal locking and is used from one task.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/tjsn"
	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

const (
	DefaultTick           = 10 * time.Millisecond
	DefaultFixedThreshold = 1000 * time.Millisecond
	DefaultTailWindow     = 256
)

var (
	// ErrNoPlayableFrame is returned when a file has no image before its trailer.
	ErrNoPlayableFrame = errors.New("no playable frame")
	// ErrUnexpectedEOF is returned when a video ends without its trailer.
	ErrUnexpectedEOF = errors.New("video ended before trailer")
	// ErrNotOpen is returned by Play and Pause without a session.
	ErrNotOpen = errors.New("no playback session")
	// ErrNotPausable is returned when pausing an auto-playing or image session.
	ErrNotPausable = errors.New("session cannot be paused")
)

// State of a player.
type State int

const (
	Idle State = iota
	Opening
	Priming
	Paused
	Playing
	Draining
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Priming:
		return "priming"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	case Draining:
		return "draining"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store opens files on the card.
type Store interface {
	Mount() error
	Open(dir, name string) (media.File, error)
}

// Sink receives decoded frames. The frame is owned by the sink after the call.
type Sink interface {
	DeliverFrame(consumer string, f *framesource.Frame)
}

// Config tunes one player.
type Config struct {
	// Consumer is the notification consumer name (display or network).
	Consumer string
	// AutoPlay starts videos immediately; otherwise they open paused.
	AutoPlay       bool
	Tick           time.Duration
	FixedThreshold time.Duration
	TailWindow     int
	OnFailure      func(consumer, op string, err error)
}

// Status is a snapshot of the player.
type Status struct {
	State      string `json:"state"`
	Session    string `json:"session,omitempty"`
	Dir        string `json:"dir,omitempty"`
	File       string `json:"file,omitempty"`
	Video      bool   `json:"video"`
	Fixed      bool   `json:"fixed"`
	LengthMs   int64  `json:"length_ms"`
	PositionMs int64  `json:"position_ms"`
	Delivered  int    `json:"delivered"`
}

// readAhead is one decoded record waiting for its turn. Errors are kept and
// reported only when the record becomes current.
type readAhead struct {
	img     *tjsn.Image
	trailer bool
	eof     bool
	err     error
}

type session struct {
	id    string
	dir   string
	name  string
	video bool
	file  media.File
	r     *tjsn.Reader

	slots [2]readAhead
	cur   int

	fixed   bool
	length  time.Duration
	startTs time.Time
	curTs   time.Time

	delay       time.Duration
	lastDeliver time.Time
	pausedFor   time.Duration
	delivered   int
}

// Player replays one file at a time for one consumer.
type Player struct {
	cfg   Config
	store Store
	sink  Sink
	bus   notifybus.Bus

	state State
	sess  *session
}

// New returns an idle Player.
func New(cfg Config, store Store, sink Sink, bus notifybus.Bus) *Player {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.FixedThreshold <= 0 {
		cfg.FixedThreshold = DefaultFixedThreshold
	}
	if cfg.TailWindow <= 0 {
		cfg.TailWindow = DefaultTailWindow
	}
	return &Player{cfg: cfg, store: store, sink: sink, bus: bus}
}

// Consumer returns the consumer this player serves.
func (p *Player) Consumer() string {
	return p.cfg.Consumer
}

// State returns the current state.
func (p *Player) State() State {
	return p.state
}

// Active reports whether a session is open.
func (p *Player) Active() bool {
	return p.sess != nil
}

// Path returns the directory and file of the open session.
func (p *Player) Path() (dir, name string) {
	if p.sess == nil {
		return "", ""
	}
	return p.sess.dir, p.sess.name
}

// Status returns a snapshot of the player.
func (p *Player) Status() Status {
	st := Status{State: p.state.String()}
	if s := p.sess; s != nil {
		st.Session = s.id
		st.Dir = s.dir
		st.File = s.name
		st.Video = s.video
		st.Fixed = s.fixed
		st.LengthMs = s.length.Milliseconds()
		st.PositionMs = s.curTs.Sub(s.startTs).Milliseconds()
		st.Delivered = s.delivered
	}
	return st
}

// Open starts a session on dir/name, stopping any open session first. Videos
// have their trailer read to size the session and choose the pacing mode.
func (p *Player) Open(dir, name string) error {
	p.Stop()

	p.state = Opening
	if err := p.store.Mount(); err != nil {
		p.state = Idle
		return fmt.Errorf("open %s/%s: %w", dir, name, err)
	}
	file, err := p.store.Open(dir, name)
	if err != nil {
		p.state = Idle
		return fmt.Errorf("open %s/%s: %w", dir, name, err)
	}

	s := &session{
		id:    uuid.NewString(),
		dir:   dir,
		name:  name,
		video: media.IsVideo(name),
		file:  file,
	}

	if s.video {
		trailer, err := tjsn.ReadTrailer(file, file.Size(), p.cfg.TailWindow)
		if err != nil {
			file.Close()
			p.state = Idle
			return fmt.Errorf("open %s/%s: %w", dir, name, err)
		}
		s.length = trailer.Duration()
		s.fixed = s.length/time.Duration(trailer.Frames) >= p.cfg.FixedThreshold
	}

	p.state = Priming
	s.r = tjsn.NewReader(file)
	s.slots[0] = p.read(s)
	first := s.slots[0]
	if first.err != nil || first.eof || first.trailer {
		file.Close()
		p.state = Idle
		err := first.err
		if err == nil {
			err = ErrNoPlayableFrame
		}
		return fmt.Errorf("prime %s/%s: %w", dir, name, err)
	}
	if s.video {
		s.slots[1] = p.read(s)
	}
	s.startTs = first.img.Timestamp
	s.curTs = s.startTs

	p.sess = s
	if p.cfg.AutoPlay || !s.video {
		p.state = Playing
	} else {
		p.state = Paused
	}

	slog.Info("playback opened",
		"consumer", p.cfg.Consumer,
		"session", s.id,
		"dir", dir,
		"file", name,
		"video", s.video,
		"fixed", s.fixed,
		"length", s.length,
		"state", p.state,
	)
	if s.video {
		p.publish(notifybus.Notification{Kind: notifybus.PlaybackLength, Session: s.id, Dir: dir, File: name, Millis: s.length.Milliseconds()})
	}
	return nil
}

func (p *Player) read(s *session) readAhead {
	rec, err := s.r.Next()
	switch {
	case errors.Is(err, io.EOF):
		return readAhead{eof: true}
	case err != nil:
		return readAhead{err: err}
	case rec.IsTrailer():
		return readAhead{trailer: true}
	default:
		return readAhead{img: rec.Image}
	}
}

// Play resumes a paused session.
func (p *Player) Play(now time.Time) error {
	if p.sess == nil {
		return ErrNotOpen
	}
	if p.state != Paused {
		return nil
	}
	s := p.sess
	if s.delivered > 0 {
		s.lastDeliver = now.Add(-s.pausedFor)
	}
	p.state = Playing
	slog.Debug("playback resumed", "consumer", p.cfg.Consumer, "session", s.id)
	return nil
}

// Pause holds a playing video at its current position.
func (p *Player) Pause(now time.Time) error {
	if p.sess == nil {
		return ErrNotOpen
	}
	if p.cfg.AutoPlay || !p.sess.video {
		return ErrNotPausable
	}
	if p.state != Playing {
		return nil
	}
	p.sess.pausedFor = now.Sub(p.sess.lastDeliver)
	p.state = Paused
	slog.Debug("playback paused", "consumer", p.cfg.Consumer, "session", p.sess.id)
	return nil
}

// Tick delivers the current frame when it is due.
func (p *Player) Tick(now time.Time) {
	if p.state != Playing {
		return
	}
	s := p.sess
	if s.delivered > 0 && now.Sub(s.lastDeliver) < s.delay-p.cfg.Tick/2 {
		return
	}

	cur := s.slots[s.cur]
	s.curTs = cur.img.Timestamp
	p.sink.DeliverFrame(p.cfg.Consumer, cur.img.Frame())
	s.delivered++
	s.lastDeliver = now

	if !s.video {
		p.finish()
		return
	}
	p.publish(notifybus.Notification{
		Kind:    notifybus.PlaybackPosition,
		Session: s.id,
		Millis:  s.curTs.Sub(s.startTs).Milliseconds(),
	})

	next := s.slots[1-s.cur]
	switch {
	case next.err != nil:
		p.fail(next.err)
		return
	case next.trailer:
		p.finish()
		return
	case next.eof:
		p.fail(ErrUnexpectedEOF)
		return
	}

	if s.fixed {
		s.delay = p.cfg.FixedThreshold
	} else {
		s.delay = max(next.img.Timestamp.Sub(cur.img.Timestamp), p.cfg.Tick)
	}

	// Rotate and refill the freed slot.
	s.slots[s.cur] = readAhead{}
	s.cur = 1 - s.cur
	s.slots[1-s.cur] = p.read(s)
}

// Stop closes the session from any state. Safe to call when idle.
func (p *Player) Stop() {
	if p.sess == nil {
		p.state = Idle
		return
	}
	s := p.sess
	p.release()
	slog.Info("playback stopped", "consumer", p.cfg.Consumer, "session", s.id, "file", s.name, "delivered", s.delivered)
	p.publish(notifybus.Notification{Kind: notifybus.PlaybackDone, Session: s.id, Dir: s.dir, File: s.name, Reason: "stopped"})
}

// Abort closes the session because its media is gone.
func (p *Player) Abort(reason string) {
	if p.sess == nil {
		return
	}
	s := p.sess
	p.release()
	slog.Warn("playback aborted", "consumer", p.cfg.Consumer, "session", s.id, "reason", reason)
	p.publish(notifybus.Notification{Kind: notifybus.PlaybackDone, Session: s.id, Dir: s.dir, File: s.name, Reason: reason})
}

func (p *Player) finish() {
	s := p.sess
	p.state = Draining
	p.release()
	slog.Info("playback done", "consumer", p.cfg.Consumer, "session", s.id, "file", s.name, "delivered", s.delivered)
	p.publish(notifybus.Notification{Kind: notifybus.PlaybackDone, Session: s.id, Dir: s.dir, File: s.name})
}

func (p *Player) fail(err error) {
	s := p.sess
	p.state = Failed
	p.release()
	slog.Error("playback failed", "consumer", p.cfg.Consumer, "session", s.id, "file", s.name, "error", err)
	if p.cfg.OnFailure != nil {
		p.cfg.OnFailure(p.cfg.Consumer, "playback", fmt.Errorf("%s/%s: %w", s.dir, s.name, err))
	}
	p.publish(notifybus.Notification{Kind: notifybus.PlaybackDone, Session: s.id, Dir: s.dir, File: s.name, Reason: err.Error()})
}

// release closes the file and drops read-ahead and pacing state.
func (p *Player) release() {
	if p.sess.file != nil {
		p.sess.file.Close()
	}
	p.sess = nil
	p.state = Idle
}

func (p *Player) publish(n notifybus.Notification) {
	if p.bus == nil {
		return
	}
	n.Consumer = p.cfg.Consumer
	p.bus.Publish(n)
}
