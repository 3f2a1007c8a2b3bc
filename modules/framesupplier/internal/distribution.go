package internal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// pair is the ping-pong slot set of one consumer class.
//
// Invariant: write is the slot the distributor fills next; 1-write holds the
// newest frame. write only flips after a completed copy, so a consumer
// holding the newest slot past the bounded wait costs that class one frame
// and nothing else.
type pair struct {
	slots [2]*Slot

	mu     sync.Mutex
	write  int
	armed  bool
	armSeq uint64 // frames at or below this seq predate the current arming
	notify func()

	delivered uint64
	dropped   uint64
	lastSeq   uint64
	lastAt    time.Time
}

func newPair() *pair {
	return &pair{slots: [2]*Slot{newSlot(), newSlot()}}
}

// distribute fans a frame out to every armed class.
//
// Algorithm:
//  1. Assign global sequence number
//  2. For each armed class: bounded-wait lock of its write slot
//  3. Success: copy, unlock, flip, notify that class once
//  4. Timeout: count a drop for that class only, do not flip
//
// Classes are served sequentially; the worst case per frame is one
// LockWait per stalled class.
func (s *supplier) distribute(frame *framesource.Frame) {
	frame.Seq = atomic.AddUint64(&s.publishSeq, 1)
	atomic.AddUint64(&s.published, 1)

	wait := time.Duration(s.lockWait.Load())
	for _, class := range Classes {
		s.pairs[class].publish(class, frame, wait)
	}
}

func (p *pair) publish(class Class, frame *framesource.Frame, wait time.Duration) {
	p.mu.Lock()
	if !p.armed {
		p.mu.Unlock()
		return
	}
	idx := p.write
	p.mu.Unlock()

	slot := p.slots[idx]
	if !slot.tryLock(wait) {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		slog.Debug("frame dropped for slow consumer",
			"class", class.String(),
			"seq", frame.Seq,
		)
		return
	}
	slot.store(frame)
	slot.unlock()

	p.mu.Lock()
	p.write = 1 - idx
	p.delivered++
	p.lastSeq = frame.Seq
	p.lastAt = time.Now()
	notify := p.notify
	armed := p.armed
	p.mu.Unlock()

	if armed && notify != nil {
		notify()
	}
}

// Arm starts copying frames for a class. notify is invoked once per copied
// frame from the distribution goroutine and must not block.
func (s *supplier) Arm(class Class, notify func()) {
	p := s.pairs[class]
	p.mu.Lock()
	p.armed = true
	p.notify = notify
	p.armSeq = atomic.LoadUint64(&s.publishSeq)
	p.mu.Unlock()
}

// Disarm stops copying frames for a class. Leases already held stay valid
// until released.
func (s *supplier) Disarm(class Class) {
	p := s.pairs[class]
	p.mu.Lock()
	p.armed = false
	p.notify = nil
	p.mu.Unlock()
}

// Armed reports whether a class receives frames.
func (s *supplier) Armed(class Class) bool {
	p := s.pairs[class]
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Acquire leases the newest frame of a class whose sequence is greater than
// after. It waits at most LockWait for the slot. Frames copied before the
// class was last armed are never returned.
//
// Returns (nil, false) when the class is disarmed, no newer frame exists, or
// the slot could not be locked in time.
func (s *supplier) Acquire(class Class, after uint64) (*Lease, bool) {
	p := s.pairs[class]
	p.mu.Lock()
	if !p.armed {
		p.mu.Unlock()
		return nil, false
	}
	latest := 1 - p.write
	floor := after
	if p.armSeq > floor {
		floor = p.armSeq
	}
	p.mu.Unlock()

	slot := p.slots[latest]
	if !slot.tryLock(time.Duration(s.lockWait.Load())) {
		return nil, false
	}
	if !slot.valid || slot.frame.Seq <= floor {
		slot.unlock()
		return nil, false
	}
	return &Lease{slot: slot, class: class}, true
}

// SetLockWait changes the bounded wait used by distribution and Acquire.
func (s *supplier) SetLockWait(d time.Duration) {
	if d <= 0 {
		d = DefaultLockWait
	}
	s.lockWait.Store(int64(d))
}
