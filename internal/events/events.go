// Package events implements the level-triggered wake-up used between tasks.
//
// A Set holds the pending event kinds of one task. Posting OR-sets kinds and
// wakes the owner; taking clears them. Distinct kinds pending at the same time
// are all observed. Posting a kind that is already pending coalesces, so the
// owner must re-check the state behind an event rather than count wake-ups.
package events

import (
	"strings"
	"sync"
)

// Kind is a bitmask of event kinds.
type Kind uint32

const (
	// FrameReady: a new frame was copied into the owner's slot pair.
	FrameReady Kind = 1 << iota
	// MediaInserted: removable storage became present.
	MediaInserted
	// MediaRemoved: removable storage became unavailable.
	MediaRemoved
	// RecordFrameReady: a new frame is waiting for the recording engine.
	RecordFrameReady
	// ConsumersChanged: the set of live consumers needing frames changed.
	ConsumersChanged
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{FrameReady, "frame_ready"},
	{MediaInserted, "media_inserted"},
	{MediaRemoved, "media_removed"},
	{RecordFrameReady, "record_frame_ready"},
	{ConsumersChanged, "consumers_changed"},
}

// Has reports whether every kind in mask is set in k.
func (k Kind) Has(mask Kind) bool {
	return k&mask == mask && mask != 0
}

// String lists the set kinds, e.g. "frame_ready|media_removed".
func (k Kind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	for _, n := range kindNames {
		if k&n.k != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// Set is the pending-event mailbox of one task.
type Set struct {
	mu      sync.Mutex
	pending Kind
	wake    chan struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{wake: make(chan struct{}, 1)}
}

// Post marks kinds pending and wakes the owner. Never blocks.
func (s *Set) Post(kinds Kind) {
	if kinds == 0 {
		return
	}
	s.mu.Lock()
	s.pending |= kinds
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// C returns the wake channel. A receive means at least one kind may be
// pending; follow it with Take.
func (s *Set) C() <-chan struct{} {
	return s.wake
}

// Take returns and clears every pending kind.
func (s *Set) Take() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.pending
	s.pending = 0
	return k
}

// TakeOnly returns and clears the pending kinds in mask, leaving the rest.
func (s *Set) TakeOnly(mask Kind) Kind {
	s.mu.Lock()
	k := s.pending & mask
	s.pending &^= mask
	rest := s.pending
	s.mu.Unlock()

	if rest != 0 {
		// Keep the owner awake for what it left behind
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return k
}

// Pending returns the pending kinds without clearing them.
func (s *Set) Pending() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
