package internal

import (
	"sync/atomic"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// Publish validates a frame and hands it to the distribution loop.
//
// Semantics:
//   - Integrity: a checksum mismatch rejects the frame for every class
//     (returns false, counted in IntegrityDrops, never retried)
//   - Non-blocking: the inbox holds one frame; a newer frame overwrites an
//     unconsumed one (counted in InboxDrops)
//
// Contract: the caller MUST NOT modify frame after Publish returns true.
func (s *supplier) Publish(frame *framesource.Frame) bool {
	if !frame.Valid() {
		atomic.AddUint64(&s.integrityDrops, 1)
		return false
	}

	s.inboxMu.Lock()
	if s.inboxFrame != nil {
		atomic.AddUint64(&s.inboxDrops, 1)
	}
	s.inboxFrame = frame
	s.inboxCond.Signal()
	s.inboxMu.Unlock()

	return true
}

// Distribute validates a frame and copies it into every armed class on the
// caller's goroutine. It is the synchronous form of Publish for producers
// that run their own loop.
func (s *supplier) Distribute(frame *framesource.Frame) bool {
	if !frame.Valid() {
		atomic.AddUint64(&s.integrityDrops, 1)
		return false
	}
	s.distribute(frame)
	return true
}
