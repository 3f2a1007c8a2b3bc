package internal

import (
	"time"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// Slot is one half of a ping-pong pair: a frame buffer plus its lock.
//
// The lock is a one-token channel so acquisition can be bounded in time; a
// token present in the channel means the slot is free. The distributor is the
// only writer and the owning consumer the only reader.
type Slot struct {
	lock  chan struct{}
	frame framesource.Frame
	valid bool
}

func newSlot() *Slot {
	s := &Slot{lock: make(chan struct{}, 1)}
	s.lock <- struct{}{}
	return s
}

// tryLock acquires the slot, waiting at most wait.
func (s *Slot) tryLock(wait time.Duration) bool {
	select {
	case <-s.lock:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-s.lock:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Slot) unlock() {
	s.lock <- struct{}{}
}

// store copies f into the slot's own buffers. Caller holds the lock.
func (s *Slot) store(f *framesource.Frame) {
	dst := &s.frame
	dst.Seq = f.Seq
	dst.Timestamp = f.Timestamp
	dst.Width = f.Width
	dst.Height = f.Height
	dst.Checksum = f.Checksum
	dst.TraceID = f.TraceID

	if cap(dst.Pixels) < len(f.Pixels) {
		dst.Pixels = make([]uint16, len(f.Pixels))
	}
	dst.Pixels = dst.Pixels[:len(f.Pixels)]
	copy(dst.Pixels, f.Pixels)

	if cap(dst.Telemetry) < len(f.Telemetry) {
		dst.Telemetry = make([]uint16, len(f.Telemetry))
	}
	dst.Telemetry = dst.Telemetry[:len(f.Telemetry)]
	copy(dst.Telemetry, f.Telemetry)

	dst.Min, dst.Max = framesource.MinMax(dst.Pixels)
	s.valid = true
}
