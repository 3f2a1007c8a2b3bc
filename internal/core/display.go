package core

import (
	"sync"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// DisplayFrame is the frame currently shown on the display.
type DisplayFrame struct {
	Frame *framesource.Frame
	// Playback is true when the frame came from a playback session.
	Playback bool
}

// DisplayBuffer is the display consumer: it keeps the newest frame for the
// screen to pick up. Older frames are overwritten.
type DisplayBuffer struct {
	mu       sync.RWMutex
	cur      DisplayFrame
	ok       bool
	frames   uint64
	playback uint64
}

// DeliverFrame replaces the current frame. A non-empty consumer marks a
// playback frame.
func (d *DisplayBuffer) DeliverFrame(consumer string, f *framesource.Frame) {
	d.mu.Lock()
	d.cur = DisplayFrame{Frame: f, Playback: consumer != ""}
	d.ok = true
	d.frames++
	if consumer != "" {
		d.playback++
	}
	d.mu.Unlock()
}

// Latest returns the current frame.
func (d *DisplayBuffer) Latest() (DisplayFrame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur, d.ok
}

// DisplayStats counts frames shown.
type DisplayStats struct {
	Frames   uint64 `json:"frames"`
	Playback uint64 `json:"playback"`
}

// Stats returns display counters.
func (d *DisplayBuffer) Stats() DisplayStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DisplayStats{Frames: d.frames, Playback: d.playback}
}

// cloneFrame copies a leased frame so it outlives the lease.
func cloneFrame(f *framesource.Frame) *framesource.Frame {
	c := *f
	c.Pixels = append([]uint16(nil), f.Pixels...)
	c.Telemetry = append([]uint16(nil), f.Telemetry...)
	return &c
}
