package framesource

import "time"

const (
	// DefaultWidth is the Lepton 3.5 horizontal resolution.
	DefaultWidth = 160
	// DefaultHeight is the Lepton 3.5 vertical resolution.
	DefaultHeight = 120
	// TelemetryWords is the number of 16-bit telemetry words per frame.
	TelemetryWords = 240
)

// Frame is a single radiometric frame with its telemetry.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is the wall-clock capture time
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Pixels holds Width*Height radiometric samples (centi-Kelvin)
	Pixels []uint16
	// Telemetry holds the sensor telemetry words
	Telemetry []uint16
	// Checksum is the value reported by the sensor interface
	Checksum uint32
	// Min and Max are the extreme pixel values, filled in by the distributor
	Min uint16
	Max uint16
	// TraceID is a unique identifier for log correlation
	TraceID string
}

// Valid reports whether the frame checksum matches its contents.
func (f *Frame) Valid() bool {
	return f.Checksum == Checksum(f.Pixels, f.Telemetry)
}

// MinMax scans the pixel buffer for its extreme values.
func MinMax(pixels []uint16) (lo, hi uint16) {
	if len(pixels) == 0 {
		return 0, 0
	}
	lo, hi = 0xFFFF, 0
	for _, p := range pixels {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return lo, hi
}

// Stats contains current source statistics
type Stats struct {
	// FrameCount is the total number of frames produced
	FrameCount uint64
	// FramesDropped counts frames not accepted by the output channel
	FramesDropped uint64
	// CorruptFrames counts frames emitted with a bad checksum (simulation only)
	CorruptFrames uint64
	// FPSTarget is the configured frame rate
	FPSTarget float64
	// FPSReal is the measured frame rate
	FPSReal float64
	// Resolution is the frame geometry (e.g., "160x120")
	Resolution string
	// IsRunning indicates if the source is producing frames
	IsRunning bool
}
