package framesource

import "context"

// Provider defines the interface for radiometric frame sources.
//
// Start returns a channel that delivers frames until Stop is called or ctx is
// cancelled; the channel is closed when the source shuts down. Available
// reports whether the sensor is present and producing, and is polled by the
// recording engine before a session starts.
type Provider interface {
	Start(ctx context.Context) (<-chan *Frame, error)
	Stop() error
	Available() bool
	Stats() Stats
}
