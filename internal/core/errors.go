package core

import (
	"errors"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/coordinator"
	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/playback"
	"github.com/e7canasta/tcam-core/internal/recorder"
	"github.com/e7canasta/tcam-core/internal/tjsn"
)

var (
	// ErrWrongKind is returned when an image is requested as a video or the
	// other way round.
	ErrWrongKind = errors.New("file is not of the requested kind")
	// ErrUnknownConsumer is returned for a consumer other than display or network.
	ErrUnknownConsumer = errors.New("unknown consumer")
	// ErrStopped is returned by requests made after the owner loop exited.
	ErrStopped = errors.New("camera stopped")
	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("camera already running")
)

// ErrorCategory classifies failures reported to consumers
type ErrorCategory int

const (
	// CategoryTransientIO: a single read or write failed
	CategoryTransientIO ErrorCategory = iota
	// CategoryIntegrity: a frame failed its checksum (counted, never reported)
	CategoryIntegrity
	// CategoryUnavailable: no media, no frame source, or a busy engine
	CategoryUnavailable
	// CategoryConsistency: card and catalog disagree (partial delete, untracked file)
	CategoryConsistency
	// CategoryDecode: a malformed record where a well-formed one was expected
	CategoryDecode
	// CategoryRequest: the request named something that does not exist or
	// cannot be done in the current state
	CategoryRequest
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransientIO:
		return "transient_io"
	case CategoryIntegrity:
		return "integrity"
	case CategoryUnavailable:
		return "unavailable"
	case CategoryConsistency:
		return "consistency"
	case CategoryDecode:
		return "decode"
	case CategoryRequest:
		return "request"
	default:
		return "unknown"
	}
}

// Classify maps an error to its category. Unrecognised errors are transient I/O.
func Classify(err error) ErrorCategory {
	switch {
	case errors.Is(err, media.ErrNoMedia),
		errors.Is(err, media.ErrNotMounted),
		errors.Is(err, recorder.ErrNoSource),
		errors.Is(err, recorder.ErrBusy),
		errors.Is(err, catalog.ErrNotReady),
		errors.Is(err, ErrStopped):
		return CategoryUnavailable

	case errors.Is(err, coordinator.ErrPartialDelete),
		errors.Is(err, recorder.ErrUntracked):
		return CategoryConsistency

	case errors.Is(err, tjsn.ErrMalformed),
		errors.Is(err, tjsn.ErrUnknownRecord),
		errors.Is(err, tjsn.ErrNoTrailer),
		errors.Is(err, tjsn.ErrEmptyVideo),
		errors.Is(err, playback.ErrNoPlayableFrame),
		errors.Is(err, playback.ErrUnexpectedEOF):
		return CategoryDecode

	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrInvalidName),
		errors.Is(err, media.ErrInvalidName),
		errors.Is(err, ErrWrongKind),
		errors.Is(err, ErrUnknownConsumer),
		errors.Is(err, playback.ErrNotOpen),
		errors.Is(err, playback.ErrNotPausable):
		return CategoryRequest
	}
	return CategoryTransientIO
}
