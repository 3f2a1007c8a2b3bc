package core

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/coordinator"
	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/playback"
	"github.com/e7canasta/tcam-core/internal/recorder"
	"github.com/e7canasta/tcam-core/internal/tjsn"
)

// TestClassify validates the error category of every package sentinel,
// including wrapped errors.
func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{media.ErrNoMedia, CategoryUnavailable},
		{fmt.Errorf("start recording: %w", media.ErrNotMounted), CategoryUnavailable},
		{recorder.ErrBusy, CategoryUnavailable},
		{recorder.ErrNoSource, CategoryUnavailable},
		{catalog.ErrNotReady, CategoryUnavailable},
		{ErrStopped, CategoryUnavailable},
		{coordinator.ErrPartialDelete, CategoryConsistency},
		{fmt.Errorf("catalog: %w", recorder.ErrUntracked), CategoryConsistency},
		{fmt.Errorf("prime: %w", tjsn.ErrMalformed), CategoryDecode},
		{tjsn.ErrNoTrailer, CategoryDecode},
		{tjsn.ErrEmptyVideo, CategoryDecode},
		{playback.ErrUnexpectedEOF, CategoryDecode},
		{playback.ErrNoPlayableFrame, CategoryDecode},
		{catalog.ErrNotFound, CategoryRequest},
		{media.ErrInvalidName, CategoryRequest},
		{fmt.Errorf("x: %w", ErrWrongKind), CategoryRequest},
		{ErrUnknownConsumer, CategoryRequest},
		{playback.ErrNotPausable, CategoryRequest},
		{io.ErrShortWrite, CategoryTransientIO},
		{errors.New("disk hiccup"), CategoryTransientIO},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestCategoryNames(t *testing.T) {
	want := map[ErrorCategory]string{
		CategoryTransientIO: "transient_io",
		CategoryIntegrity:   "integrity",
		CategoryUnavailable: "unavailable",
		CategoryConsistency: "consistency",
		CategoryDecode:      "decode",
		CategoryRequest:     "request",
	}
	for cat, name := range want {
		if cat.String() != name {
			t.Errorf("%d.String() = %q, want %q", cat, cat.String(), name)
		}
	}
}
