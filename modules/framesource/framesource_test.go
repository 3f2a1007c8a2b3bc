package framesource_test

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// TestChecksumByteSum validates the sensor checksum definition.
//
// Contract:
//   - Every 16-bit word contributes its low and high byte
//   - Pixels and telemetry are both covered
func TestChecksumByteSum(t *testing.T) {
	pixels := []uint16{0x0102, 0xFF00}
	telemetry := []uint16{0x0001}

	// 0x01+0x02 + 0xFF+0x00 + 0x01+0x00
	want := uint32(1 + 2 + 255 + 0 + 1 + 0)
	if got := framesource.Checksum(pixels, telemetry); got != want {
		t.Fatalf("Checksum() = %d, want %d", got, want)
	}
}

func TestFrameValid(t *testing.T) {
	f := &framesource.Frame{
		Pixels:    []uint16{100, 200, 300},
		Telemetry: []uint16{7},
	}
	f.Checksum = framesource.Checksum(f.Pixels, f.Telemetry)
	if !f.Valid() {
		t.Fatal("frame with matching checksum reported invalid")
	}

	f.Pixels[1] = 201
	if f.Valid() {
		t.Fatal("frame with mutated pixels reported valid")
	}
}

func TestMinMax(t *testing.T) {
	lo, hi := framesource.MinMax([]uint16{500, 20, 900, 300})
	if lo != 20 || hi != 900 {
		t.Errorf("MinMax() = (%d, %d), want (20, 900)", lo, hi)
	}

	lo, hi = framesource.MinMax(nil)
	if lo != 0 || hi != 0 {
		t.Errorf("MinMax(nil) = (%d, %d), want (0, 0)", lo, hi)
	}
}

// TestSimulatorProducesValidFrames validates simulated frames carry correct
// checksums and the configured geometry, except the deliberately corrupt ones.
func TestSimulatorProducesValidFrames(t *testing.T) {
	src := framesource.NewSimulator(framesource.SimulatorConfig{
		Width:        32,
		Height:       24,
		FPS:          200,
		CorruptEvery: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer src.Stop()

	if !src.Available() {
		t.Fatal("Available() = false after Start")
	}

	timeout := time.After(2 * time.Second)
	for received := 0; received < 6; {
		select {
		case f := <-frames:
			received++
			if len(f.Pixels) != 32*24 {
				t.Fatalf("frame %d has %d pixels, want %d", f.Seq, len(f.Pixels), 32*24)
			}
			if len(f.Telemetry) != framesource.TelemetryWords {
				t.Fatalf("frame %d has %d telemetry words", f.Seq, len(f.Telemetry))
			}
			wantValid := f.Seq%3 != 0
			if f.Valid() != wantValid {
				t.Errorf("frame %d Valid() = %v, want %v", f.Seq, f.Valid(), wantValid)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for frames (received %d)", received)
		}
	}
}

// TestSimulatorStopIdempotent validates Stop closes the frame channel and can
// be called repeatedly.
func TestSimulatorStopIdempotent(t *testing.T) {
	src := framesource.NewSimulator(framesource.SimulatorConfig{FPS: 100})

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := src.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if src.Available() {
		t.Error("Available() = true after Stop")
	}

	// Drain until closed
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("frame channel not closed after Stop")
		}
	}
}
