package framesource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatorConfig configures the synthetic sensor.
type SimulatorConfig struct {
	Width  int
	Height int
	// FPS is the frame rate (Lepton parts run at ~8.7 fps)
	FPS float64
	// CorruptEvery emits a frame with a wrong checksum every N frames (0 disables)
	CorruptEvery uint64
	// BaseKelvin is the scene floor in centi-Kelvin
	BaseKelvin uint16
}

// Simulator generates synthetic radiometric frames: a moving warm spot over
// a flat background.
type Simulator struct {
	cfg SimulatorConfig

	framesCh chan *Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	dropped       uint64
	corrupt       uint64
	isRunning     bool
	startTime     time.Time
}

// NewSimulator creates a simulated source, filling defaults for zero fields.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 8.7
	}
	if cfg.BaseKelvin == 0 {
		cfg.BaseKelvin = 29315 // 20 C
	}
	return &Simulator{cfg: cfg}
}

// Start begins generating frames
func (s *Simulator) Start(ctx context.Context) (<-chan *Frame, error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("source already running")
	}
	s.isRunning = true
	s.startTime = time.Now()
	s.framesCh = make(chan *Frame, 2)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	slog.Info("simulated thermal source starting",
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"fps", s.cfg.FPS,
		"corrupt_every", s.cfg.CorruptEvery,
	)

	s.wg.Add(1)
	go s.generateFrames(ctx)

	return s.framesCh, nil
}

// Stop stops the source. Idempotent.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.RLock()
	emitted := s.framesEmitted
	s.mu.RUnlock()

	slog.Info("simulated thermal source stopped",
		"frames_emitted", emitted,
		"duration", time.Since(s.startTime),
	)
	return nil
}

// Available reports whether the source is producing frames.
func (s *Simulator) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Stats returns source statistics
func (s *Simulator) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fpsReal float64
	if s.isRunning && s.framesEmitted > 0 {
		if elapsed := time.Since(s.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(s.framesEmitted) / elapsed
		}
	}

	return Stats{
		FrameCount:    s.framesEmitted,
		FramesDropped: s.dropped,
		CorruptFrames: s.corrupt,
		FPSTarget:     s.cfg.FPS,
		FPSReal:       fpsReal,
		Resolution:    fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		IsRunning:     s.isRunning,
	}
}

// generateFrames emits frames at the target rate. The output channel is
// closed when the generator exits.
func (s *Simulator) generateFrames(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.framesCh)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			frame := s.createFrame()
			select {
			case s.framesCh <- frame:
				s.mu.Lock()
				s.framesEmitted++
				s.mu.Unlock()
			default:
				// Consumer behind: the sensor does not wait
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			}
		}
	}
}

// createFrame renders the next synthetic frame.
func (s *Simulator) createFrame() *Frame {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	w, h := s.cfg.Width, s.cfg.Height
	pixels := make([]uint16, w*h)
	cx := int(seq) % w
	cy := (int(seq) / 2) % h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := s.cfg.BaseKelvin + uint16((x+y)%16)
			dx, dy := x-cx, y-cy
			if d := dx*dx + dy*dy; d < 64 {
				v += uint16(1500 - d*20)
			}
			pixels[y*w+x] = v
		}
	}
	telemetry := make([]uint16, TelemetryWords)
	telemetry[0] = uint16(seq)
	telemetry[1] = uint16(seq >> 16)

	frame := &Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Pixels:    pixels,
		Telemetry: telemetry,
		Checksum:  Checksum(pixels, telemetry),
		TraceID:   uuid.New().String(),
	}

	if s.cfg.CorruptEvery > 0 && seq%s.cfg.CorruptEvery == 0 {
		frame.Checksum++
		s.mu.Lock()
		s.corrupt++
		s.mu.Unlock()
	}
	return frame
}
