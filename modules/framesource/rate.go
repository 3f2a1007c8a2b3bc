package framesource

import (
	"math"
	"sync"
	"time"
)

const (
	// A source is stable when the rate deviation stays under 15% of the mean
	// rate and the mean jitter under 20% of the expected interval.
	rateStabilityThreshold   = 0.15
	jitterStabilityThreshold = 0.20
)

// RateStats summarises the arrival rate of a run of frames.
type RateStats struct {
	Frames     int           `json:"frames"`
	Window     time.Duration `json:"window"`
	FPSMean    float64       `json:"fps_mean"`
	FPSStdDev  float64       `json:"fps_stddev"`
	FPSMin     float64       `json:"fps_min"`
	FPSMax     float64       `json:"fps_max"`
	JitterMean float64       `json:"jitter_mean_s"`
	JitterMax  float64       `json:"jitter_max_s"`
	Stable     bool          `json:"stable"`
}

// CalculateRate computes rate statistics over frame arrival times.
func CalculateRate(times []time.Time) RateStats {
	n := len(times)
	st := RateStats{Frames: n}
	if n < 2 {
		return st
	}
	st.Window = times[n-1].Sub(times[0])
	if st.Window <= 0 {
		return st
	}
	st.FPSMean = float64(n-1) / st.Window.Seconds()
	expected := 1.0 / st.FPSMean

	var rates []float64
	var sumSq, jitterSum float64
	for i := 1; i < n; i++ {
		interval := times[i].Sub(times[i-1]).Seconds()

		jitter := math.Abs(interval - expected)
		jitterSum += jitter
		st.JitterMax = max(st.JitterMax, jitter)

		if interval <= 0 {
			continue
		}
		fps := 1.0 / interval
		if len(rates) == 0 {
			st.FPSMin, st.FPSMax = fps, fps
		}
		st.FPSMin = min(st.FPSMin, fps)
		st.FPSMax = max(st.FPSMax, fps)
		rates = append(rates, fps)
		sumSq += (fps - st.FPSMean) * (fps - st.FPSMean)
	}
	st.JitterMean = jitterSum / float64(n-1)
	if len(rates) > 0 {
		st.FPSStdDev = math.Sqrt(sumSq / float64(len(rates)))
	}

	st.Stable = len(rates) > 0 &&
		st.FPSStdDev < st.FPSMean*rateStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// RateMeter keeps the arrival times of the last frames seen.
type RateMeter struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewRateMeter returns a meter over the last window frames.
func NewRateMeter(window int) *RateMeter {
	if window < 2 {
		window = 2
	}
	return &RateMeter{times: make([]time.Time, window)}
}

// Observe records one frame arrival.
func (m *RateMeter) Observe(t time.Time) {
	m.mu.Lock()
	m.times[m.next] = t
	m.next = (m.next + 1) % len(m.times)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Stats computes statistics over the recorded window, oldest first.
func (m *RateMeter) Stats() RateStats {
	m.mu.Lock()
	var times []time.Time
	if m.full {
		times = append(times, m.times[m.next:]...)
		times = append(times, m.times[:m.next]...)
	} else {
		times = append(times, m.times[:m.next]...)
	}
	m.mu.Unlock()
	return CalculateRate(times)
}
