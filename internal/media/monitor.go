package media

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCheckPeriod is how often card presence is polled.
const DefaultCheckPeriod = 2 * time.Second

// Monitor polls card presence and reports changes.
type Monitor struct {
	card     *Card
	period   time.Duration
	onChange func(present bool)
}

// NewMonitor returns a Monitor that calls onChange on every presence change.
// The first poll always reports the initial state.
func NewMonitor(card *Card, period time.Duration, onChange func(present bool)) *Monitor {
	if period <= 0 {
		period = DefaultCheckPeriod
	}
	return &Monitor{card: card, period: period, onChange: onChange}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	present := m.card.Present()
	slog.Info("media monitor started", "root", m.card.Root(), "present", present, "period", m.period)
	m.onChange(present)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.card.Present()
			if now == present {
				continue
			}
			present = now
			slog.Info("media presence changed", "present", present)
			m.onChange(present)
		}
	}
}
