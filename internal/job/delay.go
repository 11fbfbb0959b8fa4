package job

import (
	"context"
	"time"
)

// SleepResult tells the executor why a delay ended
type SleepResult int

const (
	// SleepCompleted means the full delay elapsed
	SleepCompleted SleepResult = iota
	// SleepStopped means a stop was requested for the job
	SleepStopped
	// SleepInterrupted means the process is shutting down
	SleepInterrupted
)

// Sleeper waits between campaign loops. onCheckpoint is invoked periodically
// while waiting so progress can be persisted.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, stop <-chan struct{}, onCheckpoint func()) SleepResult
}

// TickerSleeper waits in tick increments and calls onCheckpoint every interval
type TickerSleeper struct {
	Tick     time.Duration
	Interval time.Duration
}

// NewTickerSleeper creates a sleeper, substituting defaults for non-positive values
func NewTickerSleeper(tick, interval time.Duration) *TickerSleeper {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TickerSleeper{Tick: tick, Interval: interval}
}

// Sleep blocks until d has passed, stop is closed or ctx is done
func (s *TickerSleeper) Sleep(ctx context.Context, d time.Duration, stop <-chan struct{}, onCheckpoint func()) SleepResult {
	if d <= 0 {
		return SleepCompleted
	}

	lastCheckpoint := time.Now()

	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return SleepInterrupted
		case <-stop:
			return SleepStopped
		case <-timer.C:
			return SleepCompleted
		case now := <-ticker.C:
			if onCheckpoint != nil && now.Sub(lastCheckpoint) >= s.Interval {
				onCheckpoint()
				lastCheckpoint = now
			}
		}
	}
}
