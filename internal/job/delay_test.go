package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickerSleeper_Completes(t *testing.T) {
	s := NewTickerSleeper(5*time.Millisecond, 10*time.Millisecond)
	var checkpoints atomic.Int32

	start := time.Now()
	res := s.Sleep(context.Background(), 60*time.Millisecond, make(chan struct{}), func() { checkpoints.Add(1) })

	assert.Equal(t, SleepCompleted, res)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Positive(t, checkpoints.Load(), "checkpoint runs while waiting")
}

func TestTickerSleeper_Stop(t *testing.T) {
	s := NewTickerSleeper(5*time.Millisecond, time.Second)
	stop := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(stop) })

	start := time.Now()
	assert.Equal(t, SleepStopped, s.Sleep(context.Background(), time.Minute, stop, nil))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTickerSleeper_Interrupted(t *testing.T) {
	s := NewTickerSleeper(5*time.Millisecond, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Equal(t, SleepInterrupted, s.Sleep(ctx, time.Minute, nil, nil))
}

func TestTickerSleeper_NonPositive(t *testing.T) {
	s := NewTickerSleeper(0, 0)
	assert.Equal(t, 500*time.Millisecond, s.Tick)
	assert.Equal(t, 5*time.Second, s.Interval)
	assert.Equal(t, SleepCompleted, s.Sleep(context.Background(), 0, nil, nil))
}
