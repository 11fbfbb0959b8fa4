package cancel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_RequestStop(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsStopRequested("job"))
	r.RequestStop("job")
	r.RequestStop("job")
	assert.True(t, r.IsStopRequested("job"))
	assert.False(t, r.IsStopRequested("other"))

	r.Clear("job")
	assert.False(t, r.IsStopRequested("job"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DoneWakesWaiter(t *testing.T) {
	r := NewRegistry()
	done := r.Done("job")

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.RequestStop("job")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done channel was not closed after RequestStop")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); r.RequestStop("job") }()
		go func() { defer wg.Done(); _ = r.IsStopRequested("job") }()
		go func() { defer wg.Done(); <-r.Done("job") }()
	}
	wg.Wait()
	assert.True(t, r.IsStopRequested("job"))
}
