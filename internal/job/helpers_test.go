package job

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/cancel"
	"github.com/campaign-runner/internal/catalog"
	"github.com/campaign-runner/internal/checkpoint"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/storage"
	"github.com/campaign-runner/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int { return &i }

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Service{
		{Platform: "Instagram", Engagement: "Likes", Provider: "peakerr", ServiceID: "1001", RatePer1k: floatPtr(0.5), MinQty: intPtr(10), MaxQty: intPtr(10000)},
		{Platform: "Instagram", Engagement: "Views", Provider: "justanotherpanel", ServiceID: "2001", RatePer1k: floatPtr(0.1), MinQty: intPtr(100)},
		{Platform: "TikTok", Engagement: "Likes", Provider: "smmkings", ServiceID: "3001", RatePer1k: floatPtr(1.0)},
	})
}

type placeCall struct {
	Provider  string
	ServiceID string
	Link      string
	Quantity  int
}

// fakeOrders records every placement. onPlace runs after a successful
// placement, before the result is returned. Like the HTTP client, a context
// canceled while the call is in flight loses the reply.
type fakeOrders struct {
	mu       sync.Mutex
	calls    []placeCall
	failFor  map[string]error
	panicNow bool
	onPlace  func(n int)
	statuses map[string]*adapter.OrderStatus
	next     int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{failFor: map[string]error{}, statuses: map[string]*adapter.OrderStatus{}}
}

func (f *fakeOrders) PlaceOrder(ctx context.Context, provider, serviceID, link string, quantity int) (*adapter.OrderResult, error) {
	f.mu.Lock()
	if f.panicNow {
		f.mu.Unlock()
		panic("provider client exploded")
	}
	f.calls = append(f.calls, placeCall{Provider: provider, ServiceID: serviceID, Link: link, Quantity: quantity})
	if err, ok := f.failFor[serviceID]; ok {
		f.mu.Unlock()
		return nil, err
	}
	f.next++
	n := f.next
	hook := f.onPlace
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &adapter.OrderResult{Provider: provider, OrderID: fmt.Sprintf("%d", 5000+n)}, nil
}

func (f *fakeOrders) OrderStatus(ctx context.Context, provider, orderID string) (*adapter.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[provider+"/"+orderID]
	if !ok {
		return nil, apperrors.NewProviderError(provider, fmt.Errorf("unknown order %s", orderID))
	}
	return st, nil
}

func (f *fakeOrders) Balance(ctx context.Context, provider string) (*adapter.Balance, error) {
	return &adapter.Balance{Provider: provider, Balance: "10.00", Currency: "USD"}, nil
}

func (f *fakeOrders) Calls() []placeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placeCall(nil), f.calls...)
}

func (f *fakeOrders) countFor(serviceID string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.ServiceID == serviceID {
			n++
		}
	}
	return n
}

// fakeSleeper returns immediately, recording the requested durations
type fakeSleeper struct {
	mu        sync.Mutex
	durations []time.Duration
	onSleep   func(call int) SleepResult
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration, stop <-chan struct{}, onCheckpoint func()) SleepResult {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	call := len(s.durations)
	hook := s.onSleep
	s.mu.Unlock()

	if onCheckpoint != nil {
		onCheckpoint()
	}
	if hook != nil {
		if res := hook(call); res != SleepCompleted {
			return res
		}
	}
	select {
	case <-stop:
		return SleepStopped
	default:
	}
	if ctx.Err() != nil {
		return SleepInterrupted
	}
	return SleepCompleted
}

func (s *fakeSleeper) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

type statusUpdate struct {
	JobID   string
	Status  types.JobStatus
	Message string
}

// recordingStatus is a StatusReporter that keeps every update
type recordingStatus struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (r *recordingStatus) UpdateStatus(ctx context.Context, jobID string, status types.JobStatus, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{JobID: jobID, Status: status, Message: message})
}

func (r *recordingStatus) last(jobID string) (statusUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].JobID == jobID {
			return r.updates[i], true
		}
	}
	return statusUpdate{}, false
}

func (r *recordingStatus) terminalCount(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.JobID == jobID && u.Status.IsTerminal() {
			n++
		}
	}
	return n
}

type harness struct {
	dir      string
	recorder *checkpoint.Recorder
	registry *cancel.Registry
	orders   *fakeOrders
	catalog  *catalog.Catalog
	history  *storage.FileHistory
	status   *recordingStatus
	sleeper  *fakeSleeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	return &harness{
		dir: dir,
		recorder: checkpoint.NewRecorder(
			storage.NewFallbackStore("job_states", nil, storage.NewFileStateStore(filepath.Join(dir, "job_states.json"))),
			storage.NewFallbackStore("active_jobs", nil, storage.NewFileStateStore(filepath.Join(dir, "active_jobs.json"))),
		),
		registry: cancel.NewRegistry(),
		orders:   newFakeOrders(),
		catalog:  testCatalog(),
		history:  storage.NewFileHistory(filepath.Join(dir, "history.json"), 0),
		status:   &recordingStatus{},
		sleeper:  &fakeSleeper{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Checkpoints: h.recorder,
		Registry:    h.registry,
		Orders:      h.orders,
		Services:    h.catalog,
		History:     h.history,
	}
}

func (h *harness) executor() *Executor {
	e := NewExecutor(h.deps(), h.status, ExecutorOptions{MaxMessages: 50, Sleeper: h.sleeper})
	e.intN = func(n int) int { return n - 1 }
	e.float64n = func() float64 { return 0.5 }
	return e
}

func (h *harness) entry(t *testing.T, jobID string) *models.HistoryEntry {
	t.Helper()
	entry, err := h.history.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("history entry %s: %v", jobID, err)
	}
	return entry
}

func (h *harness) sideEntries(t *testing.T, jobID string) []*models.HistoryEntry {
	t.Helper()
	all, err := h.history.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	var out []*models.HistoryEntry
	for _, e := range all {
		if e.ParentJobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func likesCampaign(loops int, delay float64) *models.CampaignDefinition {
	def := &models.CampaignDefinition{
		Engagements: []models.Engagement{
			{Type: "Likes", FixedQuantity: 50, Loops: loops},
		},
		LoopSettings: models.LoopSettings{Loops: loops, Delay: delay},
	}
	def.Normalize()
	return def
}
