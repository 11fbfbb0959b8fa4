package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaign-runner/internal/config"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/retry"
	"github.com/campaign-runner/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SMMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewSMMClient(config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{
			"peakerr": {APIURL: srv.URL, APIKey: "secret", RPS: 100, Burst: 10},
		},
		Timeout: 2 * time.Second,
	})
	c.retry = &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return c
}

func TestPlaceOrder_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("key"))
		assert.Equal(t, "add", r.PostForm.Get("action"))
		assert.Equal(t, "1001", r.PostForm.Get("service"))
		assert.Equal(t, "https://instagram.com/p/abc", r.PostForm.Get("link"))
		assert.Equal(t, "50", r.PostForm.Get("quantity"))
		w.Write([]byte(`{"order": 23501}`))
	})

	res, err := c.PlaceOrder(context.Background(), "Peakerr", "1001", "https://instagram.com/p/abc", 50)
	require.NoError(t, err)
	assert.Equal(t, "peakerr", res.Provider)
	assert.Equal(t, "23501", res.OrderID)
}

func TestPlaceOrder_RejectedIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"error": "Not enough funds on balance"}`))
	})

	_, err := c.PlaceOrder(context.Background(), "peakerr", "1001", "link", 50)
	require.Error(t, err)
	assert.Equal(t, "PROVIDER_REJECTED", apperrors.Categorize(err).Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceOrder_ServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.PlaceOrder(context.Background(), "peakerr", "1001", "link", 50)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceOrder_UnknownProvider(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.PlaceOrder(context.Background(), "nobody", "1", "link", 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrderStatus_RetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"charge": "0.27819", "start_count": "3572", "status": "In progress", "remains": 157, "currency": "USD"}`))
	})

	st, err := c.OrderStatus(context.Background(), "peakerr", "23501")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, types.OrderProcessing, st.Status)
	assert.Equal(t, "In progress", st.RawStatus)
	assert.Equal(t, "157", st.Remains)
	assert.Equal(t, "0.27819", st.Charge)
}

func TestBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "balance", r.PostForm.Get("action"))
		w.Write([]byte(`{"balance": "100.84292", "currency": "USD"}`))
	})

	bal, err := c.Balance(context.Background(), "peakerr")
	require.NoError(t, err)
	assert.Equal(t, "100.84292", bal.Balance)
	assert.Equal(t, "USD", bal.Currency)
}

func TestCircuitOpensAfterTransportFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := c.PlaceOrder(context.Background(), "peakerr", "1", "link", 1)
		require.Error(t, err)
	}
	_, err := c.PlaceOrder(context.Background(), "peakerr", "1", "link", 1)
	require.Error(t, err)

	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, "open", string(c.BreakerStates()["peakerr"]))
}

func TestNormalizeOrderState(t *testing.T) {
	tests := []struct {
		raw  string
		want types.OrderState
	}{
		{"", types.OrderUnknown},
		{"In progress", types.OrderProcessing},
		{"Processing", types.OrderProcessing},
		{"Pending", types.OrderPending},
		{"Completed", types.OrderCompleted},
		{"Partial", types.OrderPartial},
		{"Canceled", types.OrderCanceled},
		{"Cancelled", types.OrderCanceled},
		{"Fail", types.OrderFailed},
		{"weird", types.OrderUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeOrderState(tt.raw); got != tt.want {
			t.Errorf("NormalizeOrderState(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeProvider(t *testing.T) {
	assert.Equal(t, "justanotherpanel", NormalizeProvider("JAP"))
	assert.Equal(t, "smmkings", NormalizeProvider("SMM Kings"))
	assert.Equal(t, "peakerr", NormalizeProvider(" Peakerr "))
}
