package job

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

const liveStatusConcurrency = 4

// LiveOrder is the provider's current view of one order
type LiveOrder struct {
	Provider   string           `json:"provider"`
	OrderID    string           `json:"order_id"`
	Engagement string           `json:"engagement,omitempty"`
	Status     types.OrderState `json:"status"`
	Remains    string           `json:"remains,omitempty"`
	Charge     string           `json:"charge,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// LiveStatus aggregates the live provider status of every order in a history entry
type LiveStatus struct {
	JobID           string           `json:"job_id"`
	AggregateStatus types.OrderState `json:"aggregate_status"`
	Items           []LiveOrder      `json:"items"`
}

// LiveOrderStatus queries each order of entry concurrently. Per-order
// failures are reported in the item rather than failing the whole call.
func LiveOrderStatus(ctx context.Context, orders adapter.OrderClient, entry *models.HistoryEntry) *LiveStatus {
	refs := entry.OrderRefs()
	items := make([]LiveOrder, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(liveStatusConcurrency)
	for i, ref := range refs {
		items[i] = LiveOrder{Provider: ref.Provider, OrderID: ref.OrderID, Engagement: ref.Engagement}
		g.Go(func() error {
			st, err := orders.OrderStatus(gctx, ref.Provider, ref.OrderID)
			if err != nil {
				items[i].Status = types.OrderError
				items[i].Error = err.Error()
				return nil
			}
			items[i].Status = st.Status
			items[i].Remains = st.Remains
			items[i].Charge = st.Charge
			return nil
		})
	}
	_ = g.Wait()

	live := &LiveStatus{JobID: entry.JobID, Items: items}
	live.AggregateStatus = aggregateOrderState(items)
	if len(items) == 0 && entry.Status == types.HistoryFailed {
		live.AggregateStatus = types.OrderFailed
	}
	return live
}

// aggregateOrderState folds per-order states: any failure wins, then any
// in-flight state, and completed only when every order completed
func aggregateOrderState(items []LiveOrder) types.OrderState {
	if len(items) == 0 {
		return types.OrderUnknown
	}

	var processing, partial, pending bool
	allCompleted := true
	for _, it := range items {
		switch it.Status {
		case types.OrderFailed, types.OrderError, types.OrderCanceled:
			return types.OrderFailed
		case types.OrderProcessing:
			processing = true
		case types.OrderPartial:
			partial = true
		case types.OrderPending:
			pending = true
		}
		if it.Status != types.OrderCompleted {
			allCompleted = false
		}
	}

	switch {
	case processing:
		return types.OrderProcessing
	case partial:
		return types.OrderPartial
	case pending:
		return types.OrderPending
	case allCompleted:
		return types.OrderCompleted
	default:
		return types.OrderUnknown
	}
}
