package job

import (
	"context"
	"fmt"

	"github.com/campaign-runner/internal/catalog"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

// OrderRun is one execution request for a one-shot order.
// ServiceID is set for explicit-service orders and empty for catalog-resolved ones.
type OrderRun struct {
	JobID      string
	Kind       types.JobKind
	Label      string
	Platform   string
	Engagement string
	ServiceID  string
	Link       string
	Quantity   int
}

// RunOrder places a single order. One-shot jobs keep no checkpoint; a
// shutdown before the order is sent returns ErrInterrupted.
func (e *Executor) RunOrder(ctx context.Context, run *OrderRun) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":      run.JobID,
		"platform":   run.Platform,
		"engagement": run.Engagement,
	})
	ctx = logging.WithLogger(ctx, logger)
	start := e.now().UTC()

	entry := &models.HistoryEntry{
		JobID:      run.JobID,
		Kind:       run.Kind,
		Label:      run.Label,
		Link:       run.Link,
		StartTime:  start,
		Platform:   run.Platform,
		Engagement: run.Engagement,
		Quantity:   run.Quantity,
	}

	e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning,
		fmt.Sprintf("Ordering %d %s on %s...", run.Quantity, run.Engagement, run.Platform))

	if e.deps.Registry.IsStopRequested(run.JobID) {
		e.finishOrder(ctx, entry, types.StatusStopped, "Stopped before placing order")
		return nil
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	var (
		svc *catalog.Service
		err error
	)
	if run.ServiceID != "" {
		svc, err = e.deps.Services.FindService(run.Platform, run.Engagement, run.ServiceID)
		if err == nil {
			err = svc.CheckQuantity(run.Quantity)
		}
	} else {
		svc, err = e.deps.Services.ResolveService(run.Platform, run.Engagement, run.Quantity)
	}
	if err != nil {
		e.finishOrder(ctx, entry, types.StatusFailed, skipMessage(models.Engagement{
			Type:     run.Engagement,
			Platform: run.Platform,
		}, run.Quantity, err))
		return nil
	}

	entry.Provider = svc.Provider
	entry.UnitRatePer1k = svc.Rate()

	// the order call is not cut short by shutdown; the client timeout bounds it
	res, err := e.deps.Orders.PlaceOrder(context.WithoutCancel(ctx), svc.Provider, string(svc.ServiceID), run.Link, run.Quantity)
	if err != nil {
		logger.WithField("provider", svc.Provider).WithError(err).Warn("Order placement failed")
		e.finishOrder(ctx, entry, types.StatusFailed, fmt.Sprintf("Failed %s -> %s", run.Engagement, reason(err)))
		return nil
	}

	entry.OrderID = res.OrderID
	entry.Provider = res.Provider
	entry.OrderCount = 1
	entry.TotalCost = svc.Cost(run.Quantity)
	e.finishOrder(ctx, entry, types.StatusSuccess, fmt.Sprintf("Order placed: %s@%s", res.OrderID, res.Provider))
	return nil
}

func (e *Executor) finishOrder(ctx context.Context, entry *models.HistoryEntry, status types.JobStatus, message string) {
	ctx = context.WithoutCancel(ctx)
	end := e.now().UTC()

	entry.EndTime = end
	entry.DurationSeconds = roundTo(end.Sub(entry.StartTime).Seconds(), 2)
	entry.Status = status.Outcome()
	entry.Message = message

	e.status.UpdateStatus(ctx, entry.JobID, status, message)
	e.appendHistory(ctx, entry)
	e.deps.Registry.Clear(entry.JobID)

	logging.FromContext(ctx).WithField("status", status).Info("Order job finished")
}
