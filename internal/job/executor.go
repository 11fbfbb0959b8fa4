// Package job runs campaigns and one-shot orders and schedules them.
package job

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/cancel"
	"github.com/campaign-runner/internal/catalog"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/retry"
	"github.com/campaign-runner/internal/storage"
	"github.com/campaign-runner/internal/types"
)

// ErrInterrupted is returned when the process shuts down mid-run. The job is
// left non-terminal with its checkpoint intact so it resumes after a restart.
var ErrInterrupted = errors.New("job interrupted by shutdown")

const finalMessageLines = 10

// CheckpointStore persists campaign progress
type CheckpointStore interface {
	SaveJobState(ctx context.Context, state *models.JobState) error
	LoadJobState(ctx context.Context, jobID string) (*models.JobState, bool, error)
	ClearJobState(ctx context.Context, jobID string) error
}

// ServiceResolver maps a platform and engagement onto a purchasable service
type ServiceResolver interface {
	Select(platform, engagement, preferredTier string) (*catalog.Service, error)
	ResolveService(platform, engagement string, quantity int) (*catalog.Service, error)
	FindService(platform, engagement, serviceID string) (*catalog.Service, error)
}

// StatusReporter receives every status change of a job
type StatusReporter interface {
	UpdateStatus(ctx context.Context, jobID string, status types.JobStatus, message string)
}

// Deps are the collaborators shared by the executor and the dispatcher
type Deps struct {
	Checkpoints CheckpointStore
	Registry    *cancel.Registry
	Orders      adapter.OrderClient
	Services    ServiceResolver
	History     storage.HistoryStore
}

// ExecutorOptions tunes execution
type ExecutorOptions struct {
	// MaxMessages bounds the progress log kept in the checkpoint
	MaxMessages int
	Sleeper     Sleeper
}

// CampaignRun is one execution request for a campaign
type CampaignRun struct {
	JobID          string
	Name           string
	Link           string
	PlatformFilter string
	Definition     *models.CampaignDefinition
}

// Executor walks campaigns loop by loop, placing each order at most once
type Executor struct {
	deps    Deps
	status  StatusReporter
	opts    ExecutorOptions
	history *retry.Config

	now      func() time.Time
	intN     func(n int) int
	float64n func() float64
}

// NewExecutor creates an executor reporting status changes to status
func NewExecutor(deps Deps, status StatusReporter, opts ExecutorOptions) *Executor {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 50
	}
	if opts.Sleeper == nil {
		opts.Sleeper = NewTickerSleeper(0, 0)
	}
	return &Executor{
		deps:   deps,
		status: status,
		opts:   opts,
		history: &retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		now:      time.Now,
		intN:     rand.IntN,
		float64n: rand.Float64,
	}
}

// campaignOutcome is the terminal decision of a run
type campaignOutcome struct {
	status  types.JobStatus
	stopped bool
	failure error
}

// RunCampaign executes or resumes a campaign until it reaches a terminal state.
// It returns ErrInterrupted without any terminal transition when ctx ends.
func (e *Executor) RunCampaign(ctx context.Context, run *CampaignRun) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    run.JobID,
		"campaign": run.Name,
	})
	ctx = logging.WithLogger(ctx, logger)

	state, resumed, err := e.initialize(ctx, run)
	if err != nil {
		logger.WithError(err).Error("Cannot read checkpoint, refusing to run campaign")
		state.AddMessage(fmt.Sprintf("Cannot load checkpoint: %v", err), e.opts.MaxMessages)
		e.finishCampaign(ctx, run, state, campaignOutcome{status: types.StatusFailed, failure: err})
		return err
	}
	if resumed {
		logger.WithFields(map[string]interface{}{
			"loop":   state.CurrentLoop,
			"orders": state.TotalOrders,
		}).Info("Resuming campaign from checkpoint")
	}

	outcome, err := e.execute(ctx, run, state)
	if errors.Is(err, ErrInterrupted) {
		e.save(context.WithoutCancel(ctx), state)
		logger.WithField("loop", state.CurrentLoop).Info("Campaign interrupted, checkpoint kept for resume")
		return err
	}

	e.finishCampaign(ctx, run, state, outcome)
	return outcome.failure
}

// initialize loads the checkpoint, or builds a fresh one when none exists.
// A checkpoint that exists but cannot be read is an error.
func (e *Executor) initialize(ctx context.Context, run *CampaignRun) (*models.JobState, bool, error) {
	fresh := &models.JobState{
		JobID:       run.JobID,
		CurrentLoop: 1,
		TotalLoops:  run.Definition.LoopSettings.Loops,
		StartTime:   e.now().UTC(),
		ProfileName: run.Name,
		Link:        run.Link,
	}

	state, ok, err := e.deps.Checkpoints.LoadJobState(ctx, run.JobID)
	if err != nil {
		return fresh, false, err
	}
	if !ok {
		e.save(ctx, fresh)
		return fresh, false, nil
	}

	if state.CurrentLoop < 1 {
		state.CurrentLoop = 1
	}
	if state.StartTime.IsZero() {
		state.StartTime = fresh.StartTime
	}
	state.TotalLoops = run.Definition.LoopSettings.Loops
	state.ProfileName = run.Name
	state.Link = run.Link
	return state, true, nil
}

// execute runs the loop state machine. Panics are converted into a failed outcome.
func (e *Executor) execute(ctx context.Context, run *CampaignRun, state *models.JobState) (outcome campaignOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			failure := fmt.Errorf("campaign executor panic: %v", r)
			logging.FromContext(ctx).WithError(failure).Error("Recovered from executor panic")
			state.AddMessage(fmt.Sprintf("Error: %v", r), e.opts.MaxMessages)
			outcome = campaignOutcome{status: types.StatusFailed, failure: failure}
			err = nil
		}
	}()

	def := run.Definition
	totalLoops := def.LoopSettings.Loops
	e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning, fmt.Sprintf("Starting campaign: %s", run.Name))

	if state.InDelay {
		remaining := state.RemainingDelay(e.now())
		if remaining > 0 {
			e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning,
				fmt.Sprintf("Resuming delay, %.1fs remaining before loop %d...", remaining.Seconds(), state.CurrentLoop))
		}
		switch e.sleep(ctx, run.JobID, state, remaining) {
		case SleepStopped:
			state.AddMessage("Stopped during delay", e.opts.MaxMessages)
			return campaignOutcome{status: types.StatusStopped, stopped: true}, nil
		case SleepInterrupted:
			return campaignOutcome{}, ErrInterrupted
		}
		clearDelay(state)
	}

	for loop := state.CurrentLoop; loop <= totalLoops; loop++ {
		if e.deps.Registry.IsStopRequested(run.JobID) {
			state.AddMessage(fmt.Sprintf("Stopped before loop %d", loop), e.opts.MaxMessages)
			return campaignOutcome{status: types.StatusStopped, stopped: true}, nil
		}
		if ctx.Err() != nil {
			return campaignOutcome{}, ErrInterrupted
		}

		state.CurrentLoop = loop
		e.save(ctx, state)
		e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning, fmt.Sprintf("Loop %d/%d...", loop, totalLoops))

		stopped, err := e.runLoop(ctx, run, state, loop)
		if err != nil {
			return campaignOutcome{}, err
		}
		if stopped || e.deps.Registry.IsStopRequested(run.JobID) {
			state.AddMessage(fmt.Sprintf("Stopped during loop %d", loop), e.opts.MaxMessages)
			return campaignOutcome{status: types.StatusStopped, stopped: true}, nil
		}

		if loop == totalLoops {
			break
		}

		delay := resolveDelay(def.LoopSettings, e.float64n)
		start := e.now().UTC()
		state.CurrentLoop = loop + 1
		if delay > 0 {
			state.InDelay = true
			state.DelayStart = &start
			state.DelayDuration = delay.Seconds()
		}
		e.save(ctx, state)
		if delay <= 0 {
			continue
		}

		e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning, fmt.Sprintf("Delay %.1fs before next loop...", delay.Seconds()))
		switch e.sleep(ctx, run.JobID, state, delay) {
		case SleepStopped:
			state.AddMessage("Stopped during delay", e.opts.MaxMessages)
			return campaignOutcome{status: types.StatusStopped, stopped: true}, nil
		case SleepInterrupted:
			return campaignOutcome{}, ErrInterrupted
		}
		clearDelay(state)
	}

	if state.TotalOrders > 0 {
		return campaignOutcome{status: types.StatusSuccess}, nil
	}
	return campaignOutcome{status: types.StatusFailed}, nil
}

// runLoop processes every engagement of one loop in definition order.
// It reports whether a stop request cut the loop short.
func (e *Executor) runLoop(ctx context.Context, run *CampaignRun, state *models.JobState, loop int) (bool, error) {
	logger := logging.FromContext(ctx).WithField("loop", loop)

	for _, eng := range run.Definition.Engagements {
		if ctx.Err() != nil {
			return false, ErrInterrupted
		}
		if e.deps.Registry.IsStopRequested(run.JobID) {
			return true, nil
		}

		if eng.Type == "" || loop > eng.Loops {
			continue
		}
		if run.PlatformFilter != "" && !strings.EqualFold(eng.Platform, run.PlatformFilter) {
			continue
		}

		qty := resolveQuantity(eng, e.intN)
		if qty <= 0 {
			state.AddMessage(fmt.Sprintf("Skip %s: no valid quantity in loop %d", eng.Type, loop), e.opts.MaxMessages)
			continue
		}

		if e.deps.Registry.IsStopRequested(run.JobID) {
			return true, nil
		}

		if state.HasOrder(loop, eng.Platform, eng.Type) {
			logger.WithFields(map[string]interface{}{
				"platform":   eng.Platform,
				"engagement": eng.Type,
			}).Info("Order already placed for loop, skipping")
			continue
		}

		svc, err := e.resolve(eng, qty)
		if err != nil {
			state.AddMessage(skipMessage(eng, qty, err), e.opts.MaxMessages)
			continue
		}

		e.status.UpdateStatus(ctx, run.JobID, types.StatusRunning, fmt.Sprintf("Ordering %d %s on %s...", qty, eng.Type, eng.Platform))

		// once sent, the order call runs to completion so its result reaches the ledger
		persistCtx := context.WithoutCancel(ctx)
		serviceID := string(svc.ServiceID)
		res, err := e.deps.Orders.PlaceOrder(persistCtx, svc.Provider, serviceID, run.Link, qty)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"platform":   eng.Platform,
				"engagement": eng.Type,
				"provider":   svc.Provider,
			}).WithError(err).Warn("Order placement failed")
			state.AddMessage(fmt.Sprintf("Failed %s -> %s", eng.Type, reason(err)), e.opts.MaxMessages)
			continue
		}

		order := models.PlacedOrder{
			Loop:          loop,
			Platform:      eng.Platform,
			Provider:      res.Provider,
			OrderID:       res.OrderID,
			Engagement:    eng.Type,
			Quantity:      qty,
			UnitRatePer1k: svc.Rate(),
			Cost:          svc.Cost(qty),
			PlacedAt:      e.now().UTC(),
		}
		state.RecordOrder(order)
		state.AddMessage(fmt.Sprintf("OK %s -> %s@%s", eng.Type, res.OrderID, res.Provider), e.opts.MaxMessages)
		e.save(persistCtx, state)
		e.recordOrderEntry(persistCtx, run, order)
	}
	return false, nil
}

func (e *Executor) resolve(eng models.Engagement, qty int) (*catalog.Service, error) {
	if eng.ServiceID == "" {
		return e.deps.Services.ResolveService(eng.Platform, eng.Type, qty)
	}
	svc, err := e.deps.Services.FindService(eng.Platform, eng.Type, eng.ServiceID)
	if err != nil {
		return nil, err
	}
	if err := svc.CheckQuantity(qty); err != nil {
		return nil, err
	}
	return svc, nil
}

// sleep waits d, persisting the checkpoint periodically
func (e *Executor) sleep(ctx context.Context, jobID string, state *models.JobState, d time.Duration) SleepResult {
	if e.deps.Registry.IsStopRequested(jobID) {
		return SleepStopped
	}
	return e.opts.Sleeper.Sleep(ctx, d, e.deps.Registry.Done(jobID), func() {
		e.save(ctx, state)
	})
}

func clearDelay(state *models.JobState) {
	state.InDelay = false
	state.DelayStart = nil
	state.DelayDuration = 0
}

// save persists the checkpoint. Failures are logged by the recorder and left
// for the next checkpoint opportunity.
func (e *Executor) save(ctx context.Context, state *models.JobState) {
	_ = e.deps.Checkpoints.SaveJobState(ctx, state)
}

// recordOrderEntry writes the per-order history side-entry
func (e *Executor) recordOrderEntry(ctx context.Context, run *CampaignRun, order models.PlacedOrder) {
	entry := &models.HistoryEntry{
		JobID:         orderEntryID(run.JobID, order.Loop, order.Platform, order.Engagement),
		ParentJobID:   run.JobID,
		Kind:          types.KindCampaign,
		Label:         run.Name,
		Link:          run.Link,
		StartTime:     order.PlacedAt,
		EndTime:       order.PlacedAt,
		Status:        types.HistorySuccess,
		Message:       fmt.Sprintf("Loop %d: %s order %s@%s", order.Loop, order.Engagement, order.OrderID, order.Provider),
		OrderCount:    1,
		TotalCost:     order.Cost,
		Platform:      order.Platform,
		Engagement:    order.Engagement,
		Quantity:      order.Quantity,
		Provider:      order.Provider,
		OrderID:       order.OrderID,
		UnitRatePer1k: order.UnitRatePer1k,
	}
	e.appendHistory(ctx, entry)
}

// finishCampaign performs the terminal transition: status view, aggregate
// history entry, checkpoint removal, registry cleanup
func (e *Executor) finishCampaign(ctx context.Context, run *CampaignRun, state *models.JobState, outcome campaignOutcome) {
	ctx = context.WithoutCancel(ctx)

	status := outcome.status
	if outcome.stopped {
		status = types.StatusStopped
	}
	message := finalMessage(state)
	end := e.now().UTC()
	cost := state.TotalCost()

	e.status.UpdateStatus(ctx, run.JobID, status, message)
	e.appendHistory(ctx, &models.HistoryEntry{
		JobID:           run.JobID,
		Kind:            types.KindCampaign,
		Label:           run.Name,
		Link:            run.Link,
		StartTime:       state.StartTime,
		EndTime:         end,
		DurationSeconds: roundTo(end.Sub(state.StartTime).Seconds(), 2),
		Status:          status.Outcome(),
		Message:         message,
		OrderCount:      state.TotalOrders,
		TotalCost:       cost,
		Orders:          state.PlacedOrders,
	})
	_ = e.deps.Checkpoints.ClearJobState(ctx, run.JobID)
	e.deps.Registry.Clear(run.JobID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"status": status,
		"orders": state.TotalOrders,
		"cost":   cost,
	}).Info("Campaign finished")
}

// FinalizeUnstarted terminates a job that will never run in this process,
// recording whatever progress an earlier process checkpointed
func (e *Executor) FinalizeUnstarted(ctx context.Context, job *models.Job, status types.JobStatus, message string) {
	ctx = context.WithoutCancel(ctx)
	end := e.now().UTC()

	entry := &models.HistoryEntry{
		JobID:      job.JobID,
		Kind:       job.Kind,
		Label:      job.Label,
		Link:       job.Link,
		StartTime:  job.CreatedAt,
		EndTime:    end,
		Status:     status.Outcome(),
		Message:    message,
		Platform:   job.Platform,
		Engagement: job.Engagement,
		Quantity:   job.Quantity,
	}
	if job.Kind.Resumable() {
		if state, ok, err := e.deps.Checkpoints.LoadJobState(ctx, job.JobID); err == nil && ok {
			entry.StartTime = state.StartTime
			entry.OrderCount = state.TotalOrders
			entry.Orders = state.PlacedOrders
			entry.TotalCost = state.TotalCost()
			entry.Message = fmt.Sprintf("Orders: %d. %s", state.TotalOrders, message)
		}
	}
	if !entry.StartTime.IsZero() {
		entry.DurationSeconds = roundTo(end.Sub(entry.StartTime).Seconds(), 2)
	}

	e.status.UpdateStatus(ctx, job.JobID, status, message)
	e.appendHistory(ctx, entry)
	if job.Kind.Resumable() {
		_ = e.deps.Checkpoints.ClearJobState(ctx, job.JobID)
	}
	e.deps.Registry.Clear(job.JobID)
}

// appendHistory writes entry, retrying storage failures. Append is idempotent
// on job id so a retried write cannot duplicate the entry.
func (e *Executor) appendHistory(ctx context.Context, entry *models.HistoryEntry) {
	if e.deps.History == nil {
		return
	}
	err := retry.Do(ctx, e.history, func(ctx context.Context, attempt int) error {
		return e.deps.History.Append(ctx, entry)
	})
	if err != nil {
		logging.FromContext(ctx).WithField("historyJobId", entry.JobID).WithError(err).Error("Failed to record history entry")
	}
}

func finalMessage(state *models.JobState) string {
	return fmt.Sprintf("Orders: %d. ", state.TotalOrders) + strings.Join(state.LastMessages(finalMessageLines), "; ")
}

func skipMessage(eng models.Engagement, qty int, err error) string {
	catErr := apperrors.Categorize(err)
	switch catErr.Code {
	case "SERVICE_NOT_FOUND", "NOT_FOUND":
		return fmt.Sprintf("No service for %s/%s", eng.Platform, eng.Type)
	case "QUANTITY_OUT_OF_RANGE":
		return fmt.Sprintf("Qty %d out of range for %s/%s", qty, eng.Platform, eng.Type)
	default:
		return fmt.Sprintf("Skip %s: %s", eng.Type, catErr.Message)
	}
}

// reason is the short form of an order error used in progress messages
func reason(err error) string {
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		if r, ok := catErr.Details["reason"].(string); ok && r != "" {
			return r
		}
		return catErr.Message
	}
	return err.Error()
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
