package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/campaign-runner/internal/catalog"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

const (
	msgRestartManual = "Server restarted - manual restart required"
	msgCannotResume  = "Cannot resume: campaign definition not found"
	msgStopRequested = "Stop requested"
	msgStoppedQueued = "Stopped before start"
	msgResuming      = "Resuming after restart"
)

// SnapshotStore persists the set of non-terminal jobs
type SnapshotStore interface {
	SaveActiveJobsSnapshot(ctx context.Context, snapshot models.ActiveJobsSnapshot) error
	LoadActiveJobsSnapshot(ctx context.Context) (models.ActiveJobsSnapshot, error)
}

// DefinitionStore resolves campaign definitions by name
type DefinitionStore interface {
	Get(ctx context.Context, name string) (*models.CampaignDefinition, error)
	Save(ctx context.Context, name string, def *models.CampaignDefinition) error
}

// DispatcherDeps are the dispatcher's collaborators
type DispatcherDeps struct {
	Deps
	Snapshots SnapshotStore
	Profiles  DefinitionStore
}

// DispatcherOptions tunes scheduling
type DispatcherOptions struct {
	MaxConcurrentJobs int
	PollInterval      time.Duration
	Executor          ExecutorOptions
}

// CampaignRequest asks for a campaign run. Definition may be nil, in which
// case the stored definition for Name is used.
type CampaignRequest struct {
	Name           string
	Definition     *models.CampaignDefinition
	Link           string
	PlatformFilter string
	StartAt        *time.Time
}

// OrderRequest asks for a single order. ServiceID selects an explicit service.
type OrderRequest struct {
	Platform   string
	Engagement string
	ServiceID  string
	Link       string
	Quantity   int
}

// queuedWork is what a job runs once it leaves the queue
type queuedWork struct {
	campaign *CampaignRun
	order    *OrderRun
}

// Dispatcher owns the live status view of every job, schedules execution and
// rehydrates interrupted jobs on start
type Dispatcher struct {
	deps     DispatcherDeps
	opts     DispatcherOptions
	executor *Executor
	now      func() time.Time

	mu      sync.Mutex
	jobs    map[string]*models.Job
	work    map[string]*queuedWork
	queue   *scheduleQueue
	started bool
	cancel  context.CancelFunc

	// snapMu serialises snapshot writes; it is always taken before mu
	snapMu sync.Mutex

	sem  chan struct{}
	wake chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher creates a dispatcher and the executor it drives
func NewDispatcher(deps DispatcherDeps, opts DispatcherOptions) *Dispatcher {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 20
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	d := &Dispatcher{
		deps:  deps,
		opts:  opts,
		now:   time.Now,
		jobs:  make(map[string]*models.Job),
		work:  make(map[string]*queuedWork),
		queue: newScheduleQueue(),
		sem:   make(chan struct{}, opts.MaxConcurrentJobs),
		wake:  make(chan struct{}, 1),
	}
	d.executor = NewExecutor(deps.Deps, d, opts.Executor)
	return d
}

// Executor returns the executor driven by the dispatcher
func (d *Dispatcher) Executor() *Executor {
	return d.executor
}

// ScheduleCampaign validates the request, registers a pending job and queues it
func (d *Dispatcher) ScheduleCampaign(ctx context.Context, req CampaignRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", apperrors.NewInvalidParameterError("name", "must not be empty")
	}
	link := strings.TrimSpace(req.Link)
	if link == "" {
		return "", apperrors.NewInvalidParameterError("link", "must not be empty")
	}

	def := req.Definition
	if def == nil {
		stored, err := d.deps.Profiles.Get(ctx, name)
		if err != nil {
			return "", err
		}
		def = stored
	} else {
		def.Normalize()
		if err := def.Validate(); err != nil {
			return "", err
		}
		// stored so a restart can resolve the campaign by name
		if err := d.deps.Profiles.Save(ctx, name, def); err != nil {
			return "", err
		}
	}

	now := d.now().UTC()
	job := &models.Job{
		JobID:          newCampaignJobID(name),
		Kind:           types.KindCampaign,
		Status:         types.StatusPending,
		Message:        "Scheduled",
		Label:          name,
		Link:           link,
		CampaignName:   name,
		PlatformFilter: strings.TrimSpace(req.PlatformFilter),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.StartAt != nil && req.StartAt.After(now) {
		runAt := req.StartAt.UTC()
		job.RunAt = &runAt
		job.Message = fmt.Sprintf("Scheduled for %s", runAt.Format(time.RFC3339))
	}

	d.enqueue(ctx, job, &queuedWork{campaign: &CampaignRun{
		JobID:          job.JobID,
		Name:           name,
		Link:           link,
		PlatformFilter: job.PlatformFilter,
		Definition:     def,
	}})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    job.JobID,
		"campaign": name,
		"loops":    def.LoopSettings.Loops,
	}).Info("Campaign scheduled")
	return job.JobID, nil
}

// ScheduleSingleOrder queues a one-shot order resolved through the catalog
func (d *Dispatcher) ScheduleSingleOrder(ctx context.Context, req OrderRequest) (string, error) {
	req.ServiceID = ""
	return d.scheduleOrder(ctx, req, types.KindSingleOrder)
}

// ScheduleServiceOrder queues a one-shot order against an explicit service id
func (d *Dispatcher) ScheduleServiceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if strings.TrimSpace(req.ServiceID) == "" {
		return "", apperrors.NewInvalidParameterError("service_id", "must not be empty")
	}
	return d.scheduleOrder(ctx, req, types.KindServiceOrder)
}

func (d *Dispatcher) scheduleOrder(ctx context.Context, req OrderRequest, kind types.JobKind) (string, error) {
	req.Platform = strings.TrimSpace(req.Platform)
	if req.Platform == "" {
		req.Platform = types.DefaultPlatform
	}
	req.Engagement = strings.TrimSpace(req.Engagement)
	req.Link = strings.TrimSpace(req.Link)
	req.ServiceID = strings.TrimSpace(req.ServiceID)

	switch {
	case req.Engagement == "":
		return "", apperrors.NewInvalidParameterError("engagement", "must not be empty")
	case req.Link == "":
		return "", apperrors.NewInvalidParameterError("link", "must not be empty")
	case req.Quantity <= 0:
		return "", apperrors.NewInvalidParameterError("quantity", "must be positive")
	}

	// Reject unresolvable orders up front rather than failing asynchronously
	if kind == types.KindServiceOrder {
		id, err := catalog.ParseServiceID(req.ServiceID)
		if err != nil {
			return "", err
		}
		req.ServiceID = id
		svc, err := d.deps.Services.FindService(req.Platform, req.Engagement, req.ServiceID)
		if err != nil {
			return "", err
		}
		if err := svc.CheckQuantity(req.Quantity); err != nil {
			return "", err
		}
	} else if _, err := d.deps.Services.ResolveService(req.Platform, req.Engagement, req.Quantity); err != nil {
		return "", err
	}

	var jobID string
	if kind == types.KindServiceOrder {
		jobID = newServiceOrderJobID(req.Platform, req.Engagement, req.ServiceID)
	} else {
		jobID = newSingleOrderJobID(req.Platform, req.Engagement)
	}
	label := fmt.Sprintf("%d %s on %s", req.Quantity, req.Engagement, req.Platform)

	now := d.now().UTC()
	job := &models.Job{
		JobID:      jobID,
		Kind:       kind,
		Status:     types.StatusPending,
		Message:    "Scheduled",
		Label:      label,
		Link:       req.Link,
		CreatedAt:  now,
		UpdatedAt:  now,
		Platform:   req.Platform,
		Engagement: req.Engagement,
		ServiceID:  req.ServiceID,
		Quantity:   req.Quantity,
	}
	d.enqueue(ctx, job, &queuedWork{order: &OrderRun{
		JobID:      jobID,
		Kind:       kind,
		Label:      label,
		Platform:   req.Platform,
		Engagement: req.Engagement,
		ServiceID:  req.ServiceID,
		Link:       req.Link,
		Quantity:   req.Quantity,
	}})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    jobID,
		"kind":     kind,
		"quantity": req.Quantity,
	}).Info("Order scheduled")
	return jobID, nil
}

// enqueue registers job, queues its work and persists the snapshot
func (d *Dispatcher) enqueue(ctx context.Context, job *models.Job, work *queuedWork) {
	runAt := job.CreatedAt
	if job.RunAt != nil {
		runAt = *job.RunAt
	}

	d.mu.Lock()
	d.jobs[job.JobID] = job
	d.work[job.JobID] = work
	d.queue.push(job.JobID, runAt)
	d.mu.Unlock()

	d.persistSnapshot(ctx)
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// UpdateStatus records a status change and persists the snapshot. Updates to
// a job that already reached a terminal status are ignored.
func (d *Dispatcher) UpdateStatus(ctx context.Context, jobID string, status types.JobStatus, message string) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		d.mu.Unlock()
		return
	}
	job.Status = status
	job.Message = message
	job.UpdatedAt = d.now().UTC()
	d.mu.Unlock()

	d.persistSnapshot(ctx)
}

// persistSnapshot writes every non-terminal job. Snapshot failures are logged
// by the recorder and corrected by the next mutation.
func (d *Dispatcher) persistSnapshot(ctx context.Context) {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()

	d.mu.Lock()
	snapshot := make(models.ActiveJobsSnapshot, len(d.jobs))
	for id, job := range d.jobs {
		if !job.Status.IsTerminal() {
			snapshot[id] = job.Clone()
		}
	}
	d.mu.Unlock()

	_ = d.deps.Snapshots.SaveActiveJobsSnapshot(context.WithoutCancel(ctx), snapshot)
}

// RequestStop asks a job to stop. A job still waiting in the queue is
// finalised immediately; a running job stops at its next safe point.
// Stopping a finished job is a no-op.
func (d *Dispatcher) RequestStop(ctx context.Context, jobID string) error {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if !ok {
		d.mu.Unlock()
		if _, err := d.GetStatus(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	if job.Status.IsTerminal() {
		d.mu.Unlock()
		return nil
	}

	if d.queue.remove(jobID) {
		delete(d.work, jobID)
		unstarted := job.Clone()
		d.mu.Unlock()

		logging.FromContext(ctx).WithField("jobId", jobID).Info("Stopping queued job")
		d.executor.FinalizeUnstarted(ctx, unstarted, types.StatusStopped, msgStoppedQueued)
		d.forget(jobID)
		return nil
	}

	// held under mu so the executor's terminal Clear cannot interleave
	d.deps.Registry.RequestStop(jobID)
	job.Message = msgStopRequested
	job.UpdatedAt = d.now().UTC()
	d.mu.Unlock()

	logging.FromContext(ctx).WithField("jobId", jobID).Info("Stop requested for running job")
	d.persistSnapshot(ctx)
	return nil
}

// GetStatus returns the live record of a job, falling back to history for
// jobs finished by an earlier process
func (d *Dispatcher) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if ok {
		out := job.Clone()
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()

	if d.deps.History != nil {
		entry, err := d.deps.History.Get(ctx, jobID)
		if err == nil {
			return &models.Job{
				JobID:     entry.JobID,
				Kind:      entry.Kind,
				Status:    entry.Status.JobStatus(),
				Message:   entry.Message,
				Label:     entry.Label,
				Link:      entry.Link,
				CreatedAt: entry.StartTime,
				UpdatedAt: entry.EndTime,
			}, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, apperrors.NewNotFoundError("job", jobID)
}

// ListActiveJobs returns every non-terminal job, oldest first
func (d *Dispatcher) ListActiveJobs() []*models.Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*models.Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Start rehydrates jobs from the last snapshot and begins dispatching
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	if err := d.rehydrate(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to load active jobs snapshot, starting empty")
	}

	d.wg.Add(1)
	go d.loop(ctx)
	return nil
}

// Stop cancels running jobs and waits for them to checkpoint and return.
// Interrupted jobs stay in the snapshot and resume on the next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// rehydrate resubmits resumable jobs from the snapshot and terminates the rest
func (d *Dispatcher) rehydrate(ctx context.Context) error {
	snapshot, err := d.deps.Snapshots.LoadActiveJobsSnapshot(ctx)
	if err != nil {
		return err
	}

	jobs := make([]*models.Job, 0, len(snapshot))
	for _, job := range snapshot {
		if !job.Status.IsTerminal() {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	logger := logging.FromContext(ctx)
	var resumed, terminated int
	for _, job := range jobs {
		d.mu.Lock()
		d.jobs[job.JobID] = job
		d.mu.Unlock()

		if !job.Kind.Resumable() {
			d.executor.FinalizeUnstarted(ctx, job, types.StatusStopped, msgRestartManual)
			d.forget(job.JobID)
			terminated++
			continue
		}

		def, err := d.deps.Profiles.Get(ctx, job.CampaignName)
		if err != nil {
			logger.WithField("jobId", job.JobID).WithError(err).Warn("Campaign definition unavailable, cannot resume")
			d.executor.FinalizeUnstarted(ctx, job, types.StatusFailed, msgCannotResume)
			d.forget(job.JobID)
			terminated++
			continue
		}

		job.Status = types.StatusPending
		job.Message = msgResuming
		job.UpdatedAt = d.now().UTC()
		runAt := d.now()
		if job.RunAt != nil && job.RunAt.After(runAt) {
			runAt = *job.RunAt
		}

		d.mu.Lock()
		d.work[job.JobID] = &queuedWork{campaign: &CampaignRun{
			JobID:          job.JobID,
			Name:           job.CampaignName,
			Link:           job.Link,
			PlatformFilter: job.PlatformFilter,
			Definition:     def,
		}}
		d.queue.push(job.JobID, runAt)
		d.mu.Unlock()
		resumed++
	}

	d.persistSnapshot(ctx)
	logger.WithFields(map[string]interface{}{
		"resumed":    resumed,
		"terminated": terminated,
	}).Info("Rehydrated jobs from snapshot")
	return nil
}

// loop dispatches due jobs on every tick or wake-up until ctx ends
func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.dispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		case <-d.wake:
			d.dispatchDue(ctx)
		}
	}
}

// dispatchDue launches queued jobs whose start time has come while worker slots remain
func (d *Dispatcher) dispatchDue(ctx context.Context) {
	for {
		select {
		case d.sem <- struct{}{}:
		default:
			return
		}

		d.mu.Lock()
		jobID, ok := d.queue.popDue(d.now())
		var work *queuedWork
		if ok {
			work = d.work[jobID]
			delete(d.work, jobID)
		}
		d.mu.Unlock()

		if !ok || work == nil {
			<-d.sem
			if !ok {
				return
			}
			continue
		}

		d.wg.Add(1)
		go d.run(ctx, jobID, work)
	}
}

func (d *Dispatcher) run(ctx context.Context, jobID string, work *queuedWork) {
	defer d.wg.Done()
	defer func() {
		<-d.sem
		d.signal()
	}()

	var err error
	if work.campaign != nil {
		err = d.executor.RunCampaign(ctx, work.campaign)
	} else {
		err = d.executor.RunOrder(ctx, work.order)
	}

	logger := logging.FromContext(ctx).WithField("jobId", jobID)
	switch {
	case errors.Is(err, ErrInterrupted):
		logger.Info("Job interrupted by shutdown, left for resume")
		return
	case err != nil:
		logger.WithError(err).Error("Job failed")
	}
	d.forget(jobID)
}

// forget drops a finished job from memory once its history entry exists.
// GetStatus serves it from history afterwards.
func (d *Dispatcher) forget(jobID string) {
	if d.deps.History == nil {
		return
	}
	if _, err := d.deps.History.Get(context.Background(), jobID); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if job, ok := d.jobs[jobID]; ok && job.Status.IsTerminal() {
		delete(d.jobs, jobID)
	}
}

// QueueLen returns the number of jobs waiting to start
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}
