// Package checkpoint persists campaign progress and the active-jobs snapshot.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/storage"
)

const snapshotKey = "current"

// Recorder reads and writes job checkpoints and the active-jobs snapshot
type Recorder struct {
	states storage.StateStore
	active storage.StateStore
	now    func() time.Time
}

// NewRecorder creates a recorder over two stores: one keyed by job id, one
// holding the single active-jobs snapshot
func NewRecorder(states, active storage.StateStore) *Recorder {
	return &Recorder{states: states, active: active, now: time.Now}
}

// SaveJobState persists the checkpoint
func (r *Recorder) SaveJobState(ctx context.Context, state *models.JobState) error {
	state.UpdatedAt = r.now().UTC()

	raw, err := json.Marshal(state)
	if err != nil {
		return apperrors.NewInternalError("failed to encode job state", err)
	}
	if err := r.states.Put(ctx, state.JobID, raw); err != nil {
		logging.FromContext(ctx).WithField("jobId", state.JobID).WithError(err).Warn("Failed to save job state")
		return err
	}
	return nil
}

// LoadJobState returns the checkpoint for jobID. ok is false when none exists
// or the stored record cannot be decoded. A read failure is returned as an
// error so callers do not mistake an unreadable checkpoint for a fresh start.
func (r *Recorder) LoadJobState(ctx context.Context, jobID string) (state *models.JobState, ok bool, err error) {
	raw, err := r.states.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	state = &models.JobState{}
	if err := json.Unmarshal(raw, state); err != nil {
		logging.FromContext(ctx).WithField("jobId", jobID).WithError(err).Error("Discarding corrupt job state")
		return nil, false, nil
	}
	if state.JobID == "" {
		state.JobID = jobID
	}
	return state, true, nil
}

// ClearJobState removes the checkpoint
func (r *Recorder) ClearJobState(ctx context.Context, jobID string) error {
	if err := r.states.Delete(ctx, jobID); err != nil {
		logging.FromContext(ctx).WithField("jobId", jobID).WithError(err).Warn("Failed to clear job state")
		return err
	}
	return nil
}

// SaveActiveJobsSnapshot replaces the snapshot
func (r *Recorder) SaveActiveJobsSnapshot(ctx context.Context, snapshot models.ActiveJobsSnapshot) error {
	if snapshot == nil {
		snapshot = models.ActiveJobsSnapshot{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return apperrors.NewInternalError("failed to encode active jobs", err)
	}
	if err := r.active.Put(ctx, snapshotKey, raw); err != nil {
		logging.FromContext(ctx).WithField("jobs", len(snapshot)).WithError(err).Warn("Failed to save active jobs snapshot")
		return err
	}
	return nil
}

// LoadActiveJobsSnapshot returns the last snapshot, empty when none exists
func (r *Recorder) LoadActiveJobsSnapshot(ctx context.Context) (models.ActiveJobsSnapshot, error) {
	raw, err := r.active.Get(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ActiveJobsSnapshot{}, nil
		}
		return nil, err
	}

	snapshot := models.ActiveJobsSnapshot{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Discarding corrupt active jobs snapshot")
		return models.ActiveJobsSnapshot{}, nil
	}
	for id, job := range snapshot {
		if job == nil {
			delete(snapshot, id)
			continue
		}
		if job.JobID == "" {
			job.JobID = id
		}
	}
	return snapshot, nil
}
