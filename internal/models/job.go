package models

import (
	"time"

	"github.com/campaign-runner/internal/types"
)

// Job is the dispatcher's view of one unit of work
type Job struct {
	JobID          string          `json:"job_id"`
	Kind           types.JobKind   `json:"kind"`
	Status         types.JobStatus `json:"status"`
	Message        string          `json:"message"`
	Label          string          `json:"label"`
	Link           string          `json:"link"`
	CampaignName   string          `json:"campaign_name,omitempty"`
	PlatformFilter string          `json:"platform_filter,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// One-shot parameters, kept so the history entry can describe the order
	Platform   string `json:"platform,omitempty"`
	Engagement string `json:"engagement,omitempty"`
	ServiceID  string `json:"service_id,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

// Clone returns a copy safe to hand outside the dispatcher lock
func (j *Job) Clone() *Job {
	c := *j
	if j.RunAt != nil {
		t := *j.RunAt
		c.RunAt = &t
	}
	return &c
}

// ActiveJobsSnapshot maps job id to the last known record of every non-terminal job
type ActiveJobsSnapshot map[string]*Job
