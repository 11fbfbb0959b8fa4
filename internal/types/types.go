// Package types provides common type definitions for the campaign runner.
package types

// JobKind identifies which runner executes a job
type JobKind string

const (
	// KindSingleOrder is a one-shot order resolved through the catalog
	KindSingleOrder JobKind = "single_order"
	// KindServiceOrder is a one-shot order against an explicit service id
	KindServiceOrder JobKind = "service_order"
	// KindCampaign is a multi-loop resumable campaign
	KindCampaign JobKind = "campaign"
)

// Resumable reports whether jobs of this kind keep a checkpoint and survive restarts
func (k JobKind) Resumable() bool {
	return k == KindCampaign
}

// JobStatus is the user-visible status of a job
type JobStatus string

const (
	// StatusPending represents a job that is scheduled but not started
	StatusPending JobStatus = "pending"
	// StatusRunning represents a job currently executing
	StatusRunning JobStatus = "running"
	// StatusSuccess represents a job that finished and placed at least one order
	StatusSuccess JobStatus = "success"
	// StatusFailed represents a job that finished without placing orders or errored
	StatusFailed JobStatus = "failed"
	// StatusStopped represents a job cancelled by request or by restart policy
	StatusStopped JobStatus = "stopped"
)

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Outcome returns the capitalised history form of a terminal status
func (s JobStatus) Outcome() HistoryStatus {
	switch s {
	case StatusSuccess:
		return HistorySuccess
	case StatusStopped:
		return HistoryStopped
	default:
		return HistoryFailed
	}
}

// HistoryStatus is the terminal outcome recorded in history
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "Success"
	HistoryFailed  HistoryStatus = "Failed"
	HistoryStopped HistoryStatus = "Stopped"
)

// JobStatus maps a recorded outcome back onto the live status vocabulary
func (h HistoryStatus) JobStatus() JobStatus {
	switch h {
	case HistorySuccess:
		return StatusSuccess
	case HistoryStopped:
		return StatusStopped
	default:
		return StatusFailed
	}
}

// OrderState is a provider order status normalised across panels
type OrderState string

const (
	OrderPending    OrderState = "pending"
	OrderProcessing OrderState = "processing"
	OrderCompleted  OrderState = "completed"
	OrderPartial    OrderState = "partial"
	OrderCanceled   OrderState = "canceled"
	OrderFailed     OrderState = "failed"
	OrderUnknown    OrderState = "unknown"
	// OrderError marks a status query that itself failed
	OrderError OrderState = "error"
)

// DefaultPlatform is used when an engagement names no platform
const DefaultPlatform = "Instagram"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
