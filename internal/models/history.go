package models

import (
	"time"

	"github.com/campaign-runner/internal/types"
)

// HistoryEntry is the immutable record of a finished job, or of a single campaign order
type HistoryEntry struct {
	JobID           string              `json:"job_id"`
	ParentJobID     string              `json:"parent_job_id,omitempty"`
	Kind            types.JobKind       `json:"kind"`
	Label           string              `json:"label"`
	Link            string              `json:"link"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	DurationSeconds float64             `json:"duration_seconds"`
	Status          types.HistoryStatus `json:"status"`
	Message         string              `json:"message"`
	OrderCount      int                 `json:"order_count"`
	TotalCost       *float64            `json:"total_cost,omitempty"`
	Orders          []PlacedOrder       `json:"orders,omitempty"`

	// One-shot order fields
	Platform      string  `json:"platform,omitempty"`
	Engagement    string  `json:"engagement,omitempty"`
	Quantity      int     `json:"quantity,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	OrderID       string  `json:"order_id,omitempty"`
	UnitRatePer1k *float64 `json:"unit_rate_per_1k,omitempty"`
}

// IsSideEntry reports whether the entry describes one order of a larger campaign
func (h *HistoryEntry) IsSideEntry() bool {
	return h.ParentJobID != ""
}

// OrderRefs lists every provider order the entry refers to
func (h *HistoryEntry) OrderRefs() []PlacedOrder {
	if len(h.Orders) > 0 {
		return h.Orders
	}
	if h.OrderID != "" {
		return []PlacedOrder{{
			Provider:      h.Provider,
			OrderID:       h.OrderID,
			Engagement:    h.Engagement,
			Platform:      h.Platform,
			Quantity:      h.Quantity,
			UnitRatePer1k: h.UnitRatePer1k,
		}}
	}
	return nil
}
