package models

import (
	"math"
	"time"
)

// PlacedOrder is one entry of the append-only idempotency ledger
type PlacedOrder struct {
	Loop          int       `json:"loop"`
	Platform      string    `json:"platform"`
	Provider      string    `json:"provider"`
	OrderID       string    `json:"order_id"`
	Engagement    string    `json:"engagement"`
	Quantity      int       `json:"quantity"`
	UnitRatePer1k *float64  `json:"unit_rate_per_1k"`
	Cost          *float64  `json:"cost"`
	PlacedAt      time.Time `json:"placed_at"`
}

// JobState is the checkpoint persisted after every order and loop boundary
type JobState struct {
	JobID         string        `json:"job_id"`
	CurrentLoop   int           `json:"current_loop"`
	TotalLoops    int           `json:"total_loops"`
	StartTime     time.Time     `json:"start_time"`
	Messages      []string      `json:"messages"`
	TotalOrders   int           `json:"total_orders"`
	PlacedOrders  []PlacedOrder `json:"placed_orders"`
	InDelay       bool          `json:"in_delay"`
	DelayStart    *time.Time    `json:"delay_start,omitempty"`
	DelayDuration float64       `json:"delay_duration,omitempty"`
	ProfileName   string        `json:"profile_name"`
	Link          string        `json:"link"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasOrder reports whether the ledger already holds an order for the engagement in the loop
func (s *JobState) HasOrder(loop int, platform, engagement string) bool {
	for _, o := range s.PlacedOrders {
		if o.Loop == loop && o.Platform == platform && o.Engagement == engagement {
			return true
		}
	}
	return false
}

// RecordOrder appends to the ledger and bumps the order count
func (s *JobState) RecordOrder(o PlacedOrder) {
	s.PlacedOrders = append(s.PlacedOrders, o)
	s.TotalOrders++
}

// AddMessage appends a progress message keeping at most limit entries
func (s *JobState) AddMessage(msg string, limit int) {
	s.Messages = append(s.Messages, msg)
	if limit > 0 && len(s.Messages) > limit {
		s.Messages = append([]string(nil), s.Messages[len(s.Messages)-limit:]...)
	}
}

// LastMessages returns up to n of the most recent messages
func (s *JobState) LastMessages(n int) []string {
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// TotalCost sums the known order costs, rounded to six decimals. It is nil
// when orders were placed but none of them has a known cost.
func (s *JobState) TotalCost() *float64 {
	var total float64
	known := len(s.PlacedOrders) == 0
	for _, o := range s.PlacedOrders {
		if o.Cost != nil {
			total += *o.Cost
			known = true
		}
	}
	if !known {
		return nil
	}
	total = math.Round(total*1e6) / 1e6
	return &total
}

// RemainingDelay returns how much of an interrupted delay is left at now, clamped at zero
func (s *JobState) RemainingDelay(now time.Time) time.Duration {
	if !s.InDelay || s.DelayStart == nil {
		return 0
	}
	total := time.Duration(s.DelayDuration * float64(time.Second))
	remaining := total - now.Sub(*s.DelayStart)
	if remaining < 0 {
		return 0
	}
	if remaining > total {
		// clock moved backwards; never wait longer than the original delay
		return total
	}
	return remaining
}
