package models

import (
	"fmt"
	"strings"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/types"
)

// Engagement is one order step of a campaign loop
type Engagement struct {
	Type              string `json:"type"`
	Platform          string `json:"platform,omitempty"`
	UseRandomQuantity bool   `json:"use_random_quantity"`
	FixedQuantity     int    `json:"fixed_quantity"`
	MinQuantity       int    `json:"min_quantity"`
	MaxQuantity       int    `json:"max_quantity"`
	// Loops is how many of the campaign's loops this engagement takes part in
	Loops     int    `json:"loops"`
	ServiceID string `json:"service_id,omitempty"`
}

// Key identifies the engagement inside one loop for the placed-order ledger
func (e Engagement) Key() string {
	return e.Platform + "/" + e.Type
}

// LoopSettings controls loop count and spacing. Delays are seconds.
type LoopSettings struct {
	Loops       int     `json:"loops"`
	Delay       float64 `json:"delay"`
	RandomDelay bool    `json:"random_delay"`
	MinDelay    float64 `json:"min_delay"`
	MaxDelay    float64 `json:"max_delay"`
}

// CampaignDefinition is a named sequence of engagements repeated over loops
type CampaignDefinition struct {
	Engagements  []Engagement `json:"engagements"`
	LoopSettings LoopSettings `json:"loop_settings"`
}

// Normalize fills defaults in place
func (d *CampaignDefinition) Normalize() {
	if d.LoopSettings.Loops == 0 {
		d.LoopSettings.Loops = 1
	}
	for i := range d.Engagements {
		e := &d.Engagements[i]
		e.Type = strings.TrimSpace(e.Type)
		if strings.TrimSpace(e.Platform) == "" {
			e.Platform = types.DefaultPlatform
		}
		if e.Loops == 0 {
			e.Loops = 1
		}
	}
}

// Validate rejects definitions the executor cannot run. Call after Normalize.
func (d *CampaignDefinition) Validate() error {
	if len(d.Engagements) == 0 {
		return apperrors.NewInvalidParameterError("engagements", "at least one engagement is required")
	}
	ls := d.LoopSettings
	if ls.Loops < 1 {
		return apperrors.NewInvalidParameterError("loop_settings.loops", "must be at least 1")
	}
	if ls.Delay < 0 || ls.MinDelay < 0 || ls.MaxDelay < 0 {
		return apperrors.NewInvalidParameterError("loop_settings", "delays must not be negative")
	}

	seen := make(map[string]struct{}, len(d.Engagements))
	for i, e := range d.Engagements {
		if e.Type == "" {
			return apperrors.NewInvalidParameterError(fmt.Sprintf("engagements[%d].type", i), "must not be empty")
		}
		if e.Loops < 0 {
			return apperrors.NewInvalidParameterError(fmt.Sprintf("engagements[%d].loops", i), "must not be negative")
		}
		if _, dup := seen[e.Key()]; dup {
			return apperrors.NewInvalidParameterError(fmt.Sprintf("engagements[%d]", i),
				fmt.Sprintf("duplicate engagement %s on %s", e.Type, e.Platform))
		}
		seen[e.Key()] = struct{}{}
	}
	return nil
}
