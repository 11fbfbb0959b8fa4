package job

import (
	"sort"
	"strings"

	"github.com/campaign-runner/internal/catalog"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
)

// EstimateItem prices one engagement across the loops it takes part in
type EstimateItem struct {
	Platform    string   `json:"platform"`
	Engagement  string   `json:"engagement"`
	Loops       int      `json:"loops"`
	Quantity    int      `json:"quantity"`
	Provider    string   `json:"provider,omitempty"`
	ServiceID   string   `json:"service_id,omitempty"`
	RatePer1k   *float64 `json:"rate_per_1k,omitempty"`
	CostPerLoop *float64 `json:"cost_per_loop,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Estimate is the expected spend of a campaign. Random quantities are priced
// at the midpoint of their range.
type Estimate struct {
	Loops      int                `json:"loops"`
	Items      []EstimateItem     `json:"items"`
	TotalCost  float64            `json:"total_cost"`
	ByProvider map[string]float64 `json:"by_provider"`
}

// EstimateCampaign prices def against the catalog without placing anything
func EstimateCampaign(services ServiceResolver, def *models.CampaignDefinition, platformFilter string) *Estimate {
	est := &Estimate{
		Loops:      def.LoopSettings.Loops,
		Items:      []EstimateItem{},
		ByProvider: map[string]float64{},
	}

	for _, eng := range def.Engagements {
		if eng.Type == "" {
			continue
		}
		if platformFilter != "" && !strings.EqualFold(eng.Platform, platformFilter) {
			continue
		}

		item := EstimateItem{
			Platform:   eng.Platform,
			Engagement: eng.Type,
			Loops:      min(eng.Loops, def.LoopSettings.Loops),
			Quantity:   expectedQuantity(eng),
		}
		if item.Quantity <= 0 {
			item.Note = "no valid quantity"
			est.Items = append(est.Items, item)
			continue
		}

		var (
			svc    *catalog.Service
			svcErr error
		)
		if eng.ServiceID != "" {
			svc, svcErr = services.FindService(eng.Platform, eng.Type, eng.ServiceID)
		} else {
			svc, svcErr = services.Select(eng.Platform, eng.Type, "")
		}
		if svcErr != nil {
			item.Note = apperrors.Categorize(svcErr).Message
			est.Items = append(est.Items, item)
			continue
		}

		item.Provider = svc.Provider
		item.ServiceID = string(svc.ServiceID)
		item.RatePer1k = svc.RatePer1k
		if svc.RatePer1k != nil {
			perLoop := svc.Cost(item.Quantity)
			total := roundTo(*perLoop*float64(item.Loops), 6)
			item.CostPerLoop = perLoop
			item.Cost = &total
			est.TotalCost += total
			est.ByProvider[svc.Provider] = roundTo(est.ByProvider[svc.Provider]+total, 6)
		} else {
			item.Note = "service has no rate"
		}
		est.Items = append(est.Items, item)
	}

	est.TotalCost = roundTo(est.TotalCost, 6)
	sort.SliceStable(est.Items, func(i, j int) bool {
		return est.Items[i].Platform < est.Items[j].Platform
	})
	return est
}
