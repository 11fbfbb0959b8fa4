package job

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

var pbtEngagements = []struct {
	eng       models.Engagement
	serviceID string
}{
	{models.Engagement{Type: "Likes", Platform: "Instagram", FixedQuantity: 50}, "1001"},
	{models.Engagement{Type: "Views", Platform: "Instagram", FixedQuantity: 500}, "2001"},
	{models.Engagement{Type: "Likes", Platform: "TikTok", FixedQuantity: 50}, "3001"},
}

// Property: across one crash and resume, every (loop, engagement) pair is ordered exactly once
func TestProperty_AtMostOnceAcrossCrash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("resume never re-places a ledgered order", prop.ForAll(
		func(loops, engCount, crashAfter int) bool {
			h := newHarness(t)
			jobID := fmt.Sprintf("campaign_pbt_%d_%d_%d", loops, engCount, crashAfter)

			def := &models.CampaignDefinition{LoopSettings: models.LoopSettings{Loops: loops}}
			for _, e := range pbtEngagements[:engCount] {
				eng := e.eng
				eng.Loops = loops
				def.Engagements = append(def.Engagements, eng)
			}
			def.Normalize()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.orders.onPlace = func(n int) {
				if n == crashAfter {
					cancel()
				}
			}

			err := h.executor().RunCampaign(ctx, campaignRun(jobID, def))
			if errors.Is(err, ErrInterrupted) {
				h.orders.onPlace = nil
				if err := h.executor().RunCampaign(context.Background(), campaignRun(jobID, def)); err != nil {
					return false
				}
			} else if err != nil {
				return false
			}

			for _, e := range pbtEngagements[:engCount] {
				if h.orders.countFor(e.serviceID) != loops {
					return false
				}
			}
			entry, err := h.history.Get(context.Background(), jobID)
			if err != nil {
				return false
			}
			return entry.OrderCount == loops*engCount && entry.Status == types.HistorySuccess
		},
		gen.IntRange(1, 4),
		gen.IntRange(1, 3),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
