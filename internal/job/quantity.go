package job

import (
	"time"

	"github.com/campaign-runner/internal/models"
)

// resolveQuantity picks the quantity to order for one engagement in one loop.
// Zero means the engagement has no usable quantity and is skipped.
func resolveQuantity(eng models.Engagement, intN func(n int) int) int {
	if eng.UseRandomQuantity {
		if eng.MinQuantity <= 0 || eng.MaxQuantity < eng.MinQuantity {
			return 0
		}
		return eng.MinQuantity + intN(eng.MaxQuantity-eng.MinQuantity+1)
	}
	if eng.FixedQuantity <= 0 {
		return 0
	}
	return eng.FixedQuantity
}

// expectedQuantity is the quantity used for cost estimates: the midpoint of a random range
func expectedQuantity(eng models.Engagement) int {
	if eng.UseRandomQuantity {
		if eng.MinQuantity <= 0 || eng.MaxQuantity < eng.MinQuantity {
			return 0
		}
		return (eng.MinQuantity + eng.MaxQuantity) / 2
	}
	if eng.FixedQuantity <= 0 {
		return 0
	}
	return eng.FixedQuantity
}

// resolveDelay returns the pause between two loops. A random range is used only
// when it is valid; otherwise the fixed delay applies.
func resolveDelay(ls models.LoopSettings, float64n func() float64) time.Duration {
	seconds := ls.Delay
	if ls.RandomDelay && ls.MaxDelay >= ls.MinDelay && ls.MaxDelay > 0 {
		seconds = ls.MinDelay + float64n()*(ls.MaxDelay-ls.MinDelay)
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
