package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campaign-runner/internal/models"
)

func TestResolveQuantity(t *testing.T) {
	top := func(n int) int { return n - 1 }
	bottom := func(int) int { return 0 }

	tests := []struct {
		name string
		eng  models.Engagement
		intN func(int) int
		want int
	}{
		{"fixed", models.Engagement{FixedQuantity: 75}, top, 75},
		{"fixed zero skips", models.Engagement{FixedQuantity: 0}, top, 0},
		{"random upper bound inclusive", models.Engagement{UseRandomQuantity: true, MinQuantity: 100, MaxQuantity: 200}, top, 200},
		{"random lower bound", models.Engagement{UseRandomQuantity: true, MinQuantity: 100, MaxQuantity: 200}, bottom, 100},
		{"random single value", models.Engagement{UseRandomQuantity: true, MinQuantity: 50, MaxQuantity: 50}, top, 50},
		{"random inverted range", models.Engagement{UseRandomQuantity: true, MinQuantity: 200, MaxQuantity: 100}, top, 0},
		{"random zero min", models.Engagement{UseRandomQuantity: true, MinQuantity: 0, MaxQuantity: 100}, top, 0},
		{"random ignores fixed", models.Engagement{UseRandomQuantity: true, FixedQuantity: 10}, top, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveQuantity(tt.eng, tt.intN))
		})
	}
}

func TestExpectedQuantity(t *testing.T) {
	assert.Equal(t, 150, expectedQuantity(models.Engagement{UseRandomQuantity: true, MinQuantity: 100, MaxQuantity: 200}))
	assert.Equal(t, 40, expectedQuantity(models.Engagement{FixedQuantity: 40}))
	assert.Equal(t, 0, expectedQuantity(models.Engagement{UseRandomQuantity: true, MinQuantity: 5, MaxQuantity: 1}))
}

func TestResolveDelay(t *testing.T) {
	half := func() float64 { return 0.5 }

	tests := []struct {
		name string
		ls   models.LoopSettings
		want time.Duration
	}{
		{"fixed", models.LoopSettings{Delay: 30}, 30 * time.Second},
		{"fractional", models.LoopSettings{Delay: 1.5}, 1500 * time.Millisecond},
		{"zero", models.LoopSettings{}, 0},
		{"random midpoint", models.LoopSettings{RandomDelay: true, MinDelay: 10, MaxDelay: 20, Delay: 99}, 15 * time.Second},
		{"random inverted falls back", models.LoopSettings{RandomDelay: true, MinDelay: 20, MaxDelay: 10, Delay: 5}, 5 * time.Second},
		{"random all zero falls back", models.LoopSettings{RandomDelay: true, Delay: 7}, 7 * time.Second},
		{"negative clamps", models.LoopSettings{Delay: -3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveDelay(tt.ls, half))
		})
	}
}
