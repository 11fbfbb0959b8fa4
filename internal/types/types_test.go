package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSuccess, true},
		{StatusFailed, true},
		{StatusStopped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestJobStatus_Outcome(t *testing.T) {
	assert.Equal(t, HistorySuccess, StatusSuccess.Outcome())
	assert.Equal(t, HistoryStopped, StatusStopped.Outcome())
	assert.Equal(t, HistoryFailed, StatusFailed.Outcome())
	assert.Equal(t, HistoryFailed, StatusRunning.Outcome())
}

func TestJobKind_Resumable(t *testing.T) {
	assert.True(t, KindCampaign.Resumable())
	assert.False(t, KindSingleOrder.Resumable())
	assert.False(t, KindServiceOrder.Resumable())
}
