package job

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleQueue_Order(t *testing.T) {
	q := newScheduleQueue()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q.push("late", base.Add(time.Hour))
	q.push("first", base)
	q.push("second", base)
	q.push("first", base.Add(-time.Hour)) // duplicate ignored
	require.Equal(t, 3, q.len())

	id, ok := q.popDue(base)
	require.True(t, ok)
	assert.Equal(t, "first", id)
	id, ok = q.popDue(base)
	require.True(t, ok)
	assert.Equal(t, "second", id)

	_, ok = q.popDue(base)
	assert.False(t, ok, "future job is not due")
	id, ok = q.popDue(base.Add(2 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, "late", id)
	assert.Equal(t, 0, q.len())
}

func TestScheduleQueue_Remove(t *testing.T) {
	q := newScheduleQueue()
	now := time.Now()
	q.push("a", now)
	q.push("b", now.Add(time.Second))
	q.push("c", now.Add(2*time.Second))

	assert.True(t, q.remove("b"))
	assert.False(t, q.remove("b"))
	assert.False(t, q.remove("missing"))

	var got []string
	for {
		id, ok := q.popDue(now.Add(time.Minute))
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestJobIDs(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^campaign_spring_push_2_[0-9a-f]{8}$`), newCampaignJobID("Spring Push #2"))
	assert.Regexp(t, regexp.MustCompile(`^single_instagram_likes_[0-9a-f]{8}$`), newSingleOrderJobID("Instagram", "Likes"))
	assert.Regexp(t, regexp.MustCompile(`^service_tiktok_views_4411_[0-9a-f]{8}$`), newServiceOrderJobID("TikTok", "Views", "4411"))
	assert.NotEqual(t, newCampaignJobID("a"), newCampaignJobID("a"))

	assert.Equal(t, "campaign_x_1_loop3_instagram_likes", orderEntryID("campaign_x_1", 3, "Instagram", "Likes"))
	assert.Equal(t, "x", slug("  !!  "))
}
