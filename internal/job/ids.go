package job

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// slug lower-cases s and collapses anything outside [a-z0-9] into single underscores
func slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "x"
	}
	return out
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func newCampaignJobID(name string) string {
	return fmt.Sprintf("campaign_%s_%s", slug(name), shortID())
}

func newSingleOrderJobID(platform, engagement string) string {
	return fmt.Sprintf("single_%s_%s_%s", slug(platform), slug(engagement), shortID())
}

func newServiceOrderJobID(platform, engagement, serviceID string) string {
	return fmt.Sprintf("service_%s_%s_%s_%s", slug(platform), slug(engagement), slug(serviceID), shortID())
}

// orderEntryID names the history side-entry of one campaign order. It is
// deterministic so a replayed append stays idempotent.
func orderEntryID(jobID string, loop int, platform, engagement string) string {
	return fmt.Sprintf("%s_loop%d_%s_%s", jobID, loop, slug(platform), slug(engagement))
}
