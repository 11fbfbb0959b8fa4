package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: a status is terminal exactly when it maps to a history outcome of its own
func TestProperty_TerminalStatusHasOutcome(t *testing.T) {
	properties := gopter.NewProperties(nil)

	statuses := gen.OneConstOf(StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusStopped)

	properties.Property("terminal statuses round-trip through their outcome", prop.ForAll(
		func(s JobStatus) bool {
			if !s.IsTerminal() {
				return s.Outcome() == HistoryFailed
			}
			switch s.Outcome() {
			case HistorySuccess:
				return s == StatusSuccess
			case HistoryStopped:
				return s == StatusStopped
			default:
				return s == StatusFailed
			}
		},
		statuses,
	))

	properties.TestingRun(t)
}
