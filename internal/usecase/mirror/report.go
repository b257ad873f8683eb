package mirror

import (
	"fmt"
	"strings"

	"tg-member-mirror/internal/domain"
)

// FormatReport формирует краткий текстовый отчёт по сессиям.
func FormatReport(runID string, mode domain.RunMode, outcomes []domain.SessionOutcome) string {
	var b strings.Builder
	var added, attempted, failed int
	for _, o := range outcomes {
		added += o.Stats.Added
		attempted += o.Stats.Attempted
		if o.State == domain.PipelineFailed {
			failed++
		}
	}
	fmt.Fprintf(&b, "Mirror run %s (%s): %d sessions, %d failed, added %d/%d\n", runID, mode, len(outcomes), failed, added, attempted)
	for _, o := range outcomes {
		if o.State == domain.PipelineFailed && o.Err != nil {
			fmt.Fprintf(&b, "- %s: failed: %v\n", o.Session, o.Err)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s, cycles %d, batches %d, added %d/%d, duplicates %d, abandoned %d\n",
			o.Session, o.State, o.Stats.Cycles, o.Stats.Batches, o.Stats.Added, o.Stats.Attempted, o.Stats.Duplicates, o.Stats.Abandoned)
	}
	return strings.TrimRight(b.String(), "\n")
}
