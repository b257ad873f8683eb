package mirror

import (
	"errors"
	"strings"
	"testing"

	"tg-member-mirror/internal/domain"
)

func TestFormatReport(t *testing.T) {
	outcomes := []domain.SessionOutcome{
		{Session: "alpha", State: domain.PipelineDone, Stats: domain.PipelineStats{Cycles: 1, Batches: 2, Attempted: 80, Added: 75, Duplicates: 3}},
		{Session: "beta", State: domain.PipelineFailed, Err: errors.New("source chat: chat not found")},
	}
	report := FormatReport("run-1", domain.RunModeOnePass, outcomes)

	lines := strings.Split(report, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two session lines, got %q", report)
	}
	if lines[0] != "Mirror run run-1 (one_pass): 2 sessions, 1 failed, added 75/80" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "alpha: done") || !strings.Contains(lines[1], "added 75/80") {
		t.Fatalf("unexpected alpha line: %q", lines[1])
	}
	if lines[2] != "- beta: failed: source chat: chat not found" {
		t.Fatalf("unexpected beta line: %q", lines[2])
	}
}
