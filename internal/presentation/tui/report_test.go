package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

func TestReport_Succeeded(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Report(&domain.Outcome{
		RunID:      "run-1",
		Pipeline:   "triage",
		Status:     domain.StatusSucceeded,
		Outputs:    map[string]any{"summary": "disk | full", "score": 0.5},
		History:    []domain.HistoryEntry{{Node: "extract", Outputs: map[string]any{"summary": "disk | full"}}},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	})

	for _, want := range []string{
		"# triage · run-1",
		"**Status:** succeeded in 1.5s",
		"| score | 0.5 |",
		`| summary | disk \| full |`,
		"1. `extract` → summary",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Report() = \n%s\nWant substring: %s", got, want)
		}
	}
}

func TestReport_Failed(t *testing.T) {
	got := Report(&domain.Outcome{
		RunID:      "run-2",
		Status:     domain.StatusFailed,
		FailedNode: "score",
		Causes:     []string{"node score failed", "exit status 1"},
	})

	for _, want := range []string{"# run-2", "**Failed node:** `score`", "- exit status 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("Report() = \n%s\nWant substring: %s", got, want)
		}
	}
	if strings.Contains(got, "## Outputs") {
		t.Errorf("failed run without outputs should not list them:\n%s", got)
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	if !strings.Contains(buf.String(), "___") {
		t.Errorf("banner not written: %q", buf.String())
	}
}
