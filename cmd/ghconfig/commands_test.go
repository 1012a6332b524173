package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/boomit/github-config-manager/internal/domain"
	"github.com/boomit/github-config-manager/internal/processor"
	"github.com/boomit/github-config-manager/internal/status"
)

func TestDisplayPlannedActionsLayout(t *testing.T) {
	req := runRequest{
		Org:   "acme",
		Repos: []string{"acme/app"},
		Ops: domain.OperationSet{
			SetSecrets:      map[string]string{"TOKEN": "t"},
			DeleteVariables: []string{"OLD_FLAG"},
		},
		Workers: 1,
		Sleep:   5 * time.Second,
	}

	var out bytes.Buffer
	displayPlannedActions(&out, req)

	want := strings.Join([]string{
		strings.Repeat("=", 50),
		"🚨 Please CONFIRM the following GitHub operations 🚨",
		"",
		"Secrets to Delete:",
		"  (None)",
		"",
		"Variables to Delete:",
		"  - OLD_FLAG",
		"",
		"Secrets to Add/Update:",
		"  - TOKEN",
		"",
		"Variables to Add/Update:",
		"  (None)",
		"",
		"Target Repositories:",
		"  - acme/app",
		"",
		"Total 1 repositories.",
		"",
		"Will pause 5 seconds after processing each repository.",
		"",
		"💡 '--force' option enabled: No",
		"    (When setting Secrets/Variables, new ones will be added; existing ones will be skipped.)",
		"",
	}, "\n")

	if got := out.String(); got != want {
		t.Errorf("confirmation block mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestDisplayPlannedActionsConcurrentWithForce(t *testing.T) {
	req := runRequest{
		Org:     "acme",
		Repos:   []string{"acme/app", "acme/lib"},
		Ops:     domain.OperationSet{Force: true},
		Workers: 3,
	}

	var out bytes.Buffer
	displayPlannedActions(&out, req)
	got := out.String()

	if !strings.Contains(got, "Will process 3 repositories concurrently.") {
		t.Errorf("missing concurrency note in:\n%s", got)
	}
	if strings.Contains(got, "Will pause") {
		t.Errorf("pause note should not appear in concurrent mode:\n%s", got)
	}
	if !strings.Contains(got, "'--force' option enabled: Yes") {
		t.Errorf("missing force note in:\n%s", got)
	}
	if !strings.Contains(got, "existing ones will be overwritten") {
		t.Errorf("missing force explanation in:\n%s", got)
	}
	if !strings.Contains(got, "Total 2 repositories.") {
		t.Errorf("missing repository total in:\n%s", got)
	}
}

func TestConfirmProceed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		proceed bool
		output  string
	}{
		{"accept", "Y\n", true, ""},
		{"accept lowercase", "y\n", true, ""},
		{"decline", "N\n", false, "Operation cancelled by user."},
		{"decline lowercase", "n\n", false, "Operation cancelled by user."},
		{"retry until accept", "maybe\nY\n", true, "Invalid input. Please enter 'Y' or 'N'."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			proceed, err := confirmProceed(strings.NewReader(tt.input), &out)
			if err != nil {
				t.Fatalf("confirmProceed: %v", err)
			}
			if proceed != tt.proceed {
				t.Errorf("proceed = %t, want %t", proceed, tt.proceed)
			}
			if !strings.Contains(out.String(), "Do you want to proceed? (Y/N): ") {
				t.Errorf("prompt missing from output: %q", out.String())
			}
			if tt.output != "" && !strings.Contains(out.String(), tt.output) {
				t.Errorf("output %q missing %q", out.String(), tt.output)
			}
		})
	}
}

func TestConfirmProceedClosedInput(t *testing.T) {
	var out bytes.Buffer
	if _, err := confirmProceed(strings.NewReader(""), &out); err == nil {
		t.Fatal("expected an error when input closes before an answer")
	}
}

func TestSummarizeRun(t *testing.T) {
	req := runRequest{
		Org:   "acme",
		Repos: []string{"acme/app", "acme/lib", "acme/web"},
	}
	snapshot := map[string]status.RepoState{
		"acme/app": {Success: true, Lifecycle: domain.LifecycleCompleted},
		"acme/lib": {Success: false, Lifecycle: domain.LifecycleFailed},
		"acme/web": {Success: false, Lifecycle: domain.LifecyclePending},
	}
	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stats := processor.RunStats{Elapsed: 2 * time.Second, Aborted: true}

	record, outcomes := summarizeRun(req, stats, snapshot, startedAt)

	if record.ID == "" {
		t.Error("record ID should be set")
	}
	if record.Organization != "acme" {
		t.Errorf("Organization = %q", record.Organization)
	}
	if record.TotalRepos != 3 || record.Succeeded != 1 || record.Failed != 1 {
		t.Errorf("totals = %d/%d/%d, want 3/1/1", record.TotalRepos, record.Succeeded, record.Failed)
	}
	if !record.Aborted {
		t.Error("Aborted should carry over from the run stats")
	}
	if got := record.FinishedAt.Sub(record.StartedAt); got != 2*time.Second {
		t.Errorf("duration = %s, want 2s", got)
	}

	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	// Outcomes follow the request's repository order.
	if outcomes[0].Repository != "acme/app" || !outcomes[0].Success {
		t.Errorf("first outcome = %+v", outcomes[0])
	}
	if outcomes[2].Lifecycle != domain.LifecyclePending {
		t.Errorf("undispatched repo lifecycle = %s, want pending", outcomes[2].Lifecycle)
	}
}

func TestRunOutcomeWord(t *testing.T) {
	tests := []struct {
		record domain.RunRecord
		want   string
	}{
		{domain.RunRecord{}, "ok"},
		{domain.RunRecord{Failed: 2}, "failed"},
		{domain.RunRecord{Aborted: true}, "aborted"},
		{domain.RunRecord{Aborted: true, Failed: 1}, "aborted"},
	}
	for _, tt := range tests {
		if got := runOutcomeWord(&tt.record); got != tt.want {
			t.Errorf("runOutcomeWord(%+v) = %q, want %q", tt.record, got, tt.want)
		}
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := secondsToDuration(1.5); got != 1500*time.Millisecond {
		t.Errorf("secondsToDuration(1.5) = %s", got)
	}
	if got := secondsToDuration(0); got != 0 {
		t.Errorf("secondsToDuration(0) = %s", got)
	}
}
