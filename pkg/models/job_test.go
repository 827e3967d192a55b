package models

import (
	"reflect"
	"testing"
	"time"
)

func TestJobTypeValid(t *testing.T) {
	for _, jt := range []JobType{JobTypeScoring, JobTypeRevenue, JobTypeFullAnalysis} {
		if !jt.Valid() {
			t.Errorf("%q should be valid", jt)
		}
	}
	for _, jt := range []JobType{"", "score", "FULL_ANALYSIS", "analysis"} {
		if jt.Valid() {
			t.Errorf("%q should be invalid", jt)
		}
	}
}

func TestTerminal(t *testing.T) {
	cases := map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
	}
	for status, want := range cases {
		j := &AnalysisJob{Status: status}
		if j.Terminal() != want {
			t.Errorf("Terminal() for %s = %v, want %v", status, j.Terminal(), want)
		}
	}
}

func TestFailedNodeIDs(t *testing.T) {
	j := &AnalysisJob{
		Errors: []JobError{
			{NodeID: "b", Message: "timeout"},
			{NodeID: "a", Message: "panic"},
			{NodeID: "b", Message: "timeout again"},
			{NodeID: "", Message: "job cancelled by user"},
			{NodeID: "c", Message: "persist failed"},
		},
	}

	got := j.FailedNodeIDs()
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FailedNodeIDs() = %v, want %v", got, want)
	}
}

func TestFailedNodeIDsEmpty(t *testing.T) {
	j := &AnalysisJob{}
	if got := j.FailedNodeIDs(); len(got) != 0 {
		t.Errorf("FailedNodeIDs() = %v, want empty", got)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{JobStatusPending, JobStatusProcessing},
		{JobStatusPending, JobStatusFailed},
		{JobStatusProcessing, JobStatusCompleted},
		{JobStatusProcessing, JobStatusFailed},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s should be allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to JobStatus }{
		{JobStatusPending, JobStatusCompleted},
		{JobStatusCompleted, JobStatusProcessing},
		{JobStatusCompleted, JobStatusFailed},
		{JobStatusFailed, JobStatusProcessing},
		{JobStatusFailed, JobStatusCompleted},
		{JobStatusProcessing, JobStatusPending},
		{JobStatus("bogus"), JobStatusFailed},
	}
	for _, c := range denied {
		if CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s should be denied", c.from, c.to)
		}
	}
}

func TestTransitionRecordsAudit(t *testing.T) {
	j := &AnalysisJob{Status: JobStatusPending}

	before := time.Now()
	if err := j.Transition(JobStatusProcessing, "run started"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if j.Status != JobStatusProcessing {
		t.Errorf("status = %s, want processing", j.Status)
	}
	if j.StartedAt == nil || j.StartedAt.Before(before) {
		t.Errorf("StartedAt not stamped: %v", j.StartedAt)
	}
	if len(j.StateTransitions) != 1 {
		t.Fatalf("transitions recorded = %d, want 1", len(j.StateTransitions))
	}
	tr := j.StateTransitions[0]
	if tr.From != JobStatusPending || tr.To != JobStatusProcessing || tr.Reason != "run started" {
		t.Errorf("unexpected transition record: %+v", tr)
	}

	if err := j.Transition(JobStatusCompleted, "all batches finished"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if len(j.StateTransitions) != 2 {
		t.Errorf("transitions recorded = %d, want 2", len(j.StateTransitions))
	}
}

func TestTransitionInvalidLeavesJobUntouched(t *testing.T) {
	j := &AnalysisJob{Status: JobStatusCompleted}

	if err := j.Transition(JobStatusProcessing, "rerun"); err == nil {
		t.Fatal("expected error for terminal transition")
	}
	if j.Status != JobStatusCompleted {
		t.Errorf("status changed to %s", j.Status)
	}
	if len(j.StateTransitions) != 0 {
		t.Errorf("audit trail written on rejected transition: %+v", j.StateTransitions)
	}
}

func TestPriorityForValue(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{90, PriorityCritical},
		{75, PriorityCritical},
		{74.9, PriorityHigh},
		{50, PriorityHigh},
		{49.9, PriorityMedium},
		{25, PriorityMedium},
		{24.9, PriorityLow},
		{0, PriorityLow},
	}
	for _, c := range cases {
		if got := PriorityForValue(c.value); got != c.want {
			t.Errorf("PriorityForValue(%v) = %s, want %s", c.value, got, c.want)
		}
	}
}
