package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteJobRoundtrip(t *testing.T) {
	s := newSQLiteStore(t)

	started := time.Now().Truncate(time.Second)
	job := &models.AnalysisJob{
		ID:             "j1",
		Type:           models.JobTypeFullAnalysis,
		ProjectID:      "p1",
		Status:         models.JobStatusProcessing,
		Progress:       30,
		TotalItems:     100,
		ProcessedItems: 30,
		Errors: []models.JobError{
			{NodeID: "n1", Message: "timeout", Timestamp: started, RetryCount: 1},
		},
		Options: models.JobOptions{
			BatchSize:      50,
			Concurrency:    3,
			TargetPosition: 2,
			NodeFilter:     []string{"n1", "n2"},
		},
		SourceJobID: "j0",
		CreatedAt:   started,
		StartedAt:   &started,
		StateTransitions: []models.StateTransition{
			{From: models.JobStatusPending, To: models.JobStatusProcessing, Timestamp: started, Reason: "run started"},
		},
	}

	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != models.JobTypeFullAnalysis || got.Status != models.JobStatusProcessing {
		t.Errorf("type/status mismatch: %+v", got)
	}
	if got.Progress != 30 || got.TotalItems != 100 || got.ProcessedItems != 30 {
		t.Errorf("counter mismatch: %+v", got)
	}
	if len(got.Errors) != 1 || got.Errors[0].NodeID != "n1" || got.Errors[0].RetryCount != 1 {
		t.Errorf("errors mismatch: %+v", got.Errors)
	}
	if got.Options.BatchSize != 50 || len(got.Options.NodeFilter) != 2 {
		t.Errorf("options mismatch: %+v", got.Options)
	}
	if got.SourceJobID != "j0" {
		t.Errorf("source job = %q, want j0", got.SourceJobID)
	}
	if got.StartedAt == nil {
		t.Error("started_at lost")
	}
	if len(got.StateTransitions) != 1 || got.StateTransitions[0].Reason != "run started" {
		t.Errorf("transitions mismatch: %+v", got.StateTransitions)
	}

	if _, err := s.GetJob("missing"); err != ErrJobNotFound {
		t.Errorf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteUpdateJob(t *testing.T) {
	s := newSQLiteStore(t)

	job := &models.AnalysisJob{
		ID: "j1", Type: models.JobTypeScoring, ProjectID: "p1",
		Status: models.JobStatusPending, CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job.Status = models.JobStatusCompleted
	job.Result = &models.JobSummary{Successful: 9, Failed: 1, SuccessRate: 90}
	done := time.Now()
	job.CompletedAt = &done
	if err := s.UpdateJob(job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, _ := s.GetJob("j1")
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Result == nil || got.Result.SuccessRate != 90 {
		t.Errorf("result mismatch: %+v", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at lost")
	}

	ghost := &models.AnalysisJob{ID: "ghost", Type: models.JobTypeScoring, ProjectID: "p1", Status: models.JobStatusPending, CreatedAt: time.Now()}
	if err := s.UpdateJob(ghost); err != ErrJobNotFound {
		t.Errorf("UpdateJob(ghost) = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteGetJobsFilters(t *testing.T) {
	s := newSQLiteStore(t)

	base := time.Now()
	for i, spec := range []struct {
		id      string
		project string
		status  models.JobStatus
	}{
		{"a", "p1", models.JobStatusPending},
		{"b", "p1", models.JobStatusCompleted},
		{"c", "p2", models.JobStatusPending},
	} {
		job := &models.AnalysisJob{
			ID: spec.id, Type: models.JobTypeScoring, ProjectID: spec.project,
			Status: spec.status, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	all, err := s.GetJobs("", "")
	if err != nil {
		t.Fatalf("GetJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("unexpected unfiltered result: got %d jobs, first %s", len(all), all[0].ID)
	}

	p1, _ := s.GetJobs("p1", "")
	if len(p1) != 2 {
		t.Errorf("project filter = %d jobs, want 2", len(p1))
	}

	pending, _ := s.GetJobs("p1", models.JobStatusPending)
	if len(pending) != 1 || pending[0].ID != "a" {
		t.Errorf("status filter returned %+v", pending)
	}
}

func TestSQLiteApplyBatchResult(t *testing.T) {
	s := newSQLiteStore(t)

	job := &models.AnalysisJob{
		ID: "j1", Type: models.JobTypeScoring, ProjectID: "p1",
		Status: models.JobStatusProcessing, TotalItems: 20, CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.ApplyBatchResult("j1", 10, []models.JobError{{NodeID: "n3", Message: "panic"}})
	if err != nil {
		t.Fatalf("ApplyBatchResult: %v", err)
	}
	if got.ProcessedItems != 10 || got.Progress != 50 || len(got.Errors) != 1 {
		t.Errorf("after batch: %+v", got)
	}

	// The fold must be durable, not just reflected in the return value.
	stored, _ := s.GetJob("j1")
	if stored.ProcessedItems != 10 || stored.Progress != 50 || len(stored.Errors) != 1 {
		t.Errorf("batch result not persisted: %+v", stored)
	}

	// Status is never touched by batch folds.
	if stored.Status != models.JobStatusProcessing {
		t.Errorf("status changed to %s", stored.Status)
	}

	if _, err := s.ApplyBatchResult("missing", 1, nil); err != ErrJobNotFound {
		t.Errorf("ApplyBatchResult(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteUpdateJobIf(t *testing.T) {
	s := newSQLiteStore(t)

	job := &models.AnalysisJob{
		ID: "j1", Type: models.JobTypeScoring, ProjectID: "p1",
		Status: models.JobStatusProcessing, TotalItems: 5, CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	isProcessing := func(j *models.AnalysisJob) bool { return j.Status == models.JobStatusProcessing }

	got, applied, err := s.UpdateJobIf("j1", isProcessing, func(j *models.AnalysisJob) error {
		j.CancelRequested = true
		j.Errors = append(j.Errors, models.JobError{Message: "job cancelled by user", Timestamp: time.Now()})
		j.Status = models.JobStatusFailed
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJobIf: %v", err)
	}
	if !applied || got.Status != models.JobStatusFailed {
		t.Errorf("mutation not applied: applied=%v job=%+v", applied, got)
	}

	// Durable, not just reflected in the return value.
	stored, _ := s.GetJob("j1")
	if !stored.CancelRequested || stored.Status != models.JobStatusFailed || len(stored.Errors) != 1 {
		t.Errorf("mutation not persisted: %+v", stored)
	}

	// A failing check skips the write and reports the stored record.
	got, applied, err = s.UpdateJobIf("j1", isProcessing, func(j *models.AnalysisJob) error {
		j.ProcessedItems = 999
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJobIf: %v", err)
	}
	if applied || got.ProcessedItems != 0 {
		t.Errorf("skipped update changed record: applied=%v job=%+v", applied, got)
	}
	stored, _ = s.GetJob("j1")
	if stored.ProcessedItems != 0 {
		t.Errorf("skipped update persisted: %+v", stored)
	}

	if _, _, err := s.UpdateJobIf("missing", isProcessing, func(*models.AnalysisJob) error { return nil }); err != ErrJobNotFound {
		t.Errorf("UpdateJobIf(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteNodeMetricsRoundtrip(t *testing.T) {
	s := newSQLiteStore(t)

	nodes := []models.NodeMetrics{
		{NodeID: "leaf", ProjectID: "p1", Depth: 2, Position: 7, Impressions: 500, Clicks: 25, Sessions: 20, Revenue: 300, Transactions: 3},
		{NodeID: "root", ProjectID: "p1", Depth: 0, Position: 3, Impressions: 9000, Clicks: 700},
	}
	for i := range nodes {
		if err := s.UpsertNodeMetrics(&nodes[i]); err != nil {
			t.Fatalf("UpsertNodeMetrics: %v", err)
		}
	}

	got, err := s.GetProjectNodes("p1")
	if err != nil {
		t.Fatalf("GetProjectNodes: %v", err)
	}
	if len(got) != 2 || got[0].NodeID != "root" || got[1].NodeID != "leaf" {
		t.Fatalf("depth ordering broken: %+v", got)
	}
	if got[1].CTR != 0.05 || got[1].AverageOrderValue != 100 {
		t.Errorf("derived fields missing: %+v", got[1])
	}

	// Upsert replaces the existing row.
	nodes[0].Impressions = 600
	if err := s.UpsertNodeMetrics(&nodes[0]); err != nil {
		t.Fatalf("UpsertNodeMetrics: %v", err)
	}
	got, _ = s.GetProjectNodes("p1")
	if len(got) != 2 || got[1].Impressions != 600 {
		t.Errorf("upsert did not replace: %+v", got[1])
	}
}

func TestSQLiteOpportunitiesRoundtrip(t *testing.T) {
	s := newSQLiteStore(t)

	now := time.Now().Truncate(time.Second)
	opps := []*models.Opportunity{
		{NodeID: "a", ProjectID: "p1", Score: 40, CombinedValue: 30, Priority: models.PriorityMedium,
			Factors: map[string]float64{"ctr_gap": 0.5}, Confidence: 0.75, ComputedAt: now},
		{NodeID: "b", ProjectID: "p1", Score: 80, RevenuePotential: 12000, CombinedValue: 85,
			Priority: models.PriorityCritical, Confidence: 1.0, ComputedAt: now},
	}
	if err := s.UpsertOpportunities(opps); err != nil {
		t.Fatalf("UpsertOpportunities: %v", err)
	}

	got, err := s.GetOpportunities("p1", 0)
	if err != nil {
		t.Fatalf("GetOpportunities: %v", err)
	}
	if len(got) != 2 || got[0].NodeID != "b" {
		t.Fatalf("ordering broken: %+v", got)
	}
	if got[1].Factors["ctr_gap"] != 0.5 {
		t.Errorf("factors lost: %+v", got[1].Factors)
	}
	if got[0].RevenuePotential != 12000 {
		t.Errorf("revenue potential = %v, want 12000", got[0].RevenuePotential)
	}

	limited, _ := s.GetOpportunities("p1", 1)
	if len(limited) != 1 || limited[0].NodeID != "b" {
		t.Errorf("limit broken: %+v", limited)
	}
}

func TestSQLiteProjectionRoundtrip(t *testing.T) {
	s := newSQLiteStore(t)

	if _, err := s.GetProjection("p1", "n1"); err != ErrProjectionNotFound {
		t.Errorf("GetProjection(missing) = %v, want ErrProjectionNotFound", err)
	}

	p := &models.RevenueProjection{
		NodeID:            "n1",
		Confidence:        0.85,
		TimeToImpactWeeks: 4,
		Method:            models.MethodContent,
		Lift:              models.RevenueLift{MonthlyRevenueLift: 100, AnnualRevenueLift: 1200},
		CalculatedAt:      time.Now().Truncate(time.Second),
	}
	if err := s.SaveProjection("p1", p); err != nil {
		t.Fatalf("SaveProjection: %v", err)
	}

	got, err := s.GetProjection("p1", "n1")
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if got.Confidence != 0.85 || got.Lift.AnnualRevenueLift != 1200 || got.Method != models.MethodContent {
		t.Errorf("roundtrip mismatch: %+v", got)
	}

	// Saving again replaces the record.
	p.Confidence = 0.5
	if err := s.SaveProjection("p1", p); err != nil {
		t.Fatalf("SaveProjection: %v", err)
	}
	got, _ = s.GetProjection("p1", "n1")
	if got.Confidence != 0.5 {
		t.Errorf("upsert did not replace: confidence %v", got.Confidence)
	}
}

func TestSQLiteHealthCheck(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.HealthCheck(); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
