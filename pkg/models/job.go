package models

import (
	"time"
)

// JobStatus represents the status of an analysis job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobType selects which computations a job runs per node
type JobType string

const (
	JobTypeScoring      JobType = "scoring"
	JobTypeRevenue      JobType = "revenue"
	JobTypeFullAnalysis JobType = "full_analysis"
)

// Valid reports whether the job type is one of the supported values.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeScoring, JobTypeRevenue, JobTypeFullAnalysis:
		return true
	}
	return false
}

// JobOptions tunes a single batch run.
type JobOptions struct {
	BatchSize      int           `json:"batch_size,omitempty"`      // nodes per batch
	Concurrency    int           `json:"concurrency,omitempty"`     // max batches in flight
	BatchTimeout   time.Duration `json:"batch_timeout,omitempty"`   // hard per-batch budget
	TargetPosition int           `json:"target_position,omitempty"` // revenue projection target
	MaxRetries     int           `json:"max_retries,omitempty"`     // persistence write retry budget
	RetryAttempt   int           `json:"retry_attempt,omitempty"`   // 0 for fresh jobs, >0 for retry jobs
	NodeFilter     []string      `json:"node_filter,omitempty"`     // restrict run to these node IDs
}

// JobError records one node (or batch) failure on a job. Failures never
// abort the job; they accumulate here.
type JobError struct {
	NodeID     string    `json:"node_id"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// JobSummary holds the aggregate result of a completed job.
type JobSummary struct {
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"` // 0-100
}

// AnalysisJob is one bulk scoring/projection run across a project's nodes.
// Mutated only by the owning processor run; terminal once completed or
// failed.
type AnalysisJob struct {
	ID               string            `json:"id"`
	Type             JobType           `json:"type"`
	ProjectID        string            `json:"project_id"`
	Status           JobStatus         `json:"status"`
	Progress         int               `json:"progress"` // 0-100
	TotalItems       int               `json:"total_items"`
	ProcessedItems   int               `json:"processed_items"`
	Errors           []JobError        `json:"errors,omitempty"`
	Result           *JobSummary       `json:"result,omitempty"`
	Options          JobOptions        `json:"options,omitempty"`
	SourceJobID      string            `json:"source_job_id,omitempty"` // set on retry jobs
	CancelRequested  bool              `json:"cancel_requested,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (j *AnalysisJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// FailedNodeIDs returns the distinct node IDs recorded on the error list,
// in first-seen order.
func (j *AnalysisJob) FailedNodeIDs() []string {
	seen := make(map[string]bool, len(j.Errors))
	ids := make([]string, 0, len(j.Errors))
	for _, e := range j.Errors {
		if e.NodeID == "" || seen[e.NodeID] {
			continue
		}
		seen[e.NodeID] = true
		ids = append(ids, e.NodeID)
	}
	return ids
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
