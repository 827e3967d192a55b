package models

import (
	"fmt"
	"time"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusProcessing: true, // Pending → Processing (run starts)
		JobStatusFailed:     true, // Pending → Failed (validation or fetch failure)
	},
	JobStatusProcessing: {
		JobStatusCompleted: true, // Processing → Completed (all batches done)
		JobStatusFailed:    true, // Processing → Failed (fatal error or cancellation)
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// CanTransition checks whether a state change is allowed.
func CanTransition(from, to JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition moves the job to a new state, recording the change in the
// audit trail. Returns an error for invalid transitions and leaves the job
// untouched.
func (j *AnalysisJob) Transition(to JobStatus, reason string) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid job state transition: %s -> %s", j.Status, to)
	}

	now := time.Now()
	j.StateTransitions = append(j.StateTransitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})

	switch to {
	case JobStatusProcessing:
		j.StartedAt = &now
	case JobStatusCompleted, JobStatusFailed:
		j.CompletedAt = &now
	}

	j.Status = to
	return nil
}
