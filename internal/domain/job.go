package domain

import (
	"fmt"
	"time"
)

// JobStatus is the processing state of a job.
type JobStatus string

// Job states. COMPLETED and FAILED are terminal; retrying a failed scene
// requires a new job.
const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether s -> next is a valid transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobInProgress || next == JobFailed
	case JobInProgress:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// ParseJobStatus validates a status string.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobPending, JobInProgress, JobCompleted, JobFailed:
		return st, nil
	}
	return "", &ValidationError{
		Field:      "status",
		Value:      s,
		Constraint: "PENDING|IN_PROGRESS|COMPLETED|FAILED",
		Message:    "unknown job status",
	}
}

// Job tracks the processing of one scene.
type Job struct {
	ID          string
	SceneKey    string // Storage key of the input scene
	Model       string
	Status      JobStatus
	Error       string
	Note        string // Why a completed job produced nothing
	VectorCount int
	ResultURL   string // Prediction raster
	PreviewURL  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// NewJob creates a pending job.
func NewJob(id, sceneKey, model string, now time.Time) *Job {
	return &Job{
		ID:        id,
		SceneKey:  sceneKey,
		Model:     model,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next, recording timestamps.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", j.Status, next, ErrInvalidTransition)
	}
	j.Status = next
	j.UpdatedAt = now
	switch next {
	case JobInProgress:
		j.StartedAt = &now
	case JobCompleted, JobFailed:
		j.FinishedAt = &now
	}
	return nil
}

// Fail marks the job failed with the error message.
func (j *Job) Fail(err error, now time.Time) error {
	if err != nil {
		j.Error = err.Error()
	}
	return j.Transition(JobFailed, now)
}

// Duration returns the processing time of a finished job.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// Clone returns a copy that does not share timestamps with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
