// Package core provides the domain models and interfaces for the genjobs package.
package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a generation job.
type JobStatus string

const (
	StatusSubmitting JobStatus = "submitting" // Local only, no job ID assigned yet
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts a backend status string to a JobStatus.
// The local-only submitting state is never accepted from the backend.
func ParseStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// JobKind identifies what a job generates.
type JobKind string

const (
	KindGenerate     JobKind = "generate"
	KindRefine       JobKind = "refine"
	KindSubjectLines JobKind = "subject_lines"
)

// FailureOrigin distinguishes worker-reported failures from client-synthesized ones.
type FailureOrigin string

const (
	OriginBackend FailureOrigin = "backend"
	OriginClient  FailureOrigin = "client"
)

// Failure is the diagnostic attached to a failed job.
type Failure struct {
	Message string
	Origin  FailureOrigin
}

// Snapshot is the backend's representation of a job as delivered by the Transport.
type Snapshot struct {
	ID                  string
	CampaignID          string
	Kind                JobKind
	Status              JobStatus
	Output              []json.RawMessage
	ErrorMessage        string
	AIModel             string
	TokensUsed          int
	EstimatedCompletion time.Duration
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// Job is the client's last-known view of one generation, refinement or
// subject-line request.
//
// Output and failure are only reachable through Output and Failure, which
// report ok=false unless the job is in the matching status. Once a job is
// terminal, Apply, Cancel and Fail leave it untouched.
type Job struct {
	ID                  string
	CampaignID          string
	Kind                JobKind
	SubmittedBy         string
	Request             Request
	Status              JobStatus
	AIModel             string
	TokensUsed          int
	EstimatedCompletion time.Duration
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	UpdatedAt           time.Time

	output  []json.RawMessage
	failure *Failure
}

// NewJob creates a Job from the backend's acknowledgement of a submission.
func NewJob(ack *Snapshot, req Request, now time.Time) (*Job, error) {
	if ack == nil || ack.ID == "" {
		return nil, ErrMissingJobID
	}
	job := &Job{
		ID:          ack.ID,
		CampaignID:  ack.CampaignID,
		Kind:        req.Kind,
		SubmittedBy: req.SubmittedBy,
		Request:     req,
		Status:      StatusPending,
		CreatedAt:   ack.CreatedAt,
		UpdatedAt:   now,
	}
	if job.Kind == "" {
		job.Kind = ack.Kind
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.EstimatedCompletion = ack.EstimatedCompletion
	if ack.Status != "" && ack.Status != StatusPending {
		if _, err := job.Apply(ack, now); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// RestoreJob rebuilds a Job from persisted parts. Output is kept only for
// completed jobs and failure only for failed jobs.
func RestoreJob(j Job, output []json.RawMessage, failure *Failure) *Job {
	job := j
	job.output = nil
	job.failure = nil
	switch job.Status {
	case StatusCompleted:
		job.output = cloneOutput(output)
	case StatusFailed:
		if failure != nil {
			f := *failure
			job.failure = &f
		} else {
			job.failure = &Failure{Message: "generation failed", Origin: OriginBackend}
		}
	}
	return &job
}

// IsTerminal reports whether the job has reached completed, failed or cancelled.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Output returns the raw generated variants. ok is false unless the job completed.
func (j *Job) Output() ([]json.RawMessage, bool) {
	if j.Status != StatusCompleted {
		return nil, false
	}
	return cloneOutput(j.output), true
}

// Failure returns the diagnostic. ok is false unless the job failed.
func (j *Job) Failure() (Failure, bool) {
	if j.Status != StatusFailed || j.failure == nil {
		return Failure{}, false
	}
	return *j.failure, true
}

// Apply merges a polled snapshot into the job. Any backend status is taken as
// authoritative, including skipped intermediate states. It returns whether
// anything observable changed, or ErrJobTerminal if the job is already final.
func (j *Job) Apply(s *Snapshot, now time.Time) (bool, error) {
	if j.IsTerminal() {
		return false, ErrJobTerminal
	}
	if s == nil {
		return false, ErrInvalidStatus
	}
	if s.ID != "" && s.ID != j.ID {
		return false, fmt.Errorf("%w: got %q, want %q", ErrJobMismatch, s.ID, j.ID)
	}
	status, err := ParseStatus(string(s.Status))
	if err != nil {
		return false, err
	}

	changed := status != j.Status
	j.Status = status

	if s.AIModel != "" && s.AIModel != j.AIModel {
		j.AIModel = s.AIModel
		changed = true
	}
	if s.TokensUsed != 0 && s.TokensUsed != j.TokensUsed {
		j.TokensUsed = s.TokensUsed
		changed = true
	}
	if j.StartedAt == nil && (status == StatusProcessing || s.StartedAt != nil) {
		started := now
		if s.StartedAt != nil {
			started = *s.StartedAt
		}
		j.StartedAt = &started
		changed = true
	}

	if status.IsTerminal() {
		completed := now
		if s.CompletedAt != nil {
			completed = *s.CompletedAt
		}
		j.CompletedAt = &completed
		switch status {
		case StatusCompleted:
			j.output = cloneOutput(s.Output)
		case StatusFailed:
			msg := s.ErrorMessage
			if msg == "" {
				msg = "generation failed"
			}
			j.failure = &Failure{Message: msg, Origin: OriginBackend}
		}
	}

	if changed {
		j.UpdatedAt = now
	}
	return changed, nil
}

// Cancel marks the job cancelled. It returns false if the job was already terminal.
func (j *Job) Cancel(now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true
}

// Fail marks the job failed with a diagnostic. It returns false if the job was already terminal.
func (j *Job) Fail(f Failure, now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	j.Status = StatusFailed
	j.failure = &f
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true
}

// Clone returns a deep copy safe to hand to observers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.output = cloneOutput(j.output)
	if j.failure != nil {
		f := *j.failure
		c.failure = &f
	}
	c.Request = j.Request.clone()
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneOutput(out []json.RawMessage) []json.RawMessage {
	if out == nil {
		return nil
	}
	c := make([]json.RawMessage, len(out))
	for i, raw := range out {
		c[i] = append(json.RawMessage(nil), raw...)
	}
	return c
}
