package core

import "time"

// Event is the interface for all job lifecycle events.
type Event interface {
	eventMarker()
}

// JobSubmitted is emitted when the backend acknowledges a submission.
type JobSubmitted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobSubmitted) eventMarker() {}

// JobStatusChanged is emitted on every non-terminal status transition.
type JobStatusChanged struct {
	Job       *Job
	From      JobStatus
	Timestamp time.Time
}

func (*JobStatusChanged) eventMarker() {}

// JobCompleted is emitted when a job completes.
type JobCompleted struct {
	Job            *Job
	Duration       time.Duration
	NoUsableOutput bool
	Timestamp      time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails, whether reported by the backend or
// synthesized by the client.
type JobFailed struct {
	Job       *Job
	Failure   Failure
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobCancelled is emitted when the user cancels a job.
type JobCancelled struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// PollRetrying is emitted when a status check fails transiently and will be retried.
type PollRetrying struct {
	JobID     string
	Kind      JobKind
	Attempt   int
	Error     error
	Timestamp time.Time
}

func (*PollRetrying) eventMarker() {}
