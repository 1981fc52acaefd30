package core

import (
	"context"
)

// Transport is the authenticated request/response layer to the platform API.
// Implementations retry auth expiry themselves and surface other failures as
// *TransportError.
type Transport interface {
	SubmitGeneration(ctx context.Context, campaignID string, req GenerationRequest, regenerate bool) (*Snapshot, error)
	SubmitRefinement(ctx context.Context, campaignID, templateID string, req RefinementRequest) (*Snapshot, error)
	SubmitSubjectLines(ctx context.Context, campaignID string, req SubjectLineRequest) (*Snapshot, error)
	GetJobStatus(ctx context.Context, campaignID, jobID string) (*Snapshot, error)
	CancelJob(ctx context.Context, campaignID, jobID string) (*Snapshot, error)
	CreateTemplateFromVariant(ctx context.Context, campaignID, jobID string, variantID int) (string, error)
	ListJobs(ctx context.Context, campaignID string, page, perPage int) (*JobPage, error)
}

// JobPage is one page of a campaign's job history.
type JobPage struct {
	Jobs    []*Snapshot
	Total   int
	Page    int
	PerPage int
	Pages   int
}

// Repository holds the last-known state of each job. Only the controller writes to it.
type Repository interface {
	// Migrate prepares any backing tables.
	Migrate(ctx context.Context) error

	// Save inserts or replaces a job.
	Save(ctx context.Context, job *Job) error

	// Get returns the job, or nil if unknown.
	Get(ctx context.Context, jobID string) (*Job, error)

	// ListByCampaign returns a campaign's jobs, newest first.
	ListByCampaign(ctx context.Context, campaignID string) ([]*Job, error)

	// ListByStatus returns jobs in the given status.
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
}
