package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// MemoryRepository keeps job state in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*core.Job
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*core.Job)}
}

// Migrate is a no-op.
func (r *MemoryRepository) Migrate(ctx context.Context) error { return nil }

// Save stores a copy of the job.
func (r *MemoryRepository) Save(ctx context.Context, job *core.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job, or nil if unknown.
func (r *MemoryRepository) Get(ctx context.Context, jobID string) (*core.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[jobID].Clone(), nil
}

// ListByCampaign returns a campaign's jobs, newest first.
func (r *MemoryRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*core.Job, error) {
	r.mu.RLock()
	var out []*core.Job
	for _, job := range r.jobs {
		if job.CampaignID == campaignID {
			out = append(out, job.Clone())
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

// ListByStatus returns up to limit jobs in the given status, newest first.
func (r *MemoryRepository) ListByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	r.mu.RLock()
	var out []*core.Job
	for _, job := range r.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(jobs []*core.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
