package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// JobRecord is the persisted form of a core.Job.
type JobRecord struct {
	ID                    string `gorm:"primaryKey;size:255"`
	CampaignID            string `gorm:"index;size:255;not null"`
	Kind                  string `gorm:"size:20;not null"`
	SubmittedBy           string `gorm:"size:255"`
	Request               []byte `gorm:"type:bytes"`
	Status                string `gorm:"index;size:20;not null"`
	Output                []byte `gorm:"type:bytes"`
	FailureMessage        string `gorm:"type:text"`
	FailureOrigin         string `gorm:"size:20"`
	AIModel               string `gorm:"size:255"`
	TokensUsed            int
	EstimatedCompletionMs int64
	CreatedAt             time.Time `gorm:"index"`
	StartedAt             *time.Time
	CompletedAt           *time.Time
	ObservedAt            time.Time
}

// TableName sets the table for JobRecord.
func (JobRecord) TableName() string { return "generation_jobs" }

// GormRepository implements core.Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates the necessary tables.
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&JobRecord{})
}

// Save inserts or replaces a job.
func (r *GormRepository) Save(ctx context.Context, job *core.Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

// Get retrieves a job by ID, or nil if it is not stored.
func (r *GormRepository) Get(ctx context.Context, jobID string) (*core.Job, error) {
	var rec JobRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// ListByCampaign returns a campaign's jobs, newest first.
func (r *GormRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*core.Job, error) {
	var recs []JobRecord
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// ListByStatus returns up to limit jobs in the given status, newest first.
func (r *GormRepository) ListByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var recs []JobRecord
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

func toRecord(job *core.Job) (*JobRecord, error) {
	reqBytes, err := json.Marshal(job.Request)
	if err != nil {
		return nil, fmt.Errorf("genjobs: failed to marshal request: %w", err)
	}
	rec := &JobRecord{
		ID:                    job.ID,
		CampaignID:            job.CampaignID,
		Kind:                  string(job.Kind),
		SubmittedBy:           job.SubmittedBy,
		Request:               reqBytes,
		Status:                string(job.Status),
		AIModel:               job.AIModel,
		TokensUsed:            job.TokensUsed,
		EstimatedCompletionMs: job.EstimatedCompletion.Milliseconds(),
		CreatedAt:             job.CreatedAt,
		StartedAt:             job.StartedAt,
		CompletedAt:           job.CompletedAt,
		ObservedAt:            job.UpdatedAt,
	}
	if out, ok := job.Output(); ok {
		rec.Output, err = json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("genjobs: failed to marshal output: %w", err)
		}
	}
	if f, ok := job.Failure(); ok {
		rec.FailureMessage = security.SanitizeErrorMessage(f.Message)
		rec.FailureOrigin = string(f.Origin)
	}
	return rec, nil
}

func fromRecord(rec *JobRecord) (*core.Job, error) {
	var req core.Request
	if len(rec.Request) > 0 {
		if err := json.Unmarshal(rec.Request, &req); err != nil {
			return nil, fmt.Errorf("genjobs: failed to unmarshal request for %s: %w", rec.ID, err)
		}
	}
	var output []json.RawMessage
	if len(rec.Output) > 0 {
		if err := json.Unmarshal(rec.Output, &output); err != nil {
			return nil, fmt.Errorf("genjobs: failed to unmarshal output for %s: %w", rec.ID, err)
		}
	}
	var failure *core.Failure
	if rec.FailureOrigin != "" || rec.FailureMessage != "" {
		failure = &core.Failure{Message: rec.FailureMessage, Origin: core.FailureOrigin(rec.FailureOrigin)}
	}

	return core.RestoreJob(core.Job{
		ID:                  rec.ID,
		CampaignID:          rec.CampaignID,
		Kind:                core.JobKind(rec.Kind),
		SubmittedBy:         rec.SubmittedBy,
		Request:             req,
		Status:              core.JobStatus(rec.Status),
		AIModel:             rec.AIModel,
		TokensUsed:          rec.TokensUsed,
		EstimatedCompletion: time.Duration(rec.EstimatedCompletionMs) * time.Millisecond,
		CreatedAt:           rec.CreatedAt,
		StartedAt:           rec.StartedAt,
		CompletedAt:         rec.CompletedAt,
		UpdatedAt:           rec.ObservedAt,
	}, output, failure), nil
}

func fromRecords(recs []JobRecord) ([]*core.Job, error) {
	out := make([]*core.Job, 0, len(recs))
	for i := range recs {
		job, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}
