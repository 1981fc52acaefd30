// Package stats aggregates job outcomes per kind into minute buckets.
package stats

import (
	"context"
	"time"
)

// JobStat stores per-kind statistics bucketed by minute.
type JobStat struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Kind           string    `gorm:"index:idx_job_stats_kind_ts;size:20;not null"`
	Timestamp      time.Time `gorm:"index:idx_job_stats_kind_ts;not null"`
	Pending        int64     `gorm:"default:0"`
	Processing     int64     `gorm:"default:0"`
	Submitted      int64     `gorm:"default:0"`
	Completed      int64     `gorm:"default:0"`
	Failed         int64     `gorm:"default:0"`
	Cancelled      int64     `gorm:"default:0"`
	LostConnection int64     `gorm:"default:0"`
	NoUsableOutput int64     `gorm:"default:0"`
	PollRetries    int64     `gorm:"default:0"`
}

// TableName sets the table for JobStat.
func (JobStat) TableName() string { return "generation_job_stats" }

// Counters are outcome counts accumulated between flushes.
type Counters struct {
	Submitted      int64
	Completed      int64
	Failed         int64
	Cancelled      int64
	LostConnection int64
	NoUsableOutput int64
	PollRetries    int64
}

// IsZero reports whether nothing was counted.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Storage persists stats rows.
type Storage interface {
	Migrate(ctx context.Context) error
	AddCounters(ctx context.Context, kind string, ts time.Time, c Counters) error
	SnapshotInFlight(ctx context.Context, kind string, ts time.Time, pending, processing int64) error
	History(ctx context.Context, kind string, since, until time.Time) ([]JobStat, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}
