package stats

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStorage implements Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a GORM-backed stats storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&JobStat{})
}

// bucket returns the row for kind at ts, creating it if needed.
func (s *GormStorage) bucket(tx *gorm.DB, kind string, ts time.Time) (*JobStat, error) {
	var row JobStat
	err := tx.Where("kind = ? AND timestamp = ?", kind, ts).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = JobStat{ID: uuid.NewString(), Kind: kind, Timestamp: ts}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStorage) AddCounters(ctx context.Context, kind string, ts time.Time, c Counters) error {
	ts = ts.UTC().Truncate(time.Minute)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.bucket(tx, kind, ts)
		if err != nil {
			return err
		}
		return tx.Model(row).Updates(map[string]any{
			"submitted":        gorm.Expr("submitted + ?", c.Submitted),
			"completed":        gorm.Expr("completed + ?", c.Completed),
			"failed":           gorm.Expr("failed + ?", c.Failed),
			"cancelled":        gorm.Expr("cancelled + ?", c.Cancelled),
			"lost_connection":  gorm.Expr("lost_connection + ?", c.LostConnection),
			"no_usable_output": gorm.Expr("no_usable_output + ?", c.NoUsableOutput),
			"poll_retries":     gorm.Expr("poll_retries + ?", c.PollRetries),
		}).Error
	})
}

func (s *GormStorage) SnapshotInFlight(ctx context.Context, kind string, ts time.Time, pending, processing int64) error {
	ts = ts.UTC().Truncate(time.Minute)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.bucket(tx, kind, ts)
		if err != nil {
			return err
		}
		return tx.Model(row).Updates(map[string]any{
			"pending":    pending,
			"processing": processing,
		}).Error
	})
}

func (s *GormStorage) History(ctx context.Context, kind string, since, until time.Time) ([]JobStat, error) {
	var rows []JobStat
	q := s.db.WithContext(ctx).Order("timestamp ASC, kind ASC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until.UTC())
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&JobStat{})
	return result.RowsAffected, result.Error
}
