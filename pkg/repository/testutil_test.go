package repository

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance pinned to one connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")
		require.NoError(t, ConfigurePool(db, MaxOpenConns(2), MaxIdleConns(1)))

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")

		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			_ = sqlDB.Close()
		})
		return db
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	require.NoError(t, ConfigurePool(db, WithPoolConfig(SQLiteMemoryPoolConfig())))
	return db
}

func cleanupPostgresDB(db *gorm.DB) {
	if db.Migrator().HasTable(&JobRecord{}) {
		db.Exec("DELETE FROM generation_jobs")
	}
}

// newTestJob builds a pending job created at the given offset from a fixed base time.
func newTestJob(t *testing.T, id, campaignID string, offset time.Duration) *core.Job {
	t.Helper()
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	opts := core.DefaultOptions()
	opts.VariantsCount = 2
	job, err := core.NewJob(&core.Snapshot{
		ID:         id,
		CampaignID: campaignID,
		Status:     core.StatusPending,
		CreatedAt:  base.Add(offset),
	}, core.Request{
		Kind:        core.KindGenerate,
		SubmittedBy: "user-1",
		Generation:  &core.GenerationRequest{Prompt: "Launch email for CTOs", Options: opts},
	}, base.Add(offset))
	require.NoError(t, err)
	return job
}

func completedOutput() []json.RawMessage {
	return []json.RawMessage{
		json.RawMessage(`{"variant_id":1,"subject_line":"First"}`),
		json.RawMessage(`{"variant_id":2,"subject_line":"Second"}`),
	}
}
