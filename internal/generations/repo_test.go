package generations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

func setupGenerationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS generations (
  id TEXT PRIMARY KEY,
  profile_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  vendor TEXT NOT NULL,
  vendor_task_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'pending',
  prompt TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  params TEXT,
  result_urls TEXT,
  result_text TEXT,
  price TEXT NOT NULL DEFAULT '0',
  is_demo INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  submitted_at DATETIME NOT NULL,
  completed_at DATETIME,
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS generations").Error
	})
	return db
}

func seedGeneration(t *testing.T, db *gorm.DB, profileID uuid.UUID, status enums.GenerationStatus, expiresAt time.Time, taskID string) *models.Generation {
	t.Helper()
	now := time.Now().UTC()
	row := &models.Generation{
		ID:           uuid.New(),
		ProfileID:    profileID,
		Kind:         enums.GenerationKindImage,
		Vendor:       enums.VendorReplicate,
		VendorTaskID: taskID,
		Status:       status,
		Prompt:       "a red bicycle",
		Model:        "sdxl",
		Price:        decimal.RequireFromString("0.10"),
		SubmittedAt:  now,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestRepositoryVendorTaskIDUnique(t *testing.T) {
	db := setupGenerationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	seedGeneration(t, db, uuid.New(), enums.GenerationStatusPending, future, "task-dup")

	dup := &models.Generation{
		ID:           uuid.New(),
		ProfileID:    uuid.New(),
		Kind:         enums.GenerationKindImage,
		Vendor:       enums.VendorReplicate,
		VendorTaskID: "task-dup",
		Status:       enums.GenerationStatusPending,
		Prompt:       "another",
		SubmittedAt:  time.Now(),
		ExpiresAt:    future,
	}
	require.Error(t, repo.Create(ctx, dup))

	found, err := repo.FindByVendorTaskID(ctx, "task-dup")
	require.NoError(t, err)
	assert.Equal(t, "a red bicycle", found.Prompt)
}

func TestRepositoryListUnsettledSkipsExpiredAndTerminal(t *testing.T) {
	db := setupGenerationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	live := seedGeneration(t, db, uuid.New(), enums.GenerationStatusProcessing, now.Add(time.Hour), "task-live")
	seedGeneration(t, db, uuid.New(), enums.GenerationStatusPending, now.Add(-time.Minute), "task-stale")
	seedGeneration(t, db, uuid.New(), enums.GenerationStatusSucceeded, now.Add(time.Hour), "task-done")

	rows, err := repo.ListUnsettled(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, live.ID, rows[0].ID)

	expired, err := repo.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "task-stale", expired[0].VendorTaskID)
}

func TestRepositoryMarkExpiredLosesToSettlement(t *testing.T) {
	db := setupGenerationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	row := seedGeneration(t, db, uuid.New(), enums.GenerationStatusProcessing, now.Add(-time.Minute), "task-race")

	text := "done"
	require.NoError(t, repo.MarkSucceeded(ctx, row.ID, []byte(`["https://cdn/img.png"]`), &text, now))

	flipped, err := repo.MarkExpired(ctx, row.ID, now)
	require.NoError(t, err)
	assert.False(t, flipped, "settled task must not be expired")

	found, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.GenerationStatusSucceeded, found.Status)
	require.NotNil(t, found.ResultText)
	assert.Equal(t, "done", *found.ResultText)
}

func TestRepositoryDeleteRemovesRow(t *testing.T) {
	db := setupGenerationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := seedGeneration(t, db, uuid.New(), enums.GenerationStatusSucceeded, time.Now().Add(time.Hour), "task-gone")
	require.NoError(t, repo.Delete(ctx, row.ID))

	_, err := repo.FindByID(ctx, row.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListByProfileIDFiltersAndPaginates(t *testing.T) {
	db := setupGenerationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	profileID := uuid.New()
	future := time.Now().Add(time.Hour)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 4; i++ {
		row := seedGeneration(t, db, profileID, enums.GenerationStatusPending, future, fmt.Sprintf("task-%d", i))
		require.NoError(t, db.Model(row).UpdateColumn("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	seedGeneration(t, db, uuid.New(), enums.GenerationStatusPending, future, "task-other")

	page, err := repo.ListByProfileID(ctx, profileID, ListFilter{}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 3) // limit + 1 buffer row
	for _, row := range page {
		assert.Equal(t, profileID, row.ProfileID)
	}

	filtered, err := repo.ListByProfileID(ctx, profileID, ListFilter{Kind: enums.GenerationKindVideo}, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, filtered)
}
