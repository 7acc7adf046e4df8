package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowdtest "github.com/flowd-sh/flowd/internal/testing"
	"github.com/flowd-sh/flowd/errors"
)

func TestHistoryStoreSaveAndGet(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewHistoryStore(db, 10)

	job := &Job{ID: "build", Name: "Build"}
	rec := NewHistoryRecord(job, TriggerManual, 0)
	require.NoError(t, store.Save(rec))

	// Finalize and upsert the same row
	code := 0
	rec.Stdout = "done\n"
	rec.Finalize(StatusSuccess, &code, "")
	require.NoError(t, store.Save(rec))

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "build", got.JobID)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "done\n", got.Stdout)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.NotNil(t, got.EndedAt)
}

func TestHistoryStoreAutoFixAnnotation(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewHistoryStore(db, 10)

	job := &Job{ID: "build", Name: "Build"}
	rec := NewHistoryRecord(job, TriggerManual, 0)
	code := 1
	rec.Finalize(StatusFailed, &code, "exit 1")
	rec.AutoFix = &AutoFixNote{RuleName: "npm missing module", Command: "npm install x"}
	require.NoError(t, store.Save(rec))

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AutoFix)
	assert.Equal(t, "npm missing module", got.AutoFix.RuleName)
	assert.Equal(t, "npm install x", got.AutoFix.Command)
}

func TestHistoryStoreRetentionTrims(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewHistoryStore(db, 5)

	job := &Job{ID: "build", Name: "Build"}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		rec := &HistoryRecord{
			ID:        fmt.Sprintf("rec-%02d", i),
			JobID:     job.ID,
			JobName:   job.Name,
			Trigger:   TriggerScheduled,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    StatusSuccess,
		}
		require.NoError(t, store.Save(rec))
	}

	records, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, records, 5)

	// Most recent first; the three oldest were evicted
	assert.Equal(t, "rec-07", records[0].ID)
	assert.Equal(t, "rec-03", records[4].ID)
}

func TestHistoryStoreListOrderAndLimit(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewHistoryStore(db, 10)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		rec := &HistoryRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			JobID:     "build",
			JobName:   "Build",
			Trigger:   TriggerManual,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    StatusFailed,
		}
		require.NoError(t, store.Save(rec))
	}

	records, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-3", records[0].ID)
	assert.Equal(t, "rec-2", records[1].ID)
}

func TestHistoryStoreGetMissing(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewHistoryStore(db, 10)

	_, err := store.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
