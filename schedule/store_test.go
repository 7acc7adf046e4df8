package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-sh/flowd/errors"
	flowdtest "github.com/flowd-sh/flowd/internal/testing"
)

func ptr(t time.Time) *time.Time { return &t }

func TestStoreCreateAndGet(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	sched := &Schedule{
		JobID:           "build",
		Spec:            "every 1h",
		IntervalSeconds: 3600,
		NextRunAt:       ptr(time.Now().Add(time.Hour)),
	}
	require.NoError(t, store.Create(sched))
	assert.NotEmpty(t, sched.ID)
	assert.Equal(t, StateActive, sched.State)

	got, err := store.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "build", got.JobID)
	assert.Equal(t, "every 1h", got.Spec)
	assert.Equal(t, 3600, got.IntervalSeconds)
	assert.Equal(t, StateActive, got.State)
	require.NotNil(t, got.NextRunAt)
}

func TestStoreCreateDefaultsNextRun(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	before := time.Now()
	sched := &Schedule{JobID: "build", Spec: "every 10m", IntervalSeconds: 600}
	require.NoError(t, store.Create(sched))

	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(before.Add(9*time.Minute)))
}

func TestStoreListDue(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	past := &Schedule{JobID: "past", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(-time.Minute))}
	future := &Schedule{JobID: "future", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(time.Hour))}
	paused := &Schedule{JobID: "paused", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(-time.Minute)), State: StatePaused}
	require.NoError(t, store.Create(past))
	require.NoError(t, store.Create(future))
	require.NoError(t, store.Create(paused))

	due, err := store.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "past", due[0].JobID)
}

func TestStoreNextDue(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	next, err := store.NextDue()
	require.NoError(t, err)
	assert.Nil(t, next)

	now := time.Now()
	later := &Schedule{JobID: "later", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(2 * time.Hour))}
	sooner := &Schedule{JobID: "sooner", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(time.Hour))}
	require.NoError(t, store.Create(later))
	require.NoError(t, store.Create(sooner))

	next, err = store.NextDue()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "sooner", next.JobID)
}

func TestStoreMarkDispatchedAdvances(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	now := time.Now()
	sched := &Schedule{JobID: "build", Spec: "every 1m", IntervalSeconds: 60, NextRunAt: ptr(now.Add(-time.Second))}
	require.NoError(t, store.Create(sched))

	nextRun := now.Add(time.Minute)
	require.NoError(t, store.MarkDispatched(sched.ID, now, nextRun))

	got, err := store.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, nextRun, *got.NextRunAt, time.Second)

	// No longer due
	due, err := store.ListDue(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStoreRecordResult(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	sched := &Schedule{JobID: "build", Spec: "every 1m", IntervalSeconds: 60}
	require.NoError(t, store.Create(sched))
	require.NoError(t, store.RecordResult(sched.ID, "hist-123"))

	got, err := store.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "hist-123", got.LastHistoryID)
}

func TestStoreSetState(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	sched := &Schedule{JobID: "build", Spec: "every 1m", IntervalSeconds: 60}
	require.NoError(t, store.Create(sched))

	require.NoError(t, store.SetState(sched.ID, StatePaused))
	got, _ := store.Get(sched.ID)
	assert.Equal(t, StatePaused, got.State)

	require.Error(t, store.SetState(sched.ID, "bogus"))
	err := store.SetState("missing", StateActive)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreDelete(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	store := NewStore(db)

	sched := &Schedule{JobID: "build", Spec: "every 1m", IntervalSeconds: 60}
	require.NoError(t, store.Create(sched))
	require.NoError(t, store.Delete(sched.ID))

	_, err := store.Get(sched.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	err = store.Delete(sched.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
