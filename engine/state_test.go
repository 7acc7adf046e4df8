package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-sh/flowd/errors"
)

func TestAcquireRejectsDuplicate(t *testing.T) {
	state := NewState(10)

	require.NoError(t, state.Acquire("job-a", TriggerManual, &RunningHandle{}))

	err := state.Acquire("job-a", TriggerManual, &RunningHandle{})
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyRunning(err))

	// Other jobs are unaffected
	require.NoError(t, state.Acquire("job-b", TriggerManual, &RunningHandle{}))
	assert.Equal(t, 2, state.RunningCount())
}

func TestAcquireAllowsRetryReentry(t *testing.T) {
	state := NewState(10)

	first := &RunningHandle{StartedAt: time.Now()}
	require.NoError(t, state.Acquire("job-a", TriggerManual, first))

	second := &RunningHandle{StartedAt: time.Now()}
	require.NoError(t, state.Acquire("job-a", TriggerRetry, second))

	// The retry handle replaced the stale one
	assert.Same(t, second, state.Running("job-a"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	state := NewState(10)

	require.NoError(t, state.Acquire("job-a", TriggerManual, &RunningHandle{}))
	state.Release("job-a")
	state.Release("job-a")

	assert.Nil(t, state.Running("job-a"))
	assert.Equal(t, 0, state.RunningCount())
}

func TestConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	state := NewState(10)

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- state.Acquire("job-a", TriggerManual, &RunningHandle{})
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
		} else {
			assert.True(t, errors.IsAlreadyRunning(err))
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestHistoryRetentionEvictsOldest(t *testing.T) {
	state := NewState(3)

	for i := 0; i < 5; i++ {
		state.AppendHistory(&HistoryRecord{ID: fmt.Sprintf("rec-%d", i), JobID: "job-a"})
	}

	history := state.History()
	require.Len(t, history, 3)
	assert.Equal(t, "rec-2", history[0].ID)
	assert.Equal(t, "rec-4", history[2].ID)
}

func TestHistoryForJobFilters(t *testing.T) {
	state := NewState(10)
	state.AppendHistory(&HistoryRecord{ID: "1", JobID: "a"})
	state.AppendHistory(&HistoryRecord{ID: "2", JobID: "b"})
	state.AppendHistory(&HistoryRecord{ID: "3", JobID: "a"})

	records := state.HistoryForJob("a")
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "3", records[1].ID)
}

func TestRunningHandleOutputBuffering(t *testing.T) {
	handle := &RunningHandle{}
	handle.AppendOutput("stdout", []byte("hello "))
	handle.AppendOutput("stderr", []byte("warn\n"))
	handle.AppendOutput("stdout", []byte("world"))

	stdout, stderr := handle.Output()
	assert.Equal(t, "hello world", stdout)
	assert.Equal(t, "warn\n", stderr)
}

func TestRunningHandleKillWithoutProcess(t *testing.T) {
	handle := &RunningHandle{}
	// No process attached yet; must not panic
	handle.Kill()

	killed := false
	handle.setKill(func() { killed = true })
	handle.Kill()
	assert.True(t, killed)
}
