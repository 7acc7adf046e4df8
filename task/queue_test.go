package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowdtest "github.com/flowd-sh/flowd/internal/testing"
)

func newTestQueue(t *testing.T) (*Queue, *recordingPublisher) {
	t.Helper()
	db := flowdtest.CreateTestDB(t)
	publisher := &recordingPublisher{}
	queue := NewQueue(db, publisher, 2, testLogger())
	return queue, publisher
}

func TestSubmitAndComplete(t *testing.T) {
	queue, publisher := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.echo",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			emitter.EmitProgress(50, "halfway")
			return "echoed", nil
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	submitted, err := queue.Submit("test.echo", json.RawMessage(`{}`), "sub-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.Get(submitted.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, "echoed", got.Result)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	// Exactly one terminal event, and it is a completion
	assert.Len(t, publisher.ofType("task:completed"), 1)
	assert.Empty(t, publisher.ofType("task:failed"))
	assert.Len(t, publisher.ofType("task:created"), 1)
	assert.Len(t, publisher.ofType("task:started"), 1)
	assert.Len(t, publisher.ofType("task:progress"), 1)
}

func TestSubmitUnknownTypeRejected(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, err := queue.Submit("no.such.handler", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestHandlerErrorFailsTask(t *testing.T) {
	queue, publisher := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.fail",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			return "", context.DeadlineExceeded
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	submitted, err := queue.Submit("test.fail", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.Get(submitted.ID)
		return err == nil && got.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, publisher.ofType("task:failed"), 1)
	assert.Empty(t, publisher.ofType("task:completed"))
}

func TestHandlerPanicFailsTask(t *testing.T) {
	queue, publisher := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.panic",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			panic("boom")
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	submitted, err := queue.Submit("test.panic", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.Get(submitted.ID)
		return err == nil && got.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := queue.Get(submitted.ID)
	assert.Contains(t, got.Error, "handler panic")
	assert.Len(t, publisher.ofType("task:failed"), 1)
}

func TestCancelRunningTask(t *testing.T) {
	queue, publisher := newTestQueue(t)
	started := make(chan struct{})
	queue.Registry().Register(&funcHandler{
		name: "test.block",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	submitted, err := queue.Submit("test.block", nil, "sub-1")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, queue.Cancel(submitted.ID))

	got, err := queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "task cancelled", got.Error)

	// The worker's own finalize must not add a second terminal event
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, publisher.ofType("task:failed"), 1)
	assert.Empty(t, publisher.ofType("task:completed"))
}

func TestCancelQueuedTask(t *testing.T) {
	queue, publisher := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.noop",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			return "", nil
		},
	})
	// Queue not started: the task stays queued

	submitted, err := queue.Submit("test.noop", nil, "")
	require.NoError(t, err)
	require.NoError(t, queue.Cancel(submitted.ID))

	got, err := queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "task cancelled", got.Error)
	assert.Len(t, publisher.ofType("task:failed"), 1)

	// A worker starting later must not resurrect it
	queue.Start(context.Background())
	defer queue.Stop()
	time.Sleep(100 * time.Millisecond)

	got, _ = queue.Get(submitted.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Len(t, publisher.ofType("task:failed"), 1)
}

func TestCancelFinishedTaskErrors(t *testing.T) {
	queue, _ := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.quick",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			return "done", nil
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	submitted, err := queue.Submit("test.quick", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.Get(submitted.ID)
		return err == nil && got.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	err = queue.Cancel(submitted.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
}

func TestListReturnsNewestFirst(t *testing.T) {
	queue, _ := newTestQueue(t)
	queue.Registry().Register(&funcHandler{
		name: "test.noop",
		fn: func(ctx context.Context, task *Task, emitter *Emitter) (string, error) {
			return "", nil
		},
	})

	first, err := queue.Submit("test.noop", nil, "")
	require.NoError(t, err)
	second, err := queue.Submit("test.noop", nil, "")
	require.NoError(t, err)

	tasks, err := queue.List(10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
	assert.Greater(t, tasks[0].Seq, tasks[1].Seq)
}
