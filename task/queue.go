package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

const (
	// PendingBufferSize bounds how many submitted tasks can wait for a
	// worker before Submit starts rejecting.
	PendingBufferSize = 256

	// DefaultListLimit caps List results when the caller passes none.
	DefaultListLimit = 50
)

// activeRun tracks one task currently held by a worker. Membership in
// the active table is the finalization claim: whoever removes the entry
// owns the task's single terminal transition.
type activeRun struct {
	cancel context.CancelFunc
	proc   engine.Process
}

// Queue runs submitted tasks on a fixed worker pool. Submission never
// blocks, every task reaches exactly one terminal status, and each
// terminal transition emits exactly one task:completed or task:failed
// event.
type Queue struct {
	store     *Store
	registry  *Registry
	publisher Publisher
	workers   int
	logger    *zap.SugaredLogger

	pending chan string

	mu     sync.Mutex
	active map[string]*activeRun

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a task queue. Handlers must be registered on
// Registry() before Start.
func NewQueue(db *sql.DB, publisher Publisher, workers int, logger *zap.SugaredLogger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		store:     NewStore(db),
		registry:  NewRegistry(),
		publisher: publisher,
		workers:   workers,
		logger:    logger.Named("task"),
		pending:   make(chan string, PendingBufferSize),
		active:    make(map[string]*activeRun),
	}
}

// Registry returns the handler registry for registering task handlers.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Store returns the underlying task store.
func (q *Queue) Store() *Store {
	return q.store
}

// Start launches the worker pool under the given parent context.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Infow("Task queue started", "workers", q.workers)
}

// Stop cancels in-flight tasks and waits for workers to exit, bounded
// by a timeout so shutdown cannot hang on a stuck handler.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Infow("Task queue stopped, all workers exited")
	case <-time.After(30 * time.Second):
		q.logger.Warnw("Task queue stop timed out, workers may still be running")
	}
}

// Submit creates a task and hands it to the worker pool without
// blocking. When the pending buffer is full the task is failed
// immediately.
func (q *Queue) Submit(taskType string, payload json.RawMessage, subscriberID string) (*Task, error) {
	if !q.registry.Has(taskType) {
		return nil, errors.Newf("no handler registered for task type: %s", taskType)
	}

	t, err := NewTask(taskType, payload, subscriberID)
	if err != nil {
		return nil, err
	}
	if err := q.store.Create(t); err != nil {
		return nil, err
	}

	q.publish(t.SubscriberID, "task:created", map[string]interface{}{
		"taskId": t.ID,
		"type":   t.Type,
	})

	select {
	case q.pending <- t.ID:
	default:
		t.Fail(errors.New("task queue full"))
		if err := q.store.Update(t); err != nil {
			q.logger.Warnw("Failed to persist queue-full failure", "task_id", t.ID, "error", err)
		}
		q.publishTerminal(t)
		return t, errors.Newf("task queue full, task %s rejected", t.ID)
	}

	q.logger.Infow("Task submitted", "task_id", t.ID, "type", t.Type)
	return t, nil
}

// Cancel terminates a task. Running tasks have their process killed and
// handler context cancelled; queued tasks never start. Cancellation is
// a failure outcome with a distinguishing error message.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	run, isActive := q.active[id]
	if isActive {
		delete(q.active, id)
	}
	q.mu.Unlock()

	if isActive {
		run.cancel()
		if run.proc != nil {
			run.proc.Kill()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.store.Get(id)
	if err != nil {
		return err
	}
	if t.Terminal() {
		if isActive {
			// Worker finalized between our claim and this read; the
			// claim already prevented a duplicate event
			return nil
		}
		return errors.Newf("task %s already finished (status: %s)", id, t.Status)
	}

	t.Fail(errors.New("task cancelled"))
	if err := q.store.Update(t); err != nil {
		return err
	}
	q.publishTerminal(t)

	q.logger.Infow("Task cancelled", "task_id", id, "was_running", isActive)
	return nil
}

// Get retrieves a task by id.
func (q *Queue) Get(id string) (*Task, error) {
	return q.store.Get(id)
}

// List returns the most recently created tasks first.
func (q *Queue) List(limit int) ([]*Task, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return q.store.List(limit)
}

// Logs returns a task's recorded output lines in write order.
func (q *Queue) Logs(id string) ([]LogLine, error) {
	return q.store.Logs(id)
}

// worker consumes pending task ids until shutdown.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case taskID := <-q.pending:
			if err := q.execute(taskID); err != nil {
				q.logger.Errorw("Worker failed to execute task",
					"worker_id", id, "task_id", taskID, "error", err)
			}
		}
	}
}

// execute runs one task through its handler and performs the single
// terminal transition, unless Cancel claimed it first.
func (q *Queue) execute(taskID string) error {
	runCtx, cancel := context.WithCancel(q.ctx)
	defer cancel()

	// Start under the lock so a concurrent Cancel of a queued task
	// cannot interleave with the queued -> running transition
	q.mu.Lock()
	t, err := q.store.Get(taskID)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if t.Status != StatusQueued {
		// Cancelled before a worker picked it up
		q.mu.Unlock()
		return nil
	}
	t.Start()
	if err := q.store.Update(t); err != nil {
		q.mu.Unlock()
		return err
	}
	q.active[t.ID] = &activeRun{cancel: cancel}
	q.mu.Unlock()

	q.publish(t.SubscriberID, "task:started", map[string]interface{}{
		"taskId": t.ID,
		"type":   t.Type,
	})

	handler := q.registry.Get(t.Type)
	if handler == nil {
		// Registration is checked at Submit; this covers handlers
		// deregistered across a restart
		q.finalize(t, "", errors.Newf("no handler registered for task type: %s", t.Type))
		return nil
	}

	emitter := newEmitter(t, q, q.publisher, q.logger)

	result, execErr := func() (res string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("handler panic: %v", r)
			}
		}()
		return handler.Execute(runCtx, t, emitter)
	}()

	q.finalize(t, result, execErr)
	return nil
}

// finalize performs the terminal transition if this worker still holds
// the claim. A task already claimed by Cancel is left untouched.
func (q *Queue) finalize(t *Task, result string, execErr error) {
	q.mu.Lock()
	_, claimed := q.active[t.ID]
	delete(q.active, t.ID)
	q.mu.Unlock()

	if !claimed {
		return
	}

	if execErr != nil {
		t.Fail(execErr)
		q.logger.Warnw("Task failed", "task_id", t.ID, "type", t.Type, "error", execErr)
	} else {
		t.Complete(result)
		q.logger.Infow("Task completed", "task_id", t.ID, "type", t.Type)
	}

	if err := q.store.Update(t); err != nil {
		q.logger.Warnw("Failed to persist terminal task state", "task_id", t.ID, "error", err)
	}
	q.publishTerminal(t)
}

// attachProcess records the process behind a running task so Cancel can
// kill it. A process attached after cancellation is killed on the spot.
func (q *Queue) attachProcess(taskID string, proc engine.Process) {
	q.mu.Lock()
	run, ok := q.active[taskID]
	if ok {
		run.proc = proc
	}
	q.mu.Unlock()

	if !ok {
		proc.Kill()
	}
}

// publishTerminal emits the single terminal event for a task.
func (q *Queue) publishTerminal(t *Task) {
	event := "task:completed"
	payload := map[string]interface{}{
		"taskId": t.ID,
		"type":   t.Type,
		"result": t.Result,
	}
	if t.Status == StatusFailed {
		event = "task:failed"
		payload = map[string]interface{}{
			"taskId": t.ID,
			"type":   t.Type,
			"error":  t.Error,
		}
	}
	q.publish(t.SubscriberID, event, payload)
}

func (q *Queue) publish(subscriberID, eventType string, payload interface{}) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(subscriberID, eventType, payload)
}
