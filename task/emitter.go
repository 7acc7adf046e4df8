package task

import (
	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
)

// Publisher pushes events to streaming subscribers. Events carrying a
// subscriber id go point-to-point when a client claimed it, otherwise
// they are broadcast.
type Publisher interface {
	Publish(subscriberID, eventType string, payload interface{}) int
}

// Emitter is the handler-facing progress surface for one running task.
// Every emission persists the task state and pushes an event to the
// task's subscriber.
type Emitter struct {
	task      *Task
	queue     *Queue
	publisher Publisher
	log       *zap.SugaredLogger
}

func newEmitter(t *Task, q *Queue, publisher Publisher, baseLogger *zap.SugaredLogger) *Emitter {
	return &Emitter{
		task:      t,
		queue:     q,
		publisher: publisher,
		log:       baseLogger.With("task_id", t.ID),
	}
}

// EmitProgress reports task progress as a percentage with a message.
func (e *Emitter) EmitProgress(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	e.task.Progress = percent
	e.task.ProgressMessage = message

	if err := e.queue.store.Update(e.task); err != nil {
		e.log.Warnw("Failed to persist task progress", "error", err)
	}

	e.publish("task:progress", map[string]interface{}{
		"taskId":   e.task.ID,
		"progress": percent,
		"message":  message,
	})
}

// EmitLog records one line of task output and streams it live.
func (e *Emitter) EmitLog(stream, line string) {
	if err := e.queue.store.AppendLog(e.task.ID, stream, line); err != nil {
		e.log.Warnw("Failed to persist task log line", "error", err)
	}

	e.publish("task:log", map[string]interface{}{
		"taskId": e.task.ID,
		"stream": stream,
		"line":   line,
	})
}

// AttachProcess associates a spawned process with the task so Cancel can
// terminate it.
func (e *Emitter) AttachProcess(proc engine.Process) {
	e.queue.attachProcess(e.task.ID, proc)
}

func (e *Emitter) publish(eventType string, payload interface{}) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(e.task.SubscriberID, eventType, payload)
}
