package task

import (
	"database/sql"
	"time"

	"github.com/flowd-sh/flowd/errors"
)

// Store handles task persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new task, assigning it the next creation-order
// sequence number.
func (s *Store) Create(t *Task) error {
	payload := sql.NullString{String: string(t.Payload), Valid: len(t.Payload) > 0}
	subscriber := sql.NullString{String: t.SubscriberID, Valid: t.SubscriberID != ""}

	query := `
		INSERT INTO tasks (
			id, seq, type, payload, status,
			progress, progress_message, subscriber_id, created_at
		) VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks), ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query,
		t.ID, t.Type, payload, t.Status,
		t.Progress, t.ProgressMessage, subscriber, t.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "failed to create task %s", t.ID)
	}

	if err := s.db.QueryRow(`SELECT seq FROM tasks WHERE id = ?`, t.ID).Scan(&t.Seq); err != nil {
		return errors.Wrapf(err, "failed to read back task seq for %s", t.ID)
	}
	return nil
}

// Update writes the task's mutable fields back to the database.
func (s *Store) Update(t *Task) error {
	result := sql.NullString{String: t.Result, Valid: t.Result != ""}
	taskErr := sql.NullString{String: t.Error, Valid: t.Error != ""}

	query := `
		UPDATE tasks
		SET status = ?,
		    progress = ?,
		    progress_message = ?,
		    result = ?,
		    error = ?,
		    started_at = ?,
		    completed_at = ?
		WHERE id = ?
	`
	if _, err := s.db.Exec(query,
		t.Status, t.Progress, t.ProgressMessage,
		result, taskErr, t.StartedAt, t.CompletedAt, t.ID,
	); err != nil {
		return errors.Wrapf(err, "failed to update task %s", t.ID)
	}
	return nil
}

// Get retrieves a task by id.
func (s *Store) Get(id string) (*Task, error) {
	query := `
		SELECT id, seq, type, payload, status,
		       progress, progress_message, result, error,
		       subscriber_id, created_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`
	t, err := scanTask(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return t, nil
}

// List returns the most recently created tasks first, capped at limit.
func (s *Store) List(limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, seq, type, payload, status,
		       progress, progress_message, result, error,
		       subscriber_id, created_at, started_at, completed_at
		FROM tasks ORDER BY seq DESC LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AppendLog records one line of task output.
func (s *Store) AppendLog(taskID, stream, line string) error {
	query := `INSERT INTO task_logs (task_id, stream, line, logged_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.Exec(query, taskID, stream, line, time.Now()); err != nil {
		return errors.Wrapf(err, "failed to append log for task %s", taskID)
	}
	return nil
}

// LogLine is one recorded line of task output.
type LogLine struct {
	Stream   string    `json:"stream"`
	Line     string    `json:"line"`
	LoggedAt time.Time `json:"loggedAt"`
}

// Logs returns the recorded output of a task in write order.
func (s *Store) Logs(taskID string) ([]LogLine, error) {
	query := `SELECT stream, line, logged_at FROM task_logs WHERE task_id = ? ORDER BY id ASC`
	rows, err := s.db.Query(query, taskID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list logs for task %s", taskID)
	}
	defer rows.Close()

	var lines []LogLine
	for rows.Next() {
		var l LogLine
		if err := rows.Scan(&l.Stream, &l.Line, &l.LoggedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan log line")
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var payload, result, taskErr, subscriber sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Seq, &t.Type, &payload, &t.Status,
		&t.Progress, &t.ProgressMessage, &result, &taskErr,
		&subscriber, &t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	t.Result = result.String
	t.Error = taskErr.String
	t.SubscriberID = subscriber.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}
