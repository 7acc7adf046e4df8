package engine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-sh/flowd/errors"
)

// RunStatus is the lifecycle state of one job run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// AutoFixNote annotates a failed record with the remediation that was
// attempted before the follow-up run.
type AutoFixNote struct {
	RuleName string `json:"ruleName"`
	Command  string `json:"command"`
}

// HistoryRecord is the authoritative record of one job run. Created at
// run start, finalized exactly once when the run reaches a terminal
// status; after that it is never mutated except by the explicit auto-fix
// annotation added before a fix-triggered re-run.
type HistoryRecord struct {
	ID           string        `json:"id"`
	JobID        string        `json:"jobId"`
	JobName      string        `json:"jobName"`
	Trigger      TriggerOrigin `json:"trigger"`
	StartedAt    time.Time     `json:"startTime"`
	EndedAt      *time.Time    `json:"endTime,omitempty"`
	DurationMs   int64         `json:"duration"`
	Status       RunStatus     `json:"status"`
	ExitCode     *int          `json:"exitCode,omitempty"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr"`
	Error        string        `json:"error,omitempty"`
	RetryAttempt int           `json:"retryAttempt"`
	AutoFix      *AutoFixNote  `json:"autoFix,omitempty"`
}

// NewHistoryRecord creates a running record for a starting run. The id is
// time-prefixed so records sort by start order even across restarts.
func NewHistoryRecord(job *Job, trigger TriggerOrigin, retryAttempt int) *HistoryRecord {
	now := time.Now()
	return &HistoryRecord{
		ID:           fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		JobID:        job.ID,
		JobName:      job.Name,
		Trigger:      trigger,
		StartedAt:    now,
		Status:       StatusRunning,
		RetryAttempt: retryAttempt,
	}
}

// Finalize marks the record terminal with the given status.
func (r *HistoryRecord) Finalize(status RunStatus, exitCode *int, errMsg string) {
	now := time.Now()
	r.EndedAt = &now
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	r.Status = status
	r.ExitCode = exitCode
	r.Error = errMsg
}

// HistoryStore persists finished run records to SQLite with bounded
// retention: only the most recent records are kept.
type HistoryStore struct {
	db        *sql.DB
	retention int
}

// DefaultHistoryRetention is the number of records kept by the store.
const DefaultHistoryRetention = 100

// NewHistoryStore creates a history store. retention <= 0 uses the default.
func NewHistoryStore(db *sql.DB, retention int) *HistoryStore {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &HistoryStore{db: db, retention: retention}
}

// Save upserts a record. Called once at run start and again on each
// status change, so the row always reflects the latest known state.
func (s *HistoryStore) Save(r *HistoryRecord) error {
	query := `
		INSERT INTO job_history (
			id, job_id, job_name, trigger_origin, status, exit_code,
			stdout, stderr, error, retry_attempt,
			autofix_rule, autofix_command,
			started_at, ended_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			stdout = excluded.stdout,
			stderr = excluded.stderr,
			error = excluded.error,
			autofix_rule = excluded.autofix_rule,
			autofix_command = excluded.autofix_command,
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms
	`

	var exitCode sql.NullInt64
	if r.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*r.ExitCode), Valid: true}
	}
	var autofixRule, autofixCommand sql.NullString
	if r.AutoFix != nil {
		autofixRule = sql.NullString{String: r.AutoFix.RuleName, Valid: true}
		autofixCommand = sql.NullString{String: r.AutoFix.Command, Valid: true}
	}
	errMsg := sql.NullString{String: r.Error, Valid: r.Error != ""}

	_, err := s.db.Exec(query,
		r.ID, r.JobID, r.JobName, string(r.Trigger), string(r.Status), exitCode,
		r.Stdout, r.Stderr, errMsg, r.RetryAttempt,
		autofixRule, autofixCommand,
		r.StartedAt, r.EndedAt, r.DurationMs,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save history record %s", r.ID)
	}

	return s.trim()
}

// trim deletes records beyond the retention bound, oldest first.
func (s *HistoryStore) trim() error {
	query := `
		DELETE FROM job_history
		WHERE id NOT IN (
			SELECT id FROM job_history ORDER BY started_at DESC LIMIT ?
		)
	`
	if _, err := s.db.Exec(query, s.retention); err != nil {
		return errors.Wrap(err, "failed to trim history")
	}
	return nil
}

// List returns records ordered by start time, most recent first, capped
// at limit.
func (s *HistoryStore) List(limit int) ([]*HistoryRecord, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}

	query := `
		SELECT id, job_id, job_name, trigger_origin, status, exit_code,
		       stdout, stderr, error, retry_attempt,
		       autofix_rule, autofix_command,
		       started_at, ended_at, duration_ms
		FROM job_history
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list history")
	}
	defer rows.Close()

	var records []*HistoryRecord
	for rows.Next() {
		r, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating history records")
	}

	return records, nil
}

// Get returns a single record by id.
func (s *HistoryStore) Get(id string) (*HistoryRecord, error) {
	query := `
		SELECT id, job_id, job_name, trigger_origin, status, exit_code,
		       stdout, stderr, error, retry_attempt,
		       autofix_rule, autofix_command,
		       started_at, ended_at, duration_ms
		FROM job_history
		WHERE id = ?
	`

	row := s.db.QueryRow(query, id)
	r, err := scanHistoryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("history record %s", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistoryRecord(row rowScanner) (*HistoryRecord, error) {
	var r HistoryRecord
	var trigger, status string
	var exitCode sql.NullInt64
	var errMsg, autofixRule, autofixCommand sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.JobID, &r.JobName, &trigger, &status, &exitCode,
		&r.Stdout, &r.Stderr, &errMsg, &r.RetryAttempt,
		&autofixRule, &autofixCommand,
		&r.StartedAt, &endedAt, &r.DurationMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan history record")
	}

	r.Trigger = TriggerOrigin(trigger)
	r.Status = RunStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	if autofixRule.Valid {
		r.AutoFix = &AutoFixNote{RuleName: autofixRule.String, Command: autofixCommand.String}
	}

	return &r, nil
}
