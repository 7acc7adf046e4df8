package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-sh/flowd/errors"
)

// Store persists schedules.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new schedule. An empty ID is assigned; NextRunAt
// defaults to one interval from now when unset.
func (s *Store) Create(sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	if sched.State == "" {
		sched.State = StateActive
	}
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	if sched.NextRunAt == nil {
		next := now.Add(time.Duration(sched.IntervalSeconds) * time.Second)
		sched.NextRunAt = &next
	}

	query := `
		INSERT INTO scheduled_jobs (
			id, job_id, spec, interval_seconds, state,
			next_run_at, last_run_at, last_history_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	lastHistory := sql.NullString{String: sched.LastHistoryID, Valid: sched.LastHistoryID != ""}
	_, err := s.db.Exec(query,
		sched.ID, sched.JobID, sched.Spec, sched.IntervalSeconds, sched.State,
		sched.NextRunAt, sched.LastRunAt, lastHistory,
		sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule for job %s", sched.JobID)
	}
	return nil
}

// Get retrieves a schedule by id.
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(selectColumns+` WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sched, nil
}

// List returns all schedules ordered by next run time.
func (s *Store) List() ([]*Schedule, error) {
	rows, err := s.db.Query(selectColumns + ` ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListDue returns active schedules whose next run time has passed.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := selectColumns + ` WHERE state = ? AND next_run_at IS NOT NULL AND next_run_at <= ?`
	rows, err := s.db.QueryContext(ctx, query, StateActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// NextDue returns the earliest active schedule, or nil when none exist.
func (s *Store) NextDue() (*Schedule, error) {
	query := selectColumns + ` WHERE state = ? AND next_run_at IS NOT NULL ORDER BY next_run_at ASC LIMIT 1`
	row := s.db.QueryRow(query, StateActive)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next due schedule")
	}
	return sched, nil
}

// MarkDispatched advances a schedule after its run is launched, so a
// long run cannot pile up duplicate dispatches.
func (s *Store) MarkDispatched(id string, ranAt, nextRun time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := s.db.Exec(query, ranAt, nextRun, time.Now(), id); err != nil {
		return errors.Wrapf(err, "failed to mark schedule %s dispatched", id)
	}
	return nil
}

// RecordResult stores the history record id of the schedule's latest
// completed run.
func (s *Store) RecordResult(id, historyID string) error {
	query := `UPDATE scheduled_jobs SET last_history_id = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.Exec(query, historyID, time.Now(), id); err != nil {
		return errors.Wrapf(err, "failed to record result for schedule %s", id)
	}
	return nil
}

// SetState transitions a schedule between active and paused.
func (s *Store) SetState(id, state string) error {
	if state != StateActive && state != StatePaused {
		return errors.Wrapf(errors.ErrInvalidConfig, "invalid schedule state: %s", state)
	}
	query := `UPDATE scheduled_jobs SET state = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.Exec(query, state, time.Now(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set state for schedule %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("schedule %s", id)
	}
	return nil
}

// Delete removes a schedule.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("schedule %s", id)
	}
	return nil
}

const selectColumns = `
	SELECT id, job_id, spec, interval_seconds, state,
	       next_run_at, last_run_at, last_history_id,
	       created_at, updated_at
	FROM scheduled_jobs
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var nextRun, lastRun sql.NullTime
	var lastHistory sql.NullString

	err := row.Scan(
		&sched.ID, &sched.JobID, &sched.Spec, &sched.IntervalSeconds, &sched.State,
		&nextRun, &lastRun, &lastHistory,
		&sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	sched.LastHistoryID = lastHistory.String
	return &sched, nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
