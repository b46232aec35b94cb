package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"mediaref/internal/errs"
)

const jobColumns = `family, job_id, status, mode, params, cursor, processed, total, changed,
	errors, messages, pause_requested, cancel_requested, lease_owner, lease_until, version,
	created_at, started_at, updated_at, finished_at, next_run_at`

func scanJobState(row rowScanner) (*JobState, error) {
	var (
		st                        JobState
		params, errList, messages string
		pause, cancel             int
		leaseUntil, created       int64
		started, updated          int64
		finished, nextRun         int64
	)
	err := row.Scan(&st.Family, &st.JobID, &st.Status, &st.Mode, &params, &st.Cursor,
		&st.Processed, &st.Total, &st.Changed, &errList, &messages, &pause, &cancel,
		&st.LeaseOwner, &leaseUntil, &st.Version, &created, &started, &updated, &finished, &nextRun)
	if err != nil {
		return nil, err
	}

	st.Params = json.RawMessage(params)
	if err := json.Unmarshal([]byte(errList), &st.Errors); err != nil {
		return nil, fmt.Errorf("decode job errors: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &st.Messages); err != nil {
		return nil, fmt.Errorf("decode job messages: %w", err)
	}
	st.PauseRequested = pause != 0
	st.CancelRequested = cancel != 0
	st.LeaseUntil = timeOrZero(leaseUntil)
	st.CreatedAt = timeOrZero(created)
	st.StartedAt = timeOrZero(started)
	st.UpdatedAt = timeOrZero(updated)
	st.FinishedAt = timeOrZero(finished)
	st.NextRunAt = timeOrZero(nextRun)
	return &st, nil
}

func jobArgs(st *JobState) ([]any, error) {
	params := string(st.Params)
	if params == "" {
		params = "{}"
	}
	if st.Errors == nil {
		st.Errors = []JobError{}
	}
	if st.Messages == nil {
		st.Messages = []string{}
	}
	errList, err := json.Marshal(st.Errors)
	if err != nil {
		return nil, err
	}
	messages, err := json.Marshal(st.Messages)
	if err != nil {
		return nil, err
	}
	return []any{
		st.JobID, st.Status, st.Mode, params, st.Cursor, st.Processed, st.Total, st.Changed,
		string(errList), string(messages), boolToInt(st.PauseRequested), boolToInt(st.CancelRequested),
		st.LeaseOwner, unixOrZero(st.LeaseUntil), unixOrZero(st.CreatedAt), unixOrZero(st.StartedAt),
		unixOrZero(st.UpdatedAt), unixOrZero(st.FinishedAt), unixOrZero(st.NextRunAt),
	}, nil
}

// GetJobState loads the persisted record of a job family.
func (d *Database) GetJobState(ctx context.Context, family string) (*JobState, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, err := scanJobState(d.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM job_state WHERE family = ?", family))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("job", family)
	}
	return st, err
}

// ListJobStates returns every persisted job family record.
func (d *Database) ListJobStates(ctx context.Context) ([]*JobState, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM job_state ORDER BY family")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*JobState
	for rows.Next() {
		st, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// CreateJobState inserts the first record for a family. If another process
// inserted it first a ConcurrencyError is returned.
func (d *Database) CreateJobState(ctx context.Context, st *JobState) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_job_state", start, err) }()

	args, err := jobArgs(st)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO job_state (family, job_id, status, mode, params, cursor, processed, total, changed,
			errors, messages, pause_requested, cancel_requested, lease_owner, lease_until,
			created_at, started_at, updated_at, finished_at, next_run_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, append([]any{st.Family}, args...)...)
	if isConstraintError(err) {
		err = &errs.ConcurrencyError{Family: st.Family, Reason: "job state was created concurrently"}
		return err
	}
	if err != nil {
		err = &errs.StoreWriteError{Op: "create_job_state", Err: err}
		return err
	}
	st.Version = 1
	return nil
}

// SwapJobState writes st if the stored version still equals st.Version and
// bumps the version. A lost race returns a ConcurrencyError and leaves the
// stored record untouched.
func (d *Database) SwapJobState(ctx context.Context, st *JobState) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("swap_job_state", start, err) }()

	args, err := jobArgs(st)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `
		UPDATE job_state SET
			job_id = ?, status = ?, mode = ?, params = ?, cursor = ?, processed = ?, total = ?, changed = ?,
			errors = ?, messages = ?, pause_requested = ?, cancel_requested = ?, lease_owner = ?, lease_until = ?,
			created_at = ?, started_at = ?, updated_at = ?, finished_at = ?, next_run_at = ?,
			version = version + 1
		WHERE family = ? AND version = ?
	`, append(args, st.Family, st.Version)...)
	if err != nil {
		err = &errs.StoreWriteError{Op: "swap_job_state", Err: err}
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		err = &errs.ConcurrencyError{Family: st.Family, Reason: "job state changed concurrently"}
		return err
	}
	st.Version++
	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint
}
