// Package store persists job records in SQLite. The progress log is
// append-only and status changes are guarded by the model transition
// table plus a lease epoch, so a stale worker can never overwrite the
// work of the current lease holder.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/contentforge/contentforge/internal/model"
)

var (
	ErrNotFound   = errors.New("job not found")
	ErrLeaseHeld  = errors.New("job lease held by another worker")
	ErrStaleEpoch = errors.New("stale lease epoch")
)

type Store struct {
	db *sql.DB
}

// Open creates the schema if needed and returns a ready store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serialize access through one conn to
	// avoid SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  request_json TEXT NOT NULL,
  result_json TEXT,
  error_message TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  lease_owner TEXT,
  lease_expires_at TEXT,
  lease_epoch INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS progress_updates (
  job_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  update_json TEXT NOT NULL,
  PRIMARY KEY (job_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateJob inserts a new queued job with its immutable request
// snapshot.
func (s *Store) CreateJob(ctx context.Context, job model.Job) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	query, args, err := sq.Insert("jobs").
		Columns("id", "status", "request_json", "attempts", "lease_epoch", "created_at", "updated_at").
		Values(job.ID, string(job.Status), string(requestJSON), job.Attempts, job.LeaseEpoch, job.CreatedAt, job.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with its full progress log.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	job, err := s.getJobRow(ctx, id)
	if err != nil {
		return model.Job{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT update_json FROM progress_updates WHERE job_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return model.Job{}, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return model.Job{}, fmt.Errorf("scan progress: %w", err)
		}
		var update model.ProgressUpdate
		if err := json.Unmarshal([]byte(raw), &update); err != nil {
			return model.Job{}, fmt.Errorf("decode progress: %w", err)
		}
		job.ProgressUpdates = append(job.ProgressUpdates, update)
	}
	return job, rows.Err()
}

// ListJobs returns job records, newest first, without progress logs.
func (s *Store) ListJobs(ctx context.Context, status *model.Status, limit int) ([]model.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	builder := sq.Select(jobColumns...).
		From("jobs").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if status != nil {
		builder = builder.Where(sq.Eq{"status": string(*status)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// NextQueued returns queued jobs in submission order for dispatch, so
// the oldest submission is picked first. created_at has second
// resolution; rowid breaks ties between same-second submissions.
func (s *Store) NextQueued(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	query, args, err := sq.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"status": string(model.StatusQueued)}).
		OrderBy("created_at ASC", "rowid ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByStatus returns the queue depth per status.
func (s *Store) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[model.Status(status)] = count
	}
	return out, rows.Err()
}

// AppendProgress appends one update to the job's ordered log.
func (s *Store) AppendProgress(ctx context.Context, jobID string, update model.ProgressUpdate) error {
	raw, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO progress_updates (job_id, seq, update_json)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ? FROM progress_updates WHERE job_id = ?`,
		jobID, string(raw), jobID)
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

// AcquireLease transitions a queued job to running under a new lease
// epoch. A job whose previous lease expired may be re-acquired; the
// epoch bump fences out the stale owner. Returns the new epoch.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (int, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl).Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, lease_owner = ?, lease_expires_at = ?,
    lease_epoch = lease_epoch + 1, attempts = attempts + 1, updated_at = ?
WHERE id = ?
  AND (status = ? OR (status = ? AND lease_expires_at < ?))`,
		string(model.StatusRunning), owner, expires, now.Format(time.RFC3339),
		id,
		string(model.StatusQueued), string(model.StatusRunning), now.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		if _, err := s.getJobRow(ctx, id); errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrLeaseHeld
	}

	var epoch int
	if err := s.db.QueryRowContext(ctx, `SELECT lease_epoch FROM jobs WHERE id = ?`, id).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("read epoch: %w", err)
	}
	return epoch, nil
}

// ExtendLease pushes out the expiry for the given epoch holder.
func (s *Store) ExtendLease(ctx context.Context, id string, epoch int, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET lease_expires_at = ? WHERE id = ? AND lease_epoch = ? AND status = ?`,
		expires, id, epoch, string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return requireAffected(res)
}

// RequeueJob returns a running job to the queue for another attempt.
// Only the current epoch holder may requeue; the lease is released so
// any worker can pick the job up again. The retry is a fresh run, so
// the progress log is cleared with it: a job's persisted percentage
// sequence stays non-decreasing no matter how many attempts it took.
func (s *Store) RequeueJob(ctx context.Context, id string, epoch int) error {
	if err := s.checkTransition(ctx, id, model.StatusQueued); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin requeue: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
WHERE id = ? AND lease_epoch = ? AND status = ?`,
		string(model.StatusQueued), time.Now().UTC().Format(time.RFC3339),
		id, epoch, string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM progress_updates WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return tx.Commit()
}

// CompleteJob attaches the result and moves the job to completed. Only
// the current epoch holder may complete.
func (s *Store) CompleteJob(ctx context.Context, id string, epoch int, result model.GeneratedContent) error {
	if err := s.checkTransition(ctx, id, model.StatusCompleted); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, result_json = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
WHERE id = ? AND lease_epoch = ? AND status = ?`,
		string(model.StatusCompleted), string(resultJSON), time.Now().UTC().Format(time.RFC3339),
		id, epoch, string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireAffected(res)
}

// FailJob records the error message and moves the job to failed. Only
// the current epoch holder may fail a running job.
func (s *Store) FailJob(ctx context.Context, id string, epoch int, message string) error {
	if err := s.checkTransition(ctx, id, model.StatusFailed); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error_message = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
WHERE id = ? AND lease_epoch = ? AND status = ?`,
		string(model.StatusFailed), message, time.Now().UTC().Format(time.RFC3339),
		id, epoch, string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireAffected(res)
}

var jobColumns = []string{
	"id", "status", "request_json", "result_json", "error_message",
	"attempts", "lease_owner", "lease_expires_at", "lease_epoch",
	"created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) getJobRow(ctx context.Context, id string) (model.Job, error) {
	query, args, err := sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Job{}, fmt.Errorf("build select: %w", err)
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	return job, err
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		job                      model.Job
		status, requestJSON      string
		resultJSON, errorMessage sql.NullString
		leaseOwner, leaseExpires sql.NullString
	)
	if err := row.Scan(&job.ID, &status, &requestJSON, &resultJSON, &errorMessage,
		&job.Attempts, &leaseOwner, &leaseExpires, &job.LeaseEpoch,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return model.Job{}, err
	}

	job.Status = model.Status(status)
	if err := json.Unmarshal([]byte(requestJSON), &job.Request); err != nil {
		return model.Job{}, fmt.Errorf("decode request: %w", err)
	}
	if resultJSON.Valid {
		var result model.GeneratedContent
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return model.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	if errorMessage.Valid {
		job.Error = &errorMessage.String
	}
	if leaseOwner.Valid {
		job.LeaseOwner = &leaseOwner.String
	}
	if leaseExpires.Valid {
		job.LeaseExpiresAt = &leaseExpires.String
	}
	return job, nil
}

// checkTransition guards status writes with the job transition table,
// so an invalid move is reported as such instead of as a silent no-op.
// The guarded UPDATE that follows remains the authoritative check.
func (s *Store) checkTransition(ctx context.Context, id string, to model.Status) error {
	job, err := s.getJobRow(ctx, id)
	if err != nil {
		return err
	}
	return model.ValidateJobTransition(job.Status, to)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleEpoch
	}
	return nil
}
