package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"sciserver-casjobs/internal/models"
)

// ErrNotFound is returned when a job is not in the ledger.
var ErrNotFound = errors.New("job not tracked")

// Store wraps pgxpool for the job ledger.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Track records a submitted job. Tracking the same job id twice is a no-op.
func (s *Store) Track(ctx context.Context, job models.TrackedJob) error {
	submitted := job.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		INSERT INTO tracked_jobs (job_id, context, query, task_name, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (job_id) DO NOTHING
	`, job.JobID, job.Context, job.Query, job.TaskName, int16(job.Status), submitted)
	if err != nil {
		return fmt.Errorf("insert tracked job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO audit_logs (job_id, event, detail, ts) VALUES ($1, 'submitted', $2, NOW())
		`, job.JobID, fmt.Sprintf("context=%s task=%s", job.Context, job.TaskName)); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob fetches a tracked job by CasJobs id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (models.TrackedJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, context, query, task_name, status, message, polls, submitted_at, updated_at, finished_at
		FROM tracked_jobs WHERE job_id = $1
	`, jobID)

	var job models.TrackedJob
	var status int16
	var message pgtype.Text
	if err := row.Scan(&job.JobID, &job.Context, &job.Query, &job.TaskName, &status, &message,
		&job.Polls, &job.SubmittedAt, &job.UpdatedAt, &job.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TrackedJob{}, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		return models.TrackedJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.Message = textPtr(message)
	return job, nil
}

// RecordStatus stores the result of one status poll. The first terminal status
// sets finished_at.
func (s *Store) RecordStatus(ctx context.Context, jobID int64, status models.JobStatus, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tracked_jobs
		SET status = $2,
		    message = $3,
		    polls = polls + 1,
		    updated_at = NOW(),
		    finished_at = CASE WHEN $4 THEN COALESCE(finished_at, NOW()) ELSE finished_at END
		WHERE job_id = $1
	`, jobID, int16(status), emptyToNil(message), status.Terminal())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// Abandon closes a job the watcher can no longer follow. Its last known status is kept.
func (s *Store) Abandon(ctx context.Context, jobID int64, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tracked_jobs
		SET message = $2,
		    updated_at = NOW(),
		    finished_at = COALESCE(finished_at, NOW())
		WHERE job_id = $1
	`, jobID, emptyToNil(reason))
	if err != nil {
		return fmt.Errorf("abandon job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID int64, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// AuditTrail returns a job's audit rows, oldest first.
func (s *Store) AuditTrail(ctx context.Context, jobID int64) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, ts FROM audit_logs WHERE job_id = $1 ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditLog, error) {
		var a models.AuditLog
		err := row.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded)
		return a, err
	})
}

// OpenJobs returns the ids of tracked jobs that have not reached a terminal status.
func (s *Store) OpenJobs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_id FROM tracked_jobs WHERE finished_at IS NULL ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("query open jobs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
