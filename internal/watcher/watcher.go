package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/models"
	"sciserver-casjobs/internal/telemetry"
)

// Schedule is the poll schedule of watched jobs.
type Schedule interface {
	Watch(ctx context.Context, jobID int64, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]int64, error)
	Failed(ctx context.Context, jobID int64) (int, error)
	Recovered(ctx context.Context, jobID int64) error
	Forget(ctx context.Context, jobID int64) error
	Depth(ctx context.Context) (int64, error)
}

// Ledger persists what the watcher learns about each job.
type Ledger interface {
	Track(ctx context.Context, job models.TrackedJob) error
	RecordStatus(ctx context.Context, jobID int64, status models.JobStatus, message string) error
	Abandon(ctx context.Context, jobID int64, reason string) error
	AppendAudit(ctx context.Context, jobID int64, event, detail string) error
}

// StatusSource looks up the current status of a CasJobs job.
type StatusSource interface {
	GetJobStatus(ctx context.Context, jobID int64, opts ...casjobs.CallOption) (*models.JobDescription, error)
	TaskName(operation string) string
}

// Watcher polls tracked jobs until they reach a terminal status.
type Watcher struct {
	cfg      config.Config
	schedule Schedule
	ledger   Ledger
	jobs     StatusSource
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a watcher.
func New(cfg config.Config, schedule Schedule, ledger Ledger, jobs StatusSource, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WatchBatchSize <= 0 {
		cfg.WatchBatchSize = 50
	}
	if cfg.WatchIdle <= 0 {
		cfg.WatchIdle = time.Second
	}
	if cfg.WatchMaxAttempts <= 0 {
		cfg.WatchMaxAttempts = 20
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = casjobs.MinPollInterval
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	return &Watcher{
		cfg:      cfg,
		schedule: schedule,
		ledger:   ledger,
		jobs:     jobs,
		logger:   logger,
		now:      time.Now,
	}
}

// Track adds a freshly submitted job to the ledger and schedules its first poll.
func (w *Watcher) Track(ctx context.Context, job models.TrackedJob) error {
	if err := w.ledger.Track(ctx, job); err != nil {
		return fmt.Errorf("track job %d: %w", job.JobID, err)
	}
	if err := w.schedule.Watch(ctx, job.JobID, w.now()); err != nil {
		return fmt.Errorf("schedule job %d: %w", job.JobID, err)
	}
	return nil
}

// Resume schedules an immediate poll for jobs that were still open at shutdown.
func (w *Watcher) Resume(ctx context.Context, jobIDs []int64) error {
	now := w.now()
	for _, id := range jobIDs {
		if err := w.schedule.Watch(ctx, id, now); err != nil {
			return fmt.Errorf("schedule job %d: %w", id, err)
		}
	}
	if len(jobIDs) > 0 {
		w.logger.Info("resumed watching open jobs", "count", len(jobIDs))
	}
	return nil
}

// Run polls due jobs until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		n, err := w.Tick(ctx)
		if err != nil {
			w.logger.Warn("watch sweep failed", "err", err)
		}
		if depth, err := w.schedule.Depth(ctx); err == nil {
			telemetry.TrackedJobs.Set(float64(depth))
		}
		if n > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.WatchIdle):
		}
	}
}

// Tick claims one batch of due jobs and polls each. It returns how many were polled.
func (w *Watcher) Tick(ctx context.Context) (int, error) {
	ids, err := w.schedule.Due(ctx, w.now(), int64(w.cfg.WatchBatchSize))
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.poll(ctx, id)
	}
	return len(ids), nil
}

func (w *Watcher) poll(ctx context.Context, jobID int64) {
	desc, err := w.jobs.GetJobStatus(ctx, jobID, casjobs.WithTaskName(w.jobs.TaskName("Watcher")))
	if err != nil {
		w.retry(ctx, jobID, err)
		return
	}
	_ = w.schedule.Recovered(ctx, jobID)

	if err := w.ledger.RecordStatus(ctx, jobID, desc.Status, desc.Message); err != nil {
		w.logger.Warn("record status failed", "job_id", jobID, "err", err)
	}
	if desc.Status.Terminal() {
		_ = w.schedule.Forget(ctx, jobID)
		_ = w.ledger.AppendAudit(ctx, jobID, "finished", desc.Status.String())
		telemetry.JobsFinalized.WithLabelValues(desc.Status.String()).Inc()
		w.logger.Info("job done", "job_id", jobID, "status", desc.Status.String())
		return
	}

	interval := max(w.cfg.PollInterval, casjobs.MinPollInterval)
	if err := w.schedule.Watch(ctx, jobID, w.now().Add(interval)); err != nil {
		w.logger.Warn("reschedule failed", "job_id", jobID, "err", err)
	}
}

// retry reschedules a job whose status lookup failed with jittered exponential backoff.
// Client errors and exhausted attempts end the watch instead.
func (w *Watcher) retry(ctx context.Context, jobID int64, cause error) {
	if permanent(cause) {
		w.abandon(ctx, jobID, cause.Error())
		return
	}
	attempts, err := w.schedule.Failed(ctx, jobID)
	if err != nil {
		attempts = 1
	}
	if attempts >= w.cfg.WatchMaxAttempts {
		w.abandon(ctx, jobID, fmt.Sprintf("gave up after %d attempts: %v", attempts, cause))
		return
	}
	backoff := backoffWithJitter(w.cfg.BackoffInitial, w.cfg.BackoffMax, attempts)
	next := w.now().Add(backoff)
	_ = w.schedule.Watch(ctx, jobID, next)
	_ = w.ledger.AppendAudit(ctx, jobID, "status_error", fmt.Sprintf("attempts=%d next_poll=%s: %v", attempts, next.UTC().Format(time.RFC3339), cause))
	telemetry.WatchErrors.Inc()
	w.logger.Warn("status lookup failed", "job_id", jobID, "attempts", attempts, "backoff", backoff, "err", cause)
}

// permanent reports whether retrying the lookup cannot succeed, e.g. a job owned by
// another account. Timeouts and throttling stay retryable.
func permanent(err error) bool {
	var httpErr *casjobs.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	code := httpErr.StatusCode
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func (w *Watcher) abandon(ctx context.Context, jobID int64, reason string) {
	_ = w.schedule.Forget(ctx, jobID)
	if err := w.ledger.Abandon(ctx, jobID, reason); err != nil {
		w.logger.Warn("abandon failed", "job_id", jobID, "err", err)
	}
	_ = w.ledger.AppendAudit(ctx, jobID, "unwatchable", reason)
	telemetry.JobsFinalized.WithLabelValues("unwatchable").Inc()
	w.logger.Warn("stopped watching job", "job_id", jobID, "reason", reason)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
