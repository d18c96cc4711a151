// Package queue accepts generation requests, persists them as jobs and
// drives a bounded worker pool over the pipeline orchestrator.
// Submission is synchronous and cheap; all provider work happens on
// the worker side.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/pipeline"
	"github.com/contentforge/contentforge/internal/provider"
	"github.com/contentforge/contentforge/internal/store"
	"github.com/contentforge/contentforge/internal/stream"
)

// estimatedSecondsPerStage feeds the submission-time completion
// estimate. Deliberately rough; clients treat it as a hint.
const estimatedSecondsPerStage = 15

// Service owns job intake and the worker pool.
type Service struct {
	store  *store.Store
	hub    *stream.Hub
	orch   *pipeline.Orchestrator
	logger *slog.Logger

	metrics metrics

	mu  sync.Mutex
	tun config.QueueConfig

	flightMu sync.Mutex
	inFlight map[string]bool
	active   int

	wake chan struct{}
	wg   sync.WaitGroup

	// sleep is replaced in tests to avoid real retry backoff waits.
	sleep func(context.Context, time.Duration) error
}

// NewService wires the intake and worker pool. Run must be called for
// queued jobs to make progress.
func NewService(st *store.Store, hub *stream.Hub, orch *pipeline.Orchestrator, cfg config.QueueConfig, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		hub:      hub,
		orch:     orch,
		logger:   logger,
		tun:      cfg,
		inFlight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
		sleep:    sleepCtx,
	}
}

// ApplyConfig swaps the hot-reloadable queue tunables. Takes effect on
// the next dispatch tick; running jobs are unaffected.
func (s *Service) ApplyConfig(cfg config.QueueConfig) {
	s.mu.Lock()
	s.tun = cfg
	s.mu.Unlock()
	s.logger.Info("queue tunables applied",
		"workers", cfg.Workers,
		"dispatch_interval_ms", cfg.DispatchIntervalMs,
		"max_attempts", cfg.MaxAttempts)
}

func (s *Service) tunables() config.QueueConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tun
}

// Submit validates the request and, when valid, persists a queued job
// and returns it with an estimated completion time in seconds. The
// returned error is *ValidationErrors for rejected requests; no job
// record is created in that case.
func (s *Service) Submit(ctx context.Context, req model.GenerationRequest) (model.Job, int, error) {
	if ve := ValidateRequest(req); ve != nil {
		s.metrics.update(func(c *Counters) { c.ValidationFailures++ })
		return model.Job{}, 0, ve
	}

	id, err := model.GenerateID(model.IDTypeJob)
	if err != nil {
		return model.Job{}, 0, fmt.Errorf("generate job id: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	job := model.Job{
		ID:        id,
		Status:    model.StatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return model.Job{}, 0, fmt.Errorf("persist job: %w", err)
	}
	s.metrics.update(func(c *Counters) { c.JobsSubmitted++ })
	s.logger.Info("job submitted", "job_id", job.ID, "topic", req.Topic, "mode", req.Mode)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	estimate := len(s.orch.BuildPlan(req)) * estimatedSecondsPerStage
	return job, estimate, nil
}

// Snapshot reports queue depth and lifetime counters.
func (s *Service) Snapshot(ctx context.Context) (Metrics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Metrics{}, err
	}
	depth := make(map[string]int, len(counts))
	for status, n := range counts {
		depth[string(status)] = n
	}
	return s.metrics.snapshot(depth), nil
}

// Run drives the dispatch loop until ctx is cancelled, then waits for
// in-flight jobs to release their workers. Dispatch rate is bounded by
// the interval tunable: at most one job starts per tick.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("queue started", "workers", s.tunables().Workers)
	for {
		interval := time.Duration(s.tunables().DispatchIntervalMs) * time.Millisecond
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("queue stopped")
			return
		case <-s.wake:
		case <-time.After(interval):
		}
		s.dispatchOne(ctx)
	}
}

// dispatchOne starts at most one queued job if a worker slot is free.
// The lease CAS in the store is the real exclusivity guarantee; the
// in-flight set only avoids spawning obviously duplicate pickups.
func (s *Service) dispatchOne(ctx context.Context) {
	tun := s.tunables()

	s.flightMu.Lock()
	if s.active >= tun.Workers {
		s.flightMu.Unlock()
		return
	}
	s.flightMu.Unlock()

	// Oldest submission first, so a steady stream of new jobs cannot
	// starve the ones already waiting.
	jobs, err := s.store.NextQueued(ctx, tun.Workers)
	if err != nil {
		s.logger.Error("list queued jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.flightMu.Lock()
		if s.inFlight[job.ID] || s.active >= tun.Workers {
			s.flightMu.Unlock()
			continue
		}
		s.inFlight[job.ID] = true
		s.active++
		s.flightMu.Unlock()

		s.wg.Add(1)
		go s.runJob(ctx, job.ID, tun)
		return
	}
}

func (s *Service) runJob(ctx context.Context, jobID string, tun config.QueueConfig) {
	defer s.wg.Done()
	defer func() {
		s.flightMu.Lock()
		delete(s.inFlight, jobID)
		s.active--
		s.flightMu.Unlock()
	}()

	owner := uuid.NewString()
	leaseTTL := time.Duration(tun.LeaseSec) * time.Second

	epoch, err := s.store.AcquireLease(ctx, jobID, owner, leaseTTL)
	if err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			s.metrics.update(func(c *Counters) { c.LeasesContended++ })
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("acquire lease", "job_id", jobID, "error", err)
		}
		return
	}
	s.metrics.update(func(c *Counters) { c.LeasesAcquired++ })

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("load job after lease", "job_id", jobID, "error", err)
		return
	}
	queuedFor := time.Duration(0)
	if submitted, err := model.ParseIDTimestamp(jobID); err == nil {
		queuedFor = time.Since(submitted).Round(time.Second)
	}
	s.logger.Info("job picked up",
		"job_id", jobID, "owner", owner, "epoch", epoch,
		"attempt", job.Attempts, "queued_for", queuedFor)

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(tun.JobDeadlineMin)*time.Minute)
	defer cancel()
	stopHeartbeat := s.startHeartbeat(jobCtx, jobID, epoch, leaseTTL)
	defer stopHeartbeat()

	// Persistence and streaming must survive the job deadline firing
	// mid-emit; only provider work is bound to jobCtx.
	emitCtx := context.WithoutCancel(ctx)
	emit := func(update model.ProgressUpdate) {
		if err := s.store.AppendProgress(emitCtx, jobID, update); err != nil {
			s.logger.Error("append progress", "job_id", jobID, "error", err)
		}
		s.hub.Publish(jobID, update)
	}

	result, runErr := s.orch.Run(jobCtx, jobID, job.Request, emit)
	if runErr == nil {
		s.finishCompleted(emitCtx, jobID, epoch, *result)
		return
	}
	s.finishFailed(emitCtx, jobCtx, jobID, epoch, job.Attempts, tun, runErr)
}

// startHeartbeat extends the lease periodically while the job runs so
// a healthy long job is never treated as abandoned.
func (s *Service) startHeartbeat(ctx context.Context, jobID string, epoch int, ttl time.Duration) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := s.store.ExtendLease(hbCtx, jobID, epoch, ttl); err != nil {
					s.logger.Warn("extend lease", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) finishCompleted(ctx context.Context, jobID string, epoch int, result model.GeneratedContent) {
	if err := s.store.CompleteJob(ctx, jobID, epoch, result); err != nil {
		// A stale epoch means another worker took over after our lease
		// expired; its outcome wins and we stay silent.
		s.logger.Warn("complete job", "job_id", jobID, "epoch", epoch, "error", err)
		return
	}
	s.metrics.update(func(c *Counters) { c.JobsCompleted++ })
	s.hub.Complete(jobID, result)
	s.logger.Info("job completed", "job_id", jobID, "word_count", result.WordCount)
}

func (s *Service) finishFailed(ctx, jobCtx context.Context, jobID string, epoch, attempts int, tun config.QueueConfig, runErr error) {
	message := failureMessage(runErr)
	deadlineHit := errors.Is(jobCtx.Err(), context.DeadlineExceeded)

	if !deadlineHit && provider.IsTransient(runErr) && attempts < tun.MaxAttempts {
		backoff := time.Duration(tun.RetryBackoffSec) * time.Second << (attempts - 1)
		s.logger.Warn("job retry scheduled",
			"job_id", jobID, "attempt", attempts, "backoff", backoff, "error", runErr)
		if err := s.sleep(ctx, backoff); err == nil {
			if err := s.store.RequeueJob(ctx, jobID, epoch); err != nil {
				s.logger.Warn("requeue job", "job_id", jobID, "error", err)
				return
			}
			s.metrics.update(func(c *Counters) { c.JobsRetried++ })
			select {
			case s.wake <- struct{}{}:
			default:
			}
			return
		}
	}

	if deadlineHit {
		message = fmt.Sprintf("job deadline exceeded after %dm: %s", tun.JobDeadlineMin, message)
	}
	if err := s.store.FailJob(ctx, jobID, epoch, message); err != nil {
		s.logger.Warn("fail job", "job_id", jobID, "epoch", epoch, "error", err)
		return
	}
	s.metrics.update(func(c *Counters) { c.JobsFailed++ })
	s.hub.Fail(jobID, message)
	s.logger.Error("job failed", "job_id", jobID, "error", runErr)
}

// failureMessage keeps the artifacts already produced visible in the
// job record, so a failed run can be diagnosed without re-running it.
func failureMessage(err error) string {
	var runErr *pipeline.RunError
	if errors.As(err, &runErr) {
		msg := fmt.Sprintf("stage %s: %v", runErr.Stage, runErr.Err)
		if len(runErr.Partial.CompletedStages) > 0 {
			msg += fmt.Sprintf(" (completed stages: %s)",
				strings.Join(runErr.Partial.CompletedStages, ", "))
		}
		return msg
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
