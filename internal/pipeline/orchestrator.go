package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/provider"
)

// Emitter receives progress updates as the run advances. Emission must
// never block content generation; the streaming hub guarantees that on
// its side.
type Emitter func(model.ProgressUpdate)

// Orchestrator sequences the stage functions for one job at a time.
// One Run call owns its StageContext exclusively.
type Orchestrator struct {
	primary   provider.Generator
	secondary provider.Generator
	keywords  provider.KeywordMetricsProvider
	entities  provider.EntityProvider
	citations provider.CitationProvider
	scanner   provider.CompetitorScanner
	cfg       config.PipelineConfig
	logger    *slog.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Primary   provider.Generator
	Secondary provider.Generator
	Keywords  provider.KeywordMetricsProvider
	Entities  provider.EntityProvider
	Citations provider.CitationProvider
	Scanner   provider.CompetitorScanner
}

// New creates an Orchestrator.
func New(deps Deps, cfg config.PipelineConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		primary:   deps.Primary,
		secondary: deps.Secondary,
		keywords:  deps.Keywords,
		entities:  deps.Entities,
		citations: deps.Citations,
		scanner:   deps.Scanner,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// RunError carries the partial context snapshot alongside the failure
// so completed artifacts stay available for diagnostics.
type RunError struct {
	Stage   string
	Partial model.StageContext
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run executes the plan for the request and returns the finished
// content. Progress updates are emitted at every stage entry and
// completion; percentage is stage_number/total_stages and never
// decreases within a run.
func (o *Orchestrator) Run(ctx context.Context, jobID string, req model.GenerationRequest, emit Emitter) (*model.GeneratedContent, error) {
	plan := o.BuildPlan(req)
	total := len(plan)

	sc := model.StageContext{Request: req}

	for i, stage := range plan {
		if err := ctx.Err(); err != nil {
			return nil, &RunError{Stage: stage.Name, Partial: sc, Err: err}
		}
		number := i + 1
		emit(newUpdate(stage.Name, number, total, float64(number-1)/float64(total)*100,
			fmt.Sprintf("starting %s", stage.Name), nil))

		updated, err := o.runStageWithRetry(ctx, stage, sc)
		if err != nil {
			if !stage.Mandatory {
				// Enrichment-only stages degrade gracefully.
				o.logger.Warn("optional stage skipped",
					"job_id", jobID, "stage", stage.Name, "error", err)
				sc.SkippedStages = append(sc.SkippedStages, stage.Name)
				emit(newUpdate(stage.Name, number, total, float64(number)/float64(total)*100,
					fmt.Sprintf("skipped %s", stage.Name),
					[]string{err.Error()}))
				continue
			}
			o.logger.Error("mandatory stage failed",
				"job_id", jobID, "stage", stage.Name, "error", err)
			return nil, &RunError{Stage: stage.Name, Partial: sc, Err: err}
		}

		sc = updated
		sc.CompletedStages = append(sc.CompletedStages, stage.Name)
		emit(newUpdate(stage.Name, number, total, float64(number)/float64(total)*100,
			fmt.Sprintf("completed %s", stage.Name), nil))
	}

	content := o.assemble(sc)
	return &content, nil
}

// runStageWithRetry retries a single stage with exponential backoff on
// transient failures, up to the configured attempt cap. Fatal provider
// errors and context cancellation escalate immediately.
func (o *Orchestrator) runStageWithRetry(ctx context.Context, stage StageDescriptor, sc model.StageContext) (model.StageContext, error) {
	var lastErr error
	backoff := time.Duration(o.cfg.StageBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= o.cfg.StageMaxAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout())
		updated, err := stage.Run(stageCtx, sc)
		cancel()
		if err == nil {
			return updated, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return sc, ctx.Err()
		}
		if provider.IsFatal(err) || !provider.IsTransient(err) {
			return sc, err
		}

		o.logger.Warn("stage attempt failed",
			"stage", stage.Name, "attempt", attempt, "error", err)
		if attempt < o.cfg.StageMaxAttempts {
			if err := o.sleep(ctx, backoff); err != nil {
				return sc, err
			}
			backoff *= 2
		}
	}
	return sc, fmt.Errorf("exhausted %d attempts: %w", o.cfg.StageMaxAttempts, lastErr)
}

func newUpdate(stageName string, number, total int, percentage float64, message string, details []string) model.ProgressUpdate {
	id, _ := model.GenerateID(model.IDTypeUpdate)
	return model.ProgressUpdate{
		ID:            id,
		StageName:     stageName,
		StageNumber:   number,
		TotalStages:   total,
		Percentage:    percentage,
		StatusMessage: message,
		Details:       details,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
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
