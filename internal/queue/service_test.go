package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/pipeline"
	"github.com/contentforge/contentforge/internal/provider"
	"github.com/contentforge/contentforge/internal/store"
	"github.com/contentforge/contentforge/internal/stream"
)

const cannedArticle = `# Test Article
An introductory paragraph covering the topic in enough depth.
## Section One
Body text for the first section with several sentences of content.
## Section Two
Body text for the second section, also with real sentences.`

type stubGenerator struct {
	name string
	err  error
}

func (g *stubGenerator) Name() string { return g.name }

func (g *stubGenerator) Generate(_ context.Context, _ provider.GenerationPrompt) (provider.Generation, error) {
	if g.err != nil {
		return provider.Generation{}, g.err
	}
	return provider.Generation{Text: cannedArticle, TokensUsed: 10, CostUSD: 0.01, Model: "stub"}, nil
}

// flakyGenerator fails its first calls with a transient error, then
// succeeds.
type flakyGenerator struct {
	mu       sync.Mutex
	name     string
	failures int
}

func (g *flakyGenerator) Name() string { return g.name }

func (g *flakyGenerator) Generate(_ context.Context, _ provider.GenerationPrompt) (provider.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures > 0 {
		g.failures--
		return provider.Generation{}, &provider.TransientError{Err: fmt.Errorf("upstream 503")}
	}
	return provider.Generation{Text: cannedArticle, TokensUsed: 10, CostUSD: 0.01, Model: "flaky"}, nil
}

func newTestService(t *testing.T, gen provider.Generator) (*Service, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := pipeline.New(pipeline.Deps{Primary: gen, Secondary: gen}, config.PipelineConfig{
		StageMaxAttempts: 1,
		StageBackoffMs:   1,
		StageTimeoutSec:  5,
		CallTimeoutSec:   5,
	}, logger)

	svc := NewService(st, stream.NewHub(64), orch, config.QueueConfig{
		Workers:            2,
		DispatchIntervalMs: 10,
		MaxAttempts:        2,
		RetryBackoffSec:    1,
		LeaseSec:           600,
		JobDeadlineMin:     1,
	}, logger)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc, st
}

func waitForTerminal(t *testing.T, st *store.Store, jobID string) model.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("job %s did not reach a terminal status", jobID)
		case <-time.After(10 * time.Millisecond):
		}
		job, err := st.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if model.IsTerminal(job.Status) {
			return job
		}
	}
}

func TestSubmit_CreatesQueuedJob(t *testing.T) {
	svc, st := newTestService(t, &stubGenerator{name: "primary"})

	job, estimate, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.True(t, model.ValidateID(job.ID))
	assert.Greater(t, estimate, 0)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, stored.Status)
	assert.Equal(t, job.Request.Topic, stored.Request.Topic)
}

func TestSubmit_RejectsInvalidWithoutCreatingJob(t *testing.T) {
	svc, st := newTestService(t, &stubGenerator{name: "primary"})

	req := validRequest()
	req.TargetWordCount = -500

	_, _, err := svc.Submit(context.Background(), req)
	var ve *ValidationErrors
	require.ErrorAs(t, err, &ve)

	jobs, err := st.ListJobs(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected submission must not create a job record")
}

func TestService_RunsJobToCompletion(t *testing.T) {
	svc, st := newTestService(t, &stubGenerator{name: "primary"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	job, _, err := svc.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := waitForTerminal(t, st, job.ID)
	require.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Test Article", done.Result.Title)
	assert.Greater(t, done.Result.WordCount, 0)
	assert.NotEmpty(t, done.ProgressUpdates)

	// Progress never goes backwards and ends at 100.
	last := -1.0
	for _, u := range done.ProgressUpdates {
		assert.GreaterOrEqual(t, u.Percentage, last)
		last = u.Percentage
	}
	assert.Equal(t, 100.0, done.ProgressUpdates[len(done.ProgressUpdates)-1].Percentage)
}

func TestService_RetriesTransientThenFails(t *testing.T) {
	gen := &stubGenerator{
		name: "primary",
		err:  &provider.TransientError{Err: fmt.Errorf("upstream 503")},
	}
	svc, st := newTestService(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	job, _, err := svc.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := waitForTerminal(t, st, job.ID)
	require.Equal(t, model.StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "upstream 503")
	assert.Equal(t, 2, done.Attempts, "transient failure retries the whole job once")
}

func TestService_RetriedJobProgressStaysMonotonic(t *testing.T) {
	gen := &flakyGenerator{name: "primary", failures: 1}
	svc, st := newTestService(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	job, _, err := svc.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := waitForTerminal(t, st, job.ID)
	require.Equal(t, model.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts, "first attempt fails transiently, second succeeds")

	// The requeue wipes the first attempt's partial log, so the
	// persisted sequence reads as one clean run.
	require.NotEmpty(t, done.ProgressUpdates)
	last := -1.0
	for i, u := range done.ProgressUpdates {
		require.GreaterOrEqual(t, u.Percentage, last,
			"percentage decreased at index %d (stage %s)", i, u.StageName)
		last = u.Percentage
	}
	assert.Equal(t, 100.0, done.ProgressUpdates[len(done.ProgressUpdates)-1].Percentage)
}

func TestService_FatalFailsImmediately(t *testing.T) {
	gen := &stubGenerator{
		name: "primary",
		err:  &provider.FatalError{Err: errors.New("api key rejected")},
	}
	svc, st := newTestService(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	job, _, err := svc.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := waitForTerminal(t, st, job.ID)
	require.Equal(t, model.StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "api key rejected")
	assert.Equal(t, 1, done.Attempts, "fatal errors must not be retried")
}

func TestSnapshot_CountsSubmissions(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{name: "primary"})

	_, _, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Topic = ""
	_, _, err = svc.Submit(context.Background(), req)
	require.Error(t, err)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counters.JobsSubmitted)
	assert.Equal(t, 1, snap.Counters.ValidationFailures)
	assert.Equal(t, 1, snap.QueueDepth[string(model.StatusQueued)])
}
