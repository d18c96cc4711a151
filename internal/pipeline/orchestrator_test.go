package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/provider"
)

const fakeArticle = `# Fake Article
An introductory paragraph with enough words to carry the tests.
## First Section
Sentences describing the first section of the article in detail.
## Second Section
Sentences describing the second section of the article in detail.`

// scriptedGenerator returns queued errors before succeeding, counting
// every call.
type scriptedGenerator struct {
	mu    sync.Mutex
	name  string
	text  string
	errs  []error
	calls int
}

func (g *scriptedGenerator) Name() string { return g.name }

func (g *scriptedGenerator) Generate(_ context.Context, _ provider.GenerationPrompt) (provider.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return provider.Generation{}, err
	}
	text := g.text
	if text == "" {
		text = fakeArticle
	}
	return provider.Generation{Text: text, TokensUsed: 10, CostUSD: 0.01, Model: "scripted"}, nil
}

type failingKeywords struct{}

func (failingKeywords) Metrics(context.Context, []string, string) ([]model.KeywordMetrics, error) {
	return nil, &provider.TransientError{Err: errors.New("keyword service down")}
}

func (failingKeywords) CompetitorURLs(context.Context, string, string) ([]string, error) {
	return nil, &provider.TransientError{Err: errors.New("keyword service down")}
}

func collectUpdates() (Emitter, *[]model.ProgressUpdate) {
	var updates []model.ProgressUpdate
	return func(u model.ProgressUpdate) { updates = append(updates, u) }, &updates
}

func fastRequest() model.GenerationRequest {
	return model.GenerationRequest{
		Topic:           "test topic",
		Keywords:        []string{"test"},
		TargetWordCount: 800,
		Tone:            model.ToneProfessional,
		Mode:            model.ModeFast,
	}
}

func TestRun_FastHappyPath(t *testing.T) {
	gen := &scriptedGenerator{name: "primary"}
	o := testOrchestrator(Deps{Primary: gen})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	emit, updates := collectUpdates()
	content, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.NoError(t, err)
	require.NotNil(t, content)

	assert.Equal(t, "Fake Article", content.Title)
	assert.True(t, model.ValidateID(content.ID), "finished documents carry an id")
	assert.NotEmpty(t, content.Body)
	assert.Len(t, content.Headings, 2)
	assert.Greater(t, content.WordCount, 0)
	assert.Greater(t, content.TokensUsed, 0)
	require.NotNil(t, content.Quality, "every completed run carries a quality evaluation")
	assert.NotEmpty(t, content.Quality.Dimensions)

	// One entry and one completion update per stage.
	assert.Len(t, *updates, 12)
	for _, u := range *updates {
		assert.Equal(t, 6, u.TotalStages)
		assert.True(t, model.ValidateID(u.ID))
	}
	assert.Equal(t, 0.0, (*updates)[0].Percentage)
	assert.Equal(t, 100.0, (*updates)[len(*updates)-1].Percentage)
}

func TestRun_PercentageNeverDecreases(t *testing.T) {
	gen := &scriptedGenerator{name: "primary"}
	o := testOrchestrator(Deps{Primary: gen})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	emit, updates := collectUpdates()
	_, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.NoError(t, err)

	last := -1.0
	for _, u := range *updates {
		assert.GreaterOrEqual(t, u.Percentage, last, "stage %s", u.StageName)
		last = u.Percentage
	}
}

func TestRun_OptionalStageDegrades(t *testing.T) {
	gen := &scriptedGenerator{name: "primary"}
	o := testOrchestrator(Deps{Primary: gen, Keywords: failingKeywords{}})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	req := fastRequest()
	req.Mode = model.ModeComprehensive

	emit, updates := collectUpdates()
	content, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", req, emit)
	require.NoError(t, err, "enrichment failures must not abort the pipeline")
	require.NotNil(t, content)

	var skipped []string
	for _, u := range *updates {
		if len(u.Details) > 0 {
			skipped = append(skipped, u.StageName)
		}
	}
	assert.Contains(t, skipped, StageKeywordAnalysis)
	assert.Contains(t, skipped, StageCompetitorAnalysis)
}

func TestRun_MandatoryFatalAborts(t *testing.T) {
	gen := &scriptedGenerator{
		name: "primary",
		errs: []error{&provider.FatalError{Err: errors.New("content policy rejection")}},
	}
	o := testOrchestrator(Deps{Primary: gen})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	emit, _ := collectUpdates()
	_, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageResearchOutline, runErr.Stage)
	assert.True(t, provider.IsFatal(err))
	assert.Equal(t, 1, gen.calls, "fatal errors skip the stage retry loop")
	assert.Contains(t, runErr.Partial.CompletedStages, StageInitialization)
}

func TestRun_TransientRetriesThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{
		name: "primary",
		errs: []error{&provider.TransientError{Err: errors.New("timeout")}},
	}
	o := testOrchestrator(Deps{Primary: gen})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	emit, _ := collectUpdates()
	content, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.NoError(t, err)
	require.NotNil(t, content)
}

func TestRun_TransientRetriesExhausted(t *testing.T) {
	gen := &scriptedGenerator{
		name: "primary",
		errs: []error{
			&provider.TransientError{Err: errors.New("timeout 1")},
			&provider.TransientError{Err: errors.New("timeout 2")},
		},
	}
	o := testOrchestrator(Deps{Primary: gen})
	o.sleep = func(context.Context, time.Duration) error { return nil }

	emit, _ := collectUpdates()
	_, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err), "exhausted transient retries stay transient for the job-level retry")
	assert.Contains(t, err.Error(), "exhausted 2 attempts")
}

func TestRun_FastModeCostsLessThanComprehensive(t *testing.T) {
	runCost := func(mode model.Mode) float64 {
		gen := &scriptedGenerator{name: "primary"}
		o := testOrchestrator(Deps{Primary: gen, Keywords: failingKeywords{}})
		o.sleep = func(context.Context, time.Duration) error { return nil }

		req := fastRequest()
		req.Mode = mode

		emit, _ := collectUpdates()
		content, err := o.Run(context.Background(), "job_1771722000_a3f2b7c1", req, emit)
		require.NoError(t, err)
		return content.CostUSD
	}

	fast := runCost(model.ModeFast)
	comprehensive := runCost(model.ModeComprehensive)
	assert.Greater(t, fast, 0.0)
	assert.Less(t, fast, comprehensive,
		"comprehensive mode runs extra provider stages and must cost more")
}

func TestRun_CancelledContextStops(t *testing.T) {
	gen := &scriptedGenerator{name: "primary"}
	o := testOrchestrator(Deps{Primary: gen})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emit, _ := collectUpdates()
	_, err := o.Run(ctx, "job_1771722000_a3f2b7c1", fastRequest(), emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunError_Message(t *testing.T) {
	err := &RunError{Stage: StageDraftGeneration, Err: fmt.Errorf("boom")}
	assert.Equal(t, "stage draft_generation: boom", err.Error())
}
