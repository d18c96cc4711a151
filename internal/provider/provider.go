// Package provider implements the outbound collaborator clients the
// pipeline depends on: generation backends and the keyword, entity and
// citation enrichment services. All clients are context-aware and
// classify failures as transient or fatal for the retry machinery.
package provider

import (
	"context"

	"github.com/contentforge/contentforge/internal/model"
)

// GenerationPrompt is one request to a generation backend.
type GenerationPrompt struct {
	System    string
	User      string
	MaxTokens int
}

// Generation is the backend's reply plus token/cost accounting.
type Generation struct {
	Text       string
	TokensUsed int
	CostUSD    float64
	Model      string
}

// Generator produces text from a prompt. The consensus synthesizer
// consumes two independent instances; non-consensus mode uses one.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt GenerationPrompt) (Generation, error)
}

// KeywordMetricsProvider returns difficulty/volume/competitor data for
// a keyword list. Failure is non-fatal to the pipeline.
type KeywordMetricsProvider interface {
	Metrics(ctx context.Context, keywords []string, locale string) ([]model.KeywordMetrics, error)
	CompetitorURLs(ctx context.Context, topic string, locale string) ([]string, error)
}

// EntityProvider extracts knowledge-graph entities from text. Failure
// is non-fatal.
type EntityProvider interface {
	Entities(ctx context.Context, text string) ([]model.Entity, error)
}

// CitationProvider looks up candidate sources for a topic. Failure is
// non-fatal.
type CitationProvider interface {
	Citations(ctx context.Context, topic string, claims []string) ([]model.Citation, error)
}

// CompetitorScanner fetches a competing page and extracts its outline.
type CompetitorScanner interface {
	Scan(ctx context.Context, url string) (model.CompetitorInsight, error)
}
