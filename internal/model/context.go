package model

// KeywordMetrics is the per-keyword difficulty/volume data returned by
// the metrics provider during keyword analysis.
type KeywordMetrics struct {
	Keyword     string  `json:"keyword"`
	Difficulty  float64 `json:"difficulty"`
	Volume      int     `json:"volume"`
	Competition float64 `json:"competition"`
}

// CompetitorInsight summarizes one competing page scanned during
// competitor analysis.
type CompetitorInsight struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	WordCount    int      `json:"word_count"`
	HeadingCount int      `json:"heading_count"`
	Headings     []string `json:"headings,omitempty"`
}

// Entity is a knowledge-graph entity extracted during enrichment.
type Entity struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Salience float64 `json:"salience"`
}

// StageContext is the working state threaded through pipeline stages.
// One orchestrator invocation owns exactly one context; it is never
// shared across jobs. Stages receive it by value and return an updated
// copy, so no stage can mutate state it did not produce.
type StageContext struct {
	Request GenerationRequest `json:"request"`

	// Artifacts accumulated across stages.
	KeywordMetrics   []KeywordMetrics    `json:"keyword_metrics,omitempty"`
	Competitors      []CompetitorInsight `json:"competitors,omitempty"`
	SearchIntent     string              `json:"search_intent,omitempty"`
	OptimalWordCount int                 `json:"optimal_word_count,omitempty"`
	Outline          []Heading           `json:"outline,omitempty"`
	Draft            string              `json:"draft,omitempty"`
	Title            string              `json:"title,omitempty"`
	Entities         []Entity            `json:"entities,omitempty"`
	Citations        []Citation          `json:"citations,omitempty"`
	SemanticKeywords []string            `json:"semantic_keywords,omitempty"`
	SEO              SEOMetadata         `json:"seo,omitempty"`
	Quality          *QualityScore       `json:"quality,omitempty"`

	// Running provider accounting.
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`

	// Names of stages that finished, in completion order. Preserved in
	// the job's error payload when a later stage fails fatally.
	CompletedStages []string `json:"completed_stages,omitempty"`
	SkippedStages   []string `json:"skipped_stages,omitempty"`
}

// AddUsage accumulates token and cost accounting from a provider call.
func (c *StageContext) AddUsage(tokens int, costUSD float64) {
	c.TokensUsed += tokens
	c.CostUSD += costUSD
}
