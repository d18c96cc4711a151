package model

// Heading is one entry of the document outline, H2/H3 level.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Citation is a candidate source attached during enhancement.
type Citation struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// SEOMetadata carries the search-facing fields of a finished document.
type SEOMetadata struct {
	MetaTitle       string   `json:"meta_title"`
	MetaDescription string   `json:"meta_description"`
	Slug            string   `json:"slug"`
	FocusKeyword    string   `json:"focus_keyword,omitempty"`
	RelatedKeywords []string `json:"related_keywords,omitempty"`
}

// GeneratedContent is the finished document produced at pipeline
// finalization. Immutable thereafter.
type GeneratedContent struct {
	ID               string        `json:"id,omitempty"`
	Title            string        `json:"title"`
	Body             string        `json:"body"`
	Headings         []Heading     `json:"headings,omitempty"`
	SemanticKeywords []string      `json:"semantic_keywords,omitempty"`
	Citations        []Citation    `json:"citations,omitempty"`
	SEO              SEOMetadata   `json:"seo"`
	WordCount        int           `json:"word_count"`
	TokensUsed       int           `json:"tokens_used"`
	CostUSD          float64       `json:"cost_usd"`
	Quality          *QualityScore `json:"quality,omitempty"`
}

// QualityScore is the deterministic evaluation of a finished document.
// Computed once at the quality scoring stage; informational only, never
// blocks job completion.
type QualityScore struct {
	Overall         float64            `json:"overall"`
	Dimensions      map[string]float64 `json:"dimensions"`
	CriticalIssues  []string           `json:"critical_issues,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Quality dimension names used as keys in QualityScore.Dimensions.
const (
	DimensionReadability   = "readability"
	DimensionSEO           = "seo"
	DimensionStructure     = "structure"
	DimensionFactual       = "factual"
	DimensionUniqueness    = "uniqueness"
	DimensionEngagement    = "engagement"
	DimensionAccessibility = "accessibility"
)
