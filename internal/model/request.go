package model

type Mode string

const (
	ModeFast          Mode = "fast"
	ModeComprehensive Mode = "comprehensive"
)

var validModes = map[Mode]bool{
	ModeFast:          true,
	ModeComprehensive: true,
}

func IsValidMode(m Mode) bool {
	return validModes[m]
}

type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneConversational Tone = "conversational"
	ToneAuthoritative  Tone = "authoritative"
	ToneCasual         Tone = "casual"
)

var validTones = map[Tone]bool{
	ToneProfessional:   true,
	ToneConversational: true,
	ToneAuthoritative:  true,
	ToneCasual:         true,
}

func IsValidTone(t Tone) bool {
	return validTones[t]
}

// FeatureFlags selects the optional pipeline stages and behaviors for
// a single request. The set is snapshotted into the job at submission
// and never changes afterwards.
type FeatureFlags struct {
	ConsensusGeneration bool `json:"consensus_generation" yaml:"consensus_generation"`
	FactChecking        bool `json:"fact_checking" yaml:"fact_checking"`
	Citations           bool `json:"citations" yaml:"citations"`
	KnowledgeGraph      bool `json:"knowledge_graph" yaml:"knowledge_graph"`
	SemanticKeywords    bool `json:"semantic_keywords" yaml:"semantic_keywords"`
	QualityScoring      bool `json:"quality_scoring" yaml:"quality_scoring"`
}

// GenerationRequest is the immutable submission payload. Validation
// happens in the queue layer before any job record is created.
type GenerationRequest struct {
	Topic           string       `json:"topic"`
	Keywords        []string     `json:"keywords,omitempty"`
	TargetWordCount int          `json:"target_word_count"`
	Tone            Tone         `json:"tone"`
	Mode            Mode         `json:"mode"`
	Locale          string       `json:"locale,omitempty"`
	Features        FeatureFlags `json:"features"`
}
