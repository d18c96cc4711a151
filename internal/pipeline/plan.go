// Package pipeline implements the content generation state machine:
// an ordered list of stage functions threaded through a StageContext,
// with per-stage retries, graceful degradation for enrichment stages
// and progress emission at stage entry and completion.
package pipeline

import (
	"context"

	"github.com/contentforge/contentforge/internal/model"
)

// Stage names, in fixed pipeline order.
const (
	StageInitialization      = "initialization"
	StageKeywordAnalysis     = "keyword_analysis"
	StageCompetitorAnalysis  = "competitor_analysis"
	StageIntentAnalysis      = "intent_analysis"
	StageLengthOptimization  = "length_optimization"
	StageResearchOutline     = "research_outline"
	StageDraftGeneration     = "draft_generation"
	StageEnhancement         = "enhancement"
	StageSEOPolish           = "seo_polish"
	StageSemanticIntegration = "semantic_integration"
	StageQualityScoring      = "quality_scoring"
	StageFinalization        = "finalization"
)

// StageFunc runs one pipeline step. It receives the accumulated
// context by value and returns the updated copy; no stage reads or
// writes state outside its received context.
type StageFunc func(ctx context.Context, sc model.StageContext) (model.StageContext, error)

// StageDescriptor is one entry of the execution plan. Mandatory stages
// abort the job when they exhaust their retry budget; optional stages
// log the failure, skip their enrichment and let the pipeline continue.
type StageDescriptor struct {
	Name      string
	Mandatory bool
	Run       StageFunc
}

// BuildPlan computes the enabled stage list once, at job start, from
// the request's mode and feature flags. The plan's length fixes
// total_stages for every progress update of the job.
func (o *Orchestrator) BuildPlan(req model.GenerationRequest) []StageDescriptor {
	comprehensive := req.Mode == model.ModeComprehensive
	f := req.Features

	all := []struct {
		name      string
		mandatory bool
		enabled   bool
		run       StageFunc
	}{
		{StageInitialization, true, true, o.runInitialization},
		{StageKeywordAnalysis, false, comprehensive || f.SemanticKeywords, o.runKeywordAnalysis},
		{StageCompetitorAnalysis, false, comprehensive, o.runCompetitorAnalysis},
		{StageIntentAnalysis, false, comprehensive, o.runIntentAnalysis},
		{StageLengthOptimization, false, comprehensive, o.runLengthOptimization},
		{StageResearchOutline, true, true, o.runResearchOutline},
		{StageDraftGeneration, true, true, o.runDraftGeneration},
		{StageEnhancement, true, true, o.runEnhancement},
		{StageSEOPolish, true, true, o.runSEOPolish},
		{StageSemanticIntegration, false, f.SemanticKeywords, o.runSemanticIntegration},
		{StageQualityScoring, false, f.QualityScoring, o.runQualityScoring},
		{StageFinalization, true, true, o.runFinalization},
	}

	plan := make([]StageDescriptor, 0, len(all))
	for _, s := range all {
		if !s.enabled {
			continue
		}
		plan = append(plan, StageDescriptor{Name: s.name, Mandatory: s.mandatory, Run: s.run})
	}
	return plan
}
