package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/model"
)

func testOrchestrator(deps Deps) *Orchestrator {
	return New(deps, config.PipelineConfig{
		StageMaxAttempts: 2,
		StageBackoffMs:   1,
		StageTimeoutSec:  5,
		CallTimeoutSec:   5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func planNames(plan []StageDescriptor) []string {
	names := make([]string, 0, len(plan))
	for _, s := range plan {
		names = append(names, s.Name)
	}
	return names
}

func TestBuildPlan_FastNoFlags(t *testing.T) {
	o := testOrchestrator(Deps{})
	plan := o.BuildPlan(model.GenerationRequest{Mode: model.ModeFast})

	assert.Equal(t, []string{
		StageInitialization,
		StageResearchOutline,
		StageDraftGeneration,
		StageEnhancement,
		StageSEOPolish,
		StageFinalization,
	}, planNames(plan))

	for _, s := range plan {
		assert.True(t, s.Mandatory, "stage %s in the minimal plan must be mandatory", s.Name)
	}
}

func TestBuildPlan_Comprehensive(t *testing.T) {
	o := testOrchestrator(Deps{})
	plan := o.BuildPlan(model.GenerationRequest{Mode: model.ModeComprehensive})

	assert.Equal(t, []string{
		StageInitialization,
		StageKeywordAnalysis,
		StageCompetitorAnalysis,
		StageIntentAnalysis,
		StageLengthOptimization,
		StageResearchOutline,
		StageDraftGeneration,
		StageEnhancement,
		StageSEOPolish,
		StageFinalization,
	}, planNames(plan))
}

func TestBuildPlan_FeatureFlags(t *testing.T) {
	o := testOrchestrator(Deps{})

	plan := o.BuildPlan(model.GenerationRequest{
		Mode: model.ModeFast,
		Features: model.FeatureFlags{
			SemanticKeywords: true,
			QualityScoring:   true,
		},
	})

	names := planNames(plan)
	assert.Contains(t, names, StageKeywordAnalysis, "semantic keywords pulls in keyword analysis")
	assert.Contains(t, names, StageSemanticIntegration)
	assert.Contains(t, names, StageQualityScoring)
	assert.Len(t, plan, 9)
}

func TestBuildPlan_OrderIsStable(t *testing.T) {
	o := testOrchestrator(Deps{})
	plan := o.BuildPlan(model.GenerationRequest{
		Mode:     model.ModeComprehensive,
		Features: model.FeatureFlags{SemanticKeywords: true, QualityScoring: true},
	})

	assert.Len(t, plan, 12)
	assert.Equal(t, StageInitialization, plan[0].Name)
	assert.Equal(t, StageFinalization, plan[len(plan)-1].Name)
}
