package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/provider"
)

func consensusRequest() model.GenerationRequest {
	req := fastRequest()
	req.Features.ConsensusGeneration = true
	return req
}

func TestConsensusDraft_BothSucceed(t *testing.T) {
	primary := &scriptedGenerator{name: "primary", text: "primary draft"}
	secondary := &scriptedGenerator{name: "secondary", text: "secondary draft"}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	sc := model.StageContext{Request: consensusRequest()}
	out, err := o.runConsensusDraft(context.Background(), sc, provider.GenerationPrompt{})
	require.NoError(t, err)

	// Both drafts plus the merge and coherence passes on the primary.
	assert.Equal(t, "primary draft", out.Draft)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	assert.Equal(t, 40, out.TokensUsed)
}

func TestConsensusDraft_SecondaryFails_UsesPrimary(t *testing.T) {
	primary := &scriptedGenerator{name: "primary", text: "primary draft"}
	secondary := &scriptedGenerator{
		name: "secondary",
		errs: []error{&provider.TransientError{Err: errors.New("secondary down")}},
	}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	sc := model.StageContext{Request: consensusRequest()}
	out, err := o.runConsensusDraft(context.Background(), sc, provider.GenerationPrompt{})
	require.NoError(t, err)
	assert.Equal(t, "primary draft", out.Draft)
	assert.Equal(t, 1, primary.calls, "no merge pass with a single surviving draft")
}

func TestConsensusDraft_PrimaryFails_UsesSecondary(t *testing.T) {
	primary := &scriptedGenerator{
		name: "primary",
		errs: []error{&provider.TransientError{Err: errors.New("primary down")}},
	}
	secondary := &scriptedGenerator{name: "secondary", text: "secondary draft"}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	sc := model.StageContext{Request: consensusRequest()}
	out, err := o.runConsensusDraft(context.Background(), sc, provider.GenerationPrompt{})
	require.NoError(t, err)
	assert.Equal(t, "secondary draft", out.Draft)
}

func TestConsensusDraft_BothFail(t *testing.T) {
	primary := &scriptedGenerator{
		name: "primary",
		errs: []error{&provider.TransientError{Err: errors.New("primary timeout")}},
	}
	secondary := &scriptedGenerator{
		name: "secondary",
		errs: []error{&provider.TransientError{Err: errors.New("secondary timeout")}},
	}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	sc := model.StageContext{Request: consensusRequest()}
	_, err := o.runConsensusDraft(context.Background(), sc, provider.GenerationPrompt{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both generation backends failed")
}

func TestConsensusDraft_BothFail_FatalWins(t *testing.T) {
	primary := &scriptedGenerator{
		name: "primary",
		errs: []error{&provider.TransientError{Err: errors.New("primary timeout")}},
	}
	secondary := &scriptedGenerator{
		name: "secondary",
		errs: []error{&provider.FatalError{Err: errors.New("auth rejected")}},
	}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	sc := model.StageContext{Request: consensusRequest()}
	_, err := o.runConsensusDraft(context.Background(), sc, provider.GenerationPrompt{})
	require.Error(t, err)
	assert.True(t, provider.IsFatal(err), "the fatal branch failure must win over the transient one")
}

func TestConsensusDraft_MergeFailure_FallsBackToPrimaryDraft(t *testing.T) {
	primary := &scriptedGenerator{name: "primary", text: "primary draft"}
	secondary := &scriptedGenerator{name: "secondary", text: "secondary draft"}
	o := testOrchestrator(Deps{Primary: primary, Secondary: secondary})

	// The merge call is the next primary call; make it fail.
	primary.errs = []error{&provider.TransientError{Err: errors.New("merge timeout")}}

	out, err := o.synthesize(context.Background(), model.StageContext{Request: consensusRequest()}, "primary draft", "secondary draft")
	require.NoError(t, err)
	assert.Equal(t, "primary draft", out.Draft)
}
