package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/provider"
)

// runConsensusDraft issues the draft prompt to both generation
// backends concurrently and synthesizes a merged draft from the two
// results. Each branch captures its own failure; a single surviving
// draft is used directly, and only the loss of both backends fails the
// stage.
func (o *Orchestrator) runConsensusDraft(ctx context.Context, sc model.StageContext, prompt provider.GenerationPrompt) (model.StageContext, error) {
	type branch struct {
		gen provider.Generation
		err error
	}
	results := make([]branch, 2)

	var wg sync.WaitGroup
	for i, backend := range []provider.Generator{o.primary, o.secondary} {
		i, backend := i, backend
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen, err := backend.Generate(ctx, prompt)
			results[i] = branch{gen: gen, err: err}
		}()
	}
	wg.Wait()

	for i, backend := range []provider.Generator{o.primary, o.secondary} {
		if results[i].err != nil {
			o.logger.Warn("consensus backend failed",
				"backend", backend.Name(), "error", results[i].err)
			continue
		}
		sc.AddUsage(results[i].gen.TokensUsed, results[i].gen.CostUSD)
	}

	switch {
	case results[0].err == nil && results[1].err == nil:
		return o.synthesize(ctx, sc, results[0].gen.Text, results[1].gen.Text)
	case results[0].err == nil:
		sc.Draft = results[0].gen.Text
		return sc, nil
	case results[1].err == nil:
		sc.Draft = results[1].gen.Text
		return sc, nil
	default:
		// Report the more severe failure so a fatal auth error is not
		// masked by the other backend's timeout.
		err := results[0].err
		if provider.IsFatal(results[1].err) {
			err = results[1].err
		}
		return sc, fmt.Errorf("both generation backends failed: %w", err)
	}
}

// synthesize merges two complete drafts with a lighter-weight call,
// then smooths transitions with a final coherence pass.
func (o *Orchestrator) synthesize(ctx context.Context, sc model.StageContext, draftA, draftB string) (model.StageContext, error) {
	merged, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: "You merge two article drafts. Select the most comprehensive and clearest passages from each; keep the heading structure of draft A. Return only the merged article.",
		User:   fmt.Sprintf("DRAFT A:\n%s\n\nDRAFT B:\n%s", draftA, draftB),
	})
	if err != nil {
		// The two source drafts are intact; fall back to draft A rather
		// than failing a stage that already has usable output.
		o.logger.Warn("consensus merge failed, using primary draft", "error", err)
		sc.Draft = draftA
		return sc, nil
	}
	sc.AddUsage(merged.TokensUsed, merged.CostUSD)

	coherent, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: "Smooth the transitions between sections. Change nothing else. Return only the article.",
		User:   merged.Text,
	})
	if err != nil {
		o.logger.Warn("coherence pass failed, using merged draft", "error", err)
		sc.Draft = merged.Text
		return sc, nil
	}
	sc.AddUsage(coherent.TokensUsed, coherent.CostUSD)
	sc.Draft = coherent.Text
	return sc, nil
}
