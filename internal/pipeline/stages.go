package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/provider"
	"github.com/contentforge/contentforge/internal/score"
)

const maxCompetitorPages = 3

func (o *Orchestrator) runInitialization(_ context.Context, sc model.StageContext) (model.StageContext, error) {
	if strings.TrimSpace(sc.Request.Topic) == "" {
		return sc, &provider.FatalError{Err: fmt.Errorf("empty topic reached pipeline")}
	}
	if sc.Request.TargetWordCount <= 0 {
		sc.Request.TargetWordCount = 1200
	}
	sc.OptimalWordCount = sc.Request.TargetWordCount
	return sc, nil
}

func (o *Orchestrator) runKeywordAnalysis(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	keywords := sc.Request.Keywords
	if len(keywords) == 0 {
		keywords = []string{sc.Request.Topic}
	}
	metrics, err := o.keywords.Metrics(ctx, keywords, sc.Request.Locale)
	if err != nil {
		return sc, err
	}
	sc.KeywordMetrics = metrics
	return sc, nil
}

// runCompetitorAnalysis fans out over the top SERP results. Each page
// scan captures its own failure; one broken page never aborts the
// siblings.
func (o *Orchestrator) runCompetitorAnalysis(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	urls, err := o.keywords.CompetitorURLs(ctx, sc.Request.Topic, sc.Request.Locale)
	if err != nil {
		return sc, err
	}
	if len(urls) > maxCompetitorPages {
		urls = urls[:maxCompetitorPages]
	}

	insights := make([]*model.CompetitorInsight, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCompetitorPages)
	for i, pageURL := range urls {
		i, pageURL := i, pageURL
		g.Go(func() error {
			insight, err := o.scanner.Scan(gctx, pageURL)
			if err != nil {
				o.logger.Warn("competitor scan failed", "url", pageURL, "error", err)
				return nil
			}
			insights[i] = &insight
			return nil
		})
	}
	_ = g.Wait()

	for _, insight := range insights {
		if insight != nil {
			sc.Competitors = append(sc.Competitors, *insight)
		}
	}
	return sc, nil
}

var knownIntents = map[string]bool{
	"informational": true,
	"commercial":    true,
	"transactional": true,
	"navigational":  true,
}

func (o *Orchestrator) runIntentAnalysis(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	gen, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: "You classify search intent. Reply with exactly one word: informational, commercial, transactional or navigational.",
		User:   fmt.Sprintf("Topic: %s\nKeywords: %s", sc.Request.Topic, strings.Join(sc.Request.Keywords, ", ")),
	})
	if err != nil {
		return sc, err
	}
	sc.AddUsage(gen.TokensUsed, gen.CostUSD)

	intent := strings.ToLower(strings.TrimSpace(firstLine(gen.Text)))
	if !knownIntents[intent] {
		intent = "informational"
	}
	sc.SearchIntent = intent
	return sc, nil
}

// runLengthOptimization picks a word target from competitor coverage:
// match the strongest competitor plus 10%, but never shrink below the
// requested target.
func (o *Orchestrator) runLengthOptimization(_ context.Context, sc model.StageContext) (model.StageContext, error) {
	longest := 0
	for _, c := range sc.Competitors {
		if c.WordCount > longest {
			longest = c.WordCount
		}
	}
	optimal := sc.Request.TargetWordCount
	if adjusted := longest + longest/10; adjusted > optimal {
		optimal = adjusted
	}
	sc.OptimalWordCount = optimal
	return sc, nil
}

func (o *Orchestrator) runResearchOutline(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nTone: %s\nTarget length: %d words\n", sc.Request.Topic, sc.Request.Tone, sc.OptimalWordCount)
	if sc.SearchIntent != "" {
		fmt.Fprintf(&b, "Search intent: %s\n", sc.SearchIntent)
	}
	for _, c := range sc.Competitors {
		fmt.Fprintf(&b, "Competitor outline (%s): %s\n", c.URL, strings.Join(c.Headings, " | "))
	}

	gen, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: "You are a content strategist. Produce an article outline: first line is the title, then one heading per line prefixed with '##' for sections and '###' for subsections.",
		User:   b.String(),
	})
	if err != nil {
		return sc, err
	}
	sc.AddUsage(gen.TokensUsed, gen.CostUSD)

	title, outline := parseOutline(gen.Text)
	if title == "" {
		title = titleCase(sc.Request.Topic)
	}
	if len(outline) == 0 {
		return sc, &provider.TransientError{Err: fmt.Errorf("outline response contained no headings")}
	}
	sc.Title = title
	sc.Outline = outline
	return sc, nil
}

func (o *Orchestrator) runDraftGeneration(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	prompt := draftPrompt(sc)

	if sc.Request.Features.ConsensusGeneration {
		return o.runConsensusDraft(ctx, sc, prompt)
	}

	gen, err := o.primary.Generate(ctx, prompt)
	if err != nil {
		return sc, err
	}
	sc.AddUsage(gen.TokensUsed, gen.CostUSD)
	sc.Draft = gen.Text
	return sc, nil
}

// runEnhancement refines the draft and folds in the optional
// enrichment lookups. The lookups run in parallel and degrade
// individually; only the refinement call itself can fail the stage.
func (o *Orchestrator) runEnhancement(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	var (
		citations []model.Citation
		entities  []model.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	if sc.Request.Features.Citations || sc.Request.Features.FactChecking {
		g.Go(func() error {
			found, err := o.citations.Citations(gctx, sc.Request.Topic, headingTexts(sc.Outline))
			if err != nil {
				o.logger.Warn("citation lookup failed", "error", err)
				return nil
			}
			citations = found
			return nil
		})
	}
	if sc.Request.Features.KnowledgeGraph {
		g.Go(func() error {
			found, err := o.entities.Entities(gctx, sc.Draft)
			if err != nil {
				o.logger.Warn("entity lookup failed", "error", err)
				return nil
			}
			entities = found
			return nil
		})
	}
	_ = g.Wait()

	sc.Citations = citations
	sc.Entities = entities

	var b strings.Builder
	b.WriteString("Improve flow, add concrete examples and tighten wording. Keep the heading structure.\n\n")
	if len(citations) > 0 {
		b.WriteString("Work these sources into the text where claims need support:\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Title, c.URL)
		}
		b.WriteString("\n")
	}
	b.WriteString(sc.Draft)

	gen, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: fmt.Sprintf("You are an editor. Tone: %s.", sc.Request.Tone),
		User:   b.String(),
	})
	if err != nil {
		return sc, err
	}
	sc.AddUsage(gen.TokensUsed, gen.CostUSD)
	sc.Draft = gen.Text
	return sc, nil
}

func (o *Orchestrator) runSEOPolish(ctx context.Context, sc model.StageContext) (model.StageContext, error) {
	focus := ""
	if len(sc.Request.Keywords) > 0 {
		focus = sc.Request.Keywords[0]
	}

	gen, err := o.primary.Generate(ctx, provider.GenerationPrompt{
		System: "You are an SEO editor. Rework the article so the focus keyword appears naturally in the opening paragraph and at least one heading. Return only the article text.",
		User:   fmt.Sprintf("Focus keyword: %s\n\n%s", focus, sc.Draft),
	})
	if err != nil {
		return sc, err
	}
	sc.AddUsage(gen.TokensUsed, gen.CostUSD)
	sc.Draft = gen.Text

	sc.SEO = model.SEOMetadata{
		MetaTitle:       truncate(sc.Title, 60),
		MetaDescription: truncate(firstParagraph(sc.Draft), 160),
		Slug:            slugify(sc.Title),
		FocusKeyword:    focus,
		RelatedKeywords: sc.Request.Keywords,
	}
	return sc, nil
}

// runSemanticIntegration merges provider-suggested terms into the
// semantic keyword set. Pure bookkeeping, no provider calls.
func (o *Orchestrator) runSemanticIntegration(_ context.Context, sc model.StageContext) (model.StageContext, error) {
	seen := make(map[string]bool)
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		sc.SemanticKeywords = append(sc.SemanticKeywords, term)
	}

	for _, kw := range sc.Request.Keywords {
		add(kw)
	}
	for _, m := range sc.KeywordMetrics {
		add(m.Keyword)
	}
	for _, e := range sc.Entities {
		add(e.Name)
	}
	return sc, nil
}

func (o *Orchestrator) runQualityScoring(_ context.Context, sc model.StageContext) (model.StageContext, error) {
	content := o.assemble(sc)
	content.Quality = nil
	quality := score.Score(content, score.Options{
		Accessibility: sc.Request.Mode == model.ModeComprehensive,
	})
	sc.Quality = &quality
	return sc, nil
}

func (o *Orchestrator) runFinalization(_ context.Context, sc model.StageContext) (model.StageContext, error) {
	if strings.TrimSpace(sc.Draft) == "" {
		return sc, &provider.FatalError{Err: fmt.Errorf("finalization reached with empty draft")}
	}
	if sc.Title == "" {
		sc.Title = titleCase(sc.Request.Topic)
	}
	// Every finished document carries a quality evaluation, whether or
	// not the dedicated scoring stage ran.
	if sc.Quality == nil {
		content := o.assemble(sc)
		quality := score.Score(content, score.Options{
			Accessibility: sc.Request.Mode == model.ModeComprehensive,
		})
		sc.Quality = &quality
	}
	return sc, nil
}

// assemble builds the immutable result from the final context.
func (o *Orchestrator) assemble(sc model.StageContext) model.GeneratedContent {
	id, _ := model.GenerateID(model.IDTypeDocument)
	return model.GeneratedContent{
		ID:               id,
		Title:            sc.Title,
		Body:             sc.Draft,
		Headings:         sc.Outline,
		SemanticKeywords: sc.SemanticKeywords,
		Citations:        sc.Citations,
		SEO:              sc.SEO,
		WordCount:        len(strings.Fields(sc.Draft)),
		TokensUsed:       sc.TokensUsed,
		CostUSD:          sc.CostUSD,
		Quality:          sc.Quality,
	}
}

func draftPrompt(sc model.StageContext) provider.GenerationPrompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", sc.Title)
	fmt.Fprintf(&b, "Target length: %d words\n", sc.OptimalWordCount)
	b.WriteString("Outline:\n")
	for _, h := range sc.Outline {
		fmt.Fprintf(&b, "%s %s\n", strings.Repeat("#", h.Level), h.Text)
	}
	if len(sc.KeywordMetrics) > 0 {
		terms := make([]string, 0, len(sc.KeywordMetrics))
		for _, m := range sc.KeywordMetrics {
			terms = append(terms, m.Keyword)
		}
		fmt.Fprintf(&b, "Weave in naturally: %s\n", strings.Join(terms, ", "))
	}
	return provider.GenerationPrompt{
		System: fmt.Sprintf("You are a writer producing a complete article in markdown. Tone: %s.", sc.Request.Tone),
		User:   b.String(),
	}
}

var headingLine = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)

func parseOutline(text string) (string, []model.Heading) {
	var (
		title    string
		headings []model.Heading
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			headings = append(headings, model.Heading{Level: len(m[1]), Text: strings.TrimSpace(m[2])})
			continue
		}
		if title == "" {
			title = strings.TrimPrefix(line, "# ")
		}
	}
	return title, headings
}

func headingTexts(headings []model.Heading) []string {
	out := make([]string, 0, len(headings))
	for _, h := range headings {
		out = append(out, h.Text)
	}
	return out
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

func firstParagraph(text string) string {
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		return p
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a multi-byte
// rune, preferring the last word boundary before the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 {
		if r, size := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}
