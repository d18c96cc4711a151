package score

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/contentforge/contentforge/internal/model"
)

// document holds the pre-computed text features shared by the
// dimension evaluators so the body is tokenized once.
type document struct {
	body       string
	lower      string
	paragraphs []string
	sentences  []string
	words      []string
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s`)

func analyze(content model.GeneratedContent) document {
	body := content.Body
	doc := document{
		body:  body,
		lower: strings.ToLower(body),
		words: strings.Fields(body),
	}
	for _, p := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(p) != "" {
			doc.paragraphs = append(doc.paragraphs, strings.TrimSpace(p))
		}
	}
	for _, s := range sentenceSplit.Split(body, -1) {
		if strings.TrimSpace(s) != "" {
			doc.sentences = append(doc.sentences, strings.TrimSpace(s))
		}
	}
	return doc
}

// scoreReadability grades sentence/paragraph length distribution plus a
// syllable-based ease heuristic in the Flesch tradition.
func scoreReadability(doc document) float64 {
	if len(doc.words) == 0 || len(doc.sentences) == 0 {
		return 0
	}

	wordsPerSentence := float64(len(doc.words)) / float64(len(doc.sentences))
	syllables := 0
	for _, w := range doc.words {
		syllables += countSyllables(w)
	}
	syllablesPerWord := float64(syllables) / float64(len(doc.words))

	// Flesch reading ease, clamped into [0,100].
	ease := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	ease = clamp(ease, 0, 100)

	// Penalize walls of text: paragraphs beyond 150 words cost points.
	longParagraphs := 0
	for _, p := range doc.paragraphs {
		if len(strings.Fields(p)) > 150 {
			longParagraphs++
		}
	}
	penalty := float64(longParagraphs) * 5

	return clamp(ease-penalty, 0, 100)
}

// scoreSEO grades title and meta description presence/length, heading
// coverage, and focus-keyword density inside a target band.
func scoreSEO(content model.GeneratedContent, doc document) float64 {
	var points float64

	titleLen := len(content.SEO.MetaTitle)
	switch {
	case titleLen >= 30 && titleLen <= 60:
		points += 25
	case titleLen > 0:
		points += 12
	}

	descLen := len(content.SEO.MetaDescription)
	switch {
	case descLen >= 120 && descLen <= 160:
		points += 25
	case descLen > 0:
		points += 12
	}

	if len(content.Headings) >= 3 {
		points += 20
	} else if len(content.Headings) > 0 {
		points += 10
	}

	// Keyword density target band: 0.5%–2.5%.
	if content.SEO.FocusKeyword != "" && len(doc.words) > 0 {
		occurrences := strings.Count(doc.lower, strings.ToLower(content.SEO.FocusKeyword))
		density := float64(occurrences) / float64(len(doc.words)) * 100
		switch {
		case density >= 0.5 && density <= 2.5:
			points += 30
		case density > 0:
			points += 15
		}
	}

	return clamp(points, 0, 100)
}

// scoreStructure grades paragraph length variance, list usage and
// heading hierarchy correctness.
func scoreStructure(content model.GeneratedContent, doc document) float64 {
	if len(doc.paragraphs) == 0 {
		return 0
	}
	var points float64 = 20

	// Paragraph length variety: distinct short/medium/long buckets.
	buckets := map[string]bool{}
	for _, p := range doc.paragraphs {
		n := len(strings.Fields(p))
		switch {
		case n < 40:
			buckets["short"] = true
		case n < 100:
			buckets["medium"] = true
		default:
			buckets["long"] = true
		}
	}
	points += float64(len(buckets)) * 10

	if strings.Contains(doc.body, "\n- ") || strings.Contains(doc.body, "\n* ") ||
		regexp.MustCompile(`\n\d+\. `).MatchString(doc.body) {
		points += 20
	}

	// Heading hierarchy: levels never skip downward by more than one.
	orderly := len(content.Headings) > 0
	prev := 0
	for _, h := range content.Headings {
		if prev != 0 && h.Level > prev+1 {
			orderly = false
			break
		}
		prev = h.Level
	}
	if orderly {
		points += 30
	}

	return clamp(points, 0, 100)
}

var claimMarkers = []string{
	"according to", "study", "research", "survey", "report",
	"data show", "statistics", "%", "percent",
}

// scoreFactual grades citation count and the density of verifiable
// claim markers.
func scoreFactual(content model.GeneratedContent, doc document) float64 {
	var points float64

	citations := len(content.Citations)
	switch {
	case citations >= 3:
		points += 50
	case citations > 0:
		points += float64(citations) * 15
	}

	markers := 0
	for _, m := range claimMarkers {
		markers += strings.Count(doc.lower, m)
	}
	if len(doc.sentences) > 0 {
		perSentence := float64(markers) / float64(len(doc.sentences))
		points += clamp(perSentence*200, 0, 50)
	}

	return clamp(points, 0, 100)
}

var boilerplatePhrases = []string{
	"in today's fast-paced world",
	"in this article",
	"it goes without saying",
	"at the end of the day",
	"needless to say",
	"in conclusion",
	"when it comes to",
	"it is important to note",
}

// scoreUniqueness penalizes generic boilerplate phrases and repeated
// 4-gram sequences.
func scoreUniqueness(doc document) float64 {
	if len(doc.words) == 0 {
		return 0
	}
	points := 100.0

	for _, phrase := range boilerplatePhrases {
		points -= float64(strings.Count(doc.lower, phrase)) * 8
	}

	// Repeated 4-grams indicate copy-paste or model loops.
	const n = 4
	if len(doc.words) >= n {
		seen := make(map[string]int)
		for i := 0; i+n <= len(doc.words); i++ {
			gram := strings.ToLower(strings.Join(doc.words[i:i+n], " "))
			seen[gram]++
		}
		repeats := 0
		for _, count := range seen {
			if count > 1 {
				repeats += count - 1
			}
		}
		points -= clamp(float64(repeats)/float64(len(doc.words))*400, 0, 40)
	}

	return clamp(points, 0, 100)
}

var ctaMarkers = []string{
	"learn more", "get started", "try it", "sign up", "find out",
	"check out", "download", "subscribe",
}

var exampleMarkers = []string{
	"for example", "for instance", "such as", "e.g.", "consider",
}

// scoreEngagement grades questions, calls-to-action and concrete
// examples.
func scoreEngagement(doc document) float64 {
	var points float64

	questions := strings.Count(doc.body, "?")
	points += clamp(float64(questions)*10, 0, 35)

	for _, m := range ctaMarkers {
		if strings.Contains(doc.lower, m) {
			points += 15
			break
		}
	}

	examples := 0
	for _, m := range exampleMarkers {
		examples += strings.Count(doc.lower, m)
	}
	points += clamp(float64(examples)*12, 0, 35)

	if len(doc.paragraphs) > 0 && len(strings.Fields(doc.paragraphs[0])) <= 60 {
		// A short opening paragraph hooks readers.
		points += 15
	}

	return clamp(points, 0, 100)
}

var experienceMarkers = []string{
	"in my experience", "we tested", "i found", "we found",
	"our analysis", "hands-on",
}

// scoreAccessibility grades heading-hierarchy completeness, alt-text
// presence on images and first-person experience markers (E-E-A-T).
func scoreAccessibility(content model.GeneratedContent, doc document) float64 {
	var points float64

	hasH2 := false
	for _, h := range content.Headings {
		if h.Level == 2 {
			hasH2 = true
			break
		}
	}
	if hasH2 {
		points += 35
	}

	images := strings.Count(doc.body, "![")
	if images == 0 {
		points += 30 // nothing to caption
	} else {
		withAlt := len(regexp.MustCompile(`!\[[^\]]+\]`).FindAllString(doc.body, -1))
		points += 30 * float64(withAlt) / float64(images)
	}

	for _, m := range experienceMarkers {
		if strings.Contains(doc.lower, m) {
			points += 35
			break
		}
	}

	return clamp(points, 0, 100)
}

func recommendations(content model.GeneratedContent, doc document, dims map[string]float64) []string {
	var recs []string
	if dims[model.DimensionReadability] < 70 {
		recs = append(recs, "shorten long sentences and break up dense paragraphs")
	}
	if dims[model.DimensionSEO] < 70 {
		if len(content.SEO.MetaDescription) < 120 {
			recs = append(recs, "expand the meta description to 120-160 characters")
		} else {
			recs = append(recs, "tune focus keyword density toward the 0.5%-2.5% band")
		}
	}
	if dims[model.DimensionFactual] < 70 && len(content.Citations) < 3 {
		recs = append(recs, fmt.Sprintf("add citations: only %d attached", len(content.Citations)))
	}
	if dims[model.DimensionEngagement] < 70 {
		recs = append(recs, "add a question or concrete example to draw readers in")
	}
	if len(doc.paragraphs) < 3 {
		recs = append(recs, "structure the body into more paragraphs")
	}
	return recs
}

// countSyllables estimates syllables by counting vowel groups.
func countSyllables(word string) int {
	word = strings.ToLower(strings.Trim(word, ".,!?;:\"'()"))
	if word == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, r := range word {
		isVowel := strings.ContainsRune("aeiouy", r)
		if isVowel && !prevVowel {
			count++
		}
		prevVowel = isVowel
	}
	if strings.HasSuffix(word, "e") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}
