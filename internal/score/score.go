// Package score implements the deterministic quality scoring engine.
// Scoring is a pure function of the finished document and its metadata;
// identical input always yields identical output, and no network calls
// are made.
package score

import (
	"fmt"
	"sort"

	"github.com/contentforge/contentforge/internal/model"
)

// Options selects the optional dimensions.
type Options struct {
	// Accessibility enables the accessibility/E-E-A-T dimension.
	Accessibility bool
}

// Fixed per-dimension weights. When the optional accessibility
// dimension is absent the remaining weights are renormalized to sum
// to 1.
var dimensionWeights = map[string]float64{
	model.DimensionReadability:   0.20,
	model.DimensionSEO:           0.25,
	model.DimensionStructure:     0.20,
	model.DimensionFactual:       0.15,
	model.DimensionUniqueness:    0.10,
	model.DimensionEngagement:    0.10,
	model.DimensionAccessibility: 0.10,
}

// criticalThreshold marks a dimension as a critical issue when its
// score falls below it.
const criticalThreshold = 50.0

// Score evaluates the finished content across all quality dimensions
// and combines them into a weighted overall score in [0,100].
func Score(content model.GeneratedContent, opts Options) model.QualityScore {
	doc := analyze(content)

	dims := map[string]float64{
		model.DimensionReadability: scoreReadability(doc),
		model.DimensionSEO:         scoreSEO(content, doc),
		model.DimensionStructure:   scoreStructure(content, doc),
		model.DimensionFactual:     scoreFactual(content, doc),
		model.DimensionUniqueness:  scoreUniqueness(doc),
		model.DimensionEngagement:  scoreEngagement(doc),
	}
	if opts.Accessibility {
		dims[model.DimensionAccessibility] = scoreAccessibility(content, doc)
	}

	var overall, totalWeight float64
	for name, value := range dims {
		weight := dimensionWeights[name]
		overall += value * weight
		totalWeight += weight
	}
	if totalWeight > 0 {
		overall /= totalWeight
	}

	result := model.QualityScore{
		Overall:    clamp(overall, 0, 100),
		Dimensions: dims,
	}

	// Deterministic iteration order for issues and recommendations.
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if dims[name] < criticalThreshold {
			result.CriticalIssues = append(result.CriticalIssues,
				fmt.Sprintf("%s score %.0f is below threshold %.0f", name, dims[name], criticalThreshold))
		}
	}
	result.Recommendations = recommendations(content, doc, dims)

	return result
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
