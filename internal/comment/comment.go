// Package comment produces evaluation comments for rated results. Wording
// is drawn from curated template pools so that repeated sessions do not
// submit identical text.
package comment

import (
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/model"
)

var ratingTemplates = map[model.Rating][]string{
	model.RatingExcellent: {
		"Perfect match for user intent, highly relevant.",
		"Excellent result that directly addresses the query.",
		"Top-quality match with accurate information.",
		"Outstanding result that fully satisfies user needs.",
	},
	model.RatingGood: {
		"Good result with minor issues that don't affect relevance.",
		"Solid match with mostly accurate information.",
		"Relevant result with good data quality.",
		"Strong match for the user's search intent.",
	},
	model.RatingFair: {
		"Somewhat relevant but has notable limitations.",
		"Adequate result with some concerns about accuracy.",
		"Moderate relevance with distance or data issues.",
		"Acceptable match but not ideal for user intent.",
	},
	model.RatingPoor: {
		"Limited relevance with significant issues.",
		"Poor match due to distance or data problems.",
		"Weak result that doesn't serve the user well.",
		"Poor quality result with accuracy issues.",
	},
	model.RatingNotRelevant: {
		"Not relevant to the search query.",
		"Fails to match user intent or location needs.",
		"No connection to the search query.",
		"Not useful for the user's search intent.",
	},
}

// issueTemplates key on the coarse issue class behind a demotion.
var issueTemplates = map[string][]string{
	"distance": {
		"Result is too far from user location.",
		"Distance makes this result less useful.",
		"Too far to be practically relevant.",
	},
	"closed": {
		"Business appears to be permanently closed.",
		"Closed business reduces result usefulness.",
		"Business closure affects relevance negatively.",
	},
	"data_accuracy": {
		"Data accuracy issues affect result quality.",
		"Information appears outdated or incorrect.",
		"Data inconsistencies noted in the result.",
	},
	"low_rating": {
		"Low customer rating affects result quality.",
		"Rating suggests potential quality issues.",
		"Customer feedback indicates concerns.",
	},
	"few_reviews": {
		"Limited review data available.",
		"Few customer reviews to assess quality.",
		"Insufficient feedback for quality evaluation.",
	},
}

var intentTemplates = map[model.Intent][]string{
	model.IntentNavigational: {
		"Strong match for specific business search.",
		"Direct match for named business query.",
	},
	model.IntentLocal: {
		"Good local search result.",
		"Appropriate for location-based query.",
	},
	model.IntentInformational: {
		"Provides useful information for the query.",
		"Helpful informational content.",
	},
	model.IntentTransactional: {
		"Supports user's transaction intent.",
		"Appropriate for transaction purpose.",
	},
}

// Generator builds comments with a private RNG so output is reproducible in
// tests and the simulator.
type Generator struct {
	rng *rand.Rand

	// SkipChance is the probability a task is submitted without a comment.
	SkipChance float64
}

type Option func(*Generator)

func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		SkipChance: 0.3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds a comment for a rating result. Some tasks legitimately go
// out without a comment; callers get "" for those.
func (g *Generator) Generate(result *model.RatingResult) string {
	if g.rng.Float64() < g.SkipChance {
		return ""
	}

	parts := []string{g.pick(ratingTemplates[result.Rating])}

	if result.DemotionReason != "" {
		if pool, ok := issueTemplates[classifyIssue(result.DemotionReason)]; ok {
			parts = append(parts, g.pick(pool))
		}
	} else if len(result.DataIssues) > 0 {
		parts = append(parts, g.pick(issueTemplates["data_accuracy"]))
	} else if pool, ok := intentTemplates[result.UserIntent]; ok && g.rng.Float64() < 0.5 {
		parts = append(parts, g.pick(pool))
	}

	comment := postProcess(strings.Join(parts, " "))
	zap.L().Debug("comment: generated", zap.String("rating", string(result.Rating)))
	return comment
}

// DemotionComment builds a standalone comment for a demotion reason.
func (g *Generator) DemotionComment(reason string, severity model.Severity) string {
	pool, ok := issueTemplates[classifyIssue(reason)]
	if !ok {
		return "Result has issues that affect relevance."
	}
	base := g.pick(pool)
	if severity == model.SeverityMajor {
		base = "Significant issue: " + base
	}
	return base
}

func (g *Generator) pick(pool []string) string {
	if len(pool) == 0 {
		return "Standard result evaluation completed."
	}
	return pool[g.rng.IntN(len(pool))]
}

// classifyIssue maps a free-text demotion reason onto a template pool key.
func classifyIssue(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "closed") || strings.Contains(lower, "closure"):
		return "closed"
	case strings.Contains(lower, "distance") || strings.Contains(lower, "miles") || strings.Contains(lower, "far"):
		return "distance"
	case strings.Contains(lower, "rating") && strings.Contains(lower, "low"):
		return "low_rating"
	case strings.Contains(lower, "review"):
		return "few_reviews"
	default:
		return "data_accuracy"
	}
}

// postProcess trims overlong comments and normalizes casing and the final
// period.
func postProcess(comment string) string {
	if len(comment) > 200 {
		sentences := strings.SplitAfterN(comment, ".", 3)
		if len(sentences) >= 2 {
			comment = strings.TrimSpace(sentences[0] + sentences[1])
		}
	}

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return comment
	}
	comment = strings.ToUpper(comment[:1]) + comment[1:]
	if !strings.HasSuffix(comment, ".") {
		comment += "."
	}
	return comment
}
