package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/guideline"
	"github.com/crowdeval/mapseval/internal/model"
)

// Engine rates the top-ranked result of a maps search against the parsed
// guideline rules. It is a pure decision component: after construction it
// never errors across its public boundary; unparsable fields degrade to
// absent data and lower confidence.
type Engine struct {
	rules *guideline.Rules
}

// New builds an Engine from guideline rules. A nil ruleset is a
// configuration error; the engine must not run with an empty ruleset.
func New(rules *guideline.Rules) (*Engine, error) {
	if rules == nil {
		return nil, eris.New("engine: nil guideline rules")
	}
	if rules.Demotion.DistanceThresholdMiles <= 0 {
		return nil, eris.New("engine: distance threshold must be positive")
	}
	return &Engine{rules: rules}, nil
}

// NewFromContent parses raw guideline text and builds an Engine from it.
func NewFromContent(content string) (*Engine, error) {
	rules, err := guideline.Parse(content)
	if err != nil {
		return nil, err
	}
	return New(rules)
}

var distancePattern = regexp.MustCompile(`(\d+\.?\d*)\s*mi`)

// parseDistanceMiles extracts a mile figure from a free-text distance string
// such as "3.2 mi". The second return is false when no figure is present.
func parseDistanceMiles(distance string) (float64, bool) {
	if distance == "" {
		return 0, false
	}
	m := distancePattern.FindStringSubmatch(distance)
	if m == nil {
		return 0, false
	}
	var miles float64
	if _, err := fmt.Sscanf(m[1], "%f", &miles); err != nil {
		return 0, false
	}
	return miles, true
}

// EvaluateResults rates the top-ranked result for the given query. An empty
// result list is a defined terminal rating, not an error.
func (e *Engine) EvaluateResults(q model.QueryInfo, results []model.MapResult) model.RatingResult {
	zap.L().Info("engine: evaluating results",
		zap.String("query", q.Query),
		zap.Int("result_count", len(results)),
	)

	if len(results) == 0 {
		return model.RatingResult{
			Rating:         model.RatingNotRelevant,
			Confidence:     0.9,
			Reasoning:      "No results found",
			DemotionReason: "No results",
		}
	}

	intent := e.rules.IntentFor(q.Query)
	top := results[0]

	dataIssues := e.checkDataAccuracy(top)
	factors := e.checkDemotionFactors(top)
	base := e.baseRating(top, q, intent)
	final := applyDemotions(base, factors, dataIssues)

	return model.RatingResult{
		Rating:         final,
		Confidence:     confidence(final, factors),
		Reasoning:      reasoning(q, top, intent, factors),
		DemotionReason: demotionReason(factors, dataIssues),
		DataIssues:     dataIssues,
		UserIntent:     intent,
	}
}

// checkDataAccuracy flags defects in the top result's listed data.
func (e *Engine) checkDataAccuracy(r model.MapResult) []string {
	var issues []string

	if r.Name == "" || strings.EqualFold(r.Name, "unknown") {
		issues = append(issues, "Missing or unclear business name")
	}
	if len(r.Address) < e.rules.AddressMinLen {
		issues = append(issues, "Incomplete or missing address")
	}
	if r.Rating != nil && (*r.Rating < 1.0 || *r.Rating > 5.0) {
		issues = append(issues, "Invalid rating value")
	}
	if strings.Contains(strings.ToLower(r.Name), "permanently closed") {
		issues = append(issues, "Business appears permanently closed")
	}

	return issues
}

// checkDemotionFactors collects every factor that should pull the rating
// below its base value. All co-occurring factors are recorded, not just the
// first match.
func (e *Engine) checkDemotionFactors(r model.MapResult) []model.DemotionFactor {
	var factors []model.DemotionFactor

	if miles, ok := parseDistanceMiles(r.Distance); ok && miles > e.rules.Demotion.DistanceThresholdMiles {
		factors = append(factors, model.DemotionFactor{
			Type:        "distance",
			Severity:    model.SeverityMajor,
			Value:       miles,
			Description: fmt.Sprintf("Result is %g miles away", miles),
		})
	}

	if r.Rating != nil && *r.Rating < e.rules.Demotion.LowRatingThreshold {
		factors = append(factors, model.DemotionFactor{
			Type:        "low_rating",
			Severity:    model.SeverityMinor,
			Value:       *r.Rating,
			Description: fmt.Sprintf("Low rating: %g", *r.Rating),
		})
	}

	if r.ReviewsCount != nil && *r.ReviewsCount < e.rules.Demotion.MinReviews {
		factors = append(factors, model.DemotionFactor{
			Type:        "low_reviews",
			Severity:    model.SeverityMinor,
			Value:       float64(*r.ReviewsCount),
			Description: fmt.Sprintf("Very few reviews: %d", *r.ReviewsCount),
		})
	}

	return factors
}

// baseRating computes the pre-demotion rating for the top result.
func (e *Engine) baseRating(r model.MapResult, q model.QueryInfo, intent model.Intent) model.Rating {
	if intent == model.IntentNavigational {
		if isExactMatch(r.Name, q.Query) {
			return model.RatingExcellent
		}
		return model.RatingGood
	}

	if intent == model.IntentLocal {
		if miles, ok := parseDistanceMiles(r.Distance); ok {
			switch {
			case miles <= e.rules.Proximity.NearMiles:
				return model.RatingGood
			case miles <= e.rules.Proximity.MidMiles:
				return model.RatingFair
			default:
				return model.RatingPoor
			}
		}
		// Unparsable distance falls through to the category default.
	}

	if e.isCategoryMatch(r, q) {
		return model.RatingGood
	}
	return model.RatingFair
}

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// isExactMatch compares a result name to the query after stripping
// punctuation and case-folding both.
func isExactMatch(name, query string) bool {
	if name == "" || query == "" {
		return false
	}
	clean := func(s string) string {
		return strings.TrimSpace(nonWordPattern.ReplaceAllString(strings.ToLower(s), ""))
	}
	return clean(name) == clean(query)
}

// isCategoryMatch applies the guideline category keyword sets. Ambiguous
// queries that name no known category default to a match.
func (e *Engine) isCategoryMatch(r model.MapResult, q model.QueryInfo) bool {
	queryLower := strings.ToLower(q.Query)
	nameLower := strings.ToLower(r.Name)

	check := func(category string) bool {
		for _, kw := range e.rules.CategoryKeywords[category] {
			if strings.Contains(nameLower, kw) {
				return true
			}
		}
		return false
	}

	if strings.Contains(queryLower, "restaurant") || strings.Contains(queryLower, "food") {
		return check("restaurant")
	}
	if strings.Contains(queryLower, "gas") || strings.Contains(queryLower, "fuel") {
		return check("gas")
	}
	if strings.Contains(queryLower, "hotel") || strings.Contains(queryLower, "accommodation") {
		return check("hotel")
	}

	return true
}

// applyDemotions converts the base rating to its ordinal score, subtracts
// per-factor and per-issue penalties, and clamps the result back into the
// five-value scale.
func applyDemotions(base model.Rating, factors []model.DemotionFactor, dataIssues []string) model.Rating {
	score := base.Score()

	for _, f := range factors {
		switch f.Severity {
		case model.SeverityMajor:
			score -= 2
		case model.SeverityMinor:
			score -= 1
		}
	}

	for _, issue := range dataIssues {
		if strings.Contains(strings.ToLower(issue), "closed") {
			score -= 3
		} else {
			score -= 1
		}
	}

	return model.RatingFromScore(score)
}

// confidence starts at 0.8 and drops for ambiguous ratings and crowded
// demotion lists, clamped to [0.1, 1.0].
func confidence(rating model.Rating, factors []model.DemotionFactor) float64 {
	c := 0.8

	switch rating {
	case model.RatingFair:
		c -= 0.2
	case model.RatingPoor:
		c -= 0.1
	}

	if len(factors) > 2 {
		c -= 0.1
	}

	if c < 0.1 {
		c = 0.1
	}
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// demotionReason picks the single reported cause of a downgrade. Closure
// outranks everything; then the first major factor, the first factor of any
// severity, and finally the first data issue.
func demotionReason(factors []model.DemotionFactor, dataIssues []string) string {
	if len(factors) == 0 && len(dataIssues) == 0 {
		return ""
	}

	for _, issue := range dataIssues {
		if strings.Contains(strings.ToLower(issue), "closed") {
			return "Business permanently closed"
		}
	}

	for _, f := range factors {
		if f.Severity == model.SeverityMajor {
			return f.Description
		}
	}

	if len(factors) > 0 {
		return factors[0].Description
	}

	return dataIssues[0]
}

// reasoning builds the pipe-delimited audit trace for the decision.
func reasoning(q model.QueryInfo, r model.MapResult, intent model.Intent, factors []model.DemotionFactor) string {
	parts := []string{
		fmt.Sprintf("Query: '%s' - %s intent", q.Query, intent),
		fmt.Sprintf("Top result: %s", r.Name),
	}

	if r.Address != "" {
		parts = append(parts, fmt.Sprintf("Address: %s", r.Address))
	}
	if r.Rating != nil {
		parts = append(parts, fmt.Sprintf("Rating: %g/5", *r.Rating))
	}
	if r.Distance != "" {
		parts = append(parts, fmt.Sprintf("Distance: %s", r.Distance))
	}

	if len(factors) > 0 {
		parts = append(parts, "Demotion factors:")
		for _, f := range factors {
			parts = append(parts, fmt.Sprintf("- %s", f.Description))
		}
	}

	return strings.Join(parts, " | ")
}

// CorrectRating applies a single bounded nudge from QA feedback: one ordinal
// step down for rating_too_high, one step up for rating_too_low, confidence
// scaled by 0.8 either way. Callers apply at most one correction per task;
// repeated application would walk the rating away from its base value.
func (e *Engine) CorrectRating(result model.RatingResult, feedback model.ValidationFeedback) model.RatingResult {
	zap.L().Info("engine: correcting rating",
		zap.String("rating", string(result.Rating)),
		zap.Strings("issues", feedback.Issues),
	)

	if feedback.HasIssue("rating_too_high") {
		result.Rating = result.Rating.StepDown()
	}
	if feedback.HasIssue("rating_too_low") {
		result.Rating = result.Rating.StepUp()
	}

	result.Confidence *= 0.8

	reason := feedback.Reason
	if reason == "" {
		reason = "Unknown"
	}
	result.Reasoning += fmt.Sprintf(" | Corrected based on QA feedback: %s", reason)

	return result
}
