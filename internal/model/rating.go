package model

// Rating is the ordinal relevance rating assigned to a search result.
type Rating string

const (
	RatingExcellent   Rating = "excellent"
	RatingGood        Rating = "good"
	RatingFair        Rating = "fair"
	RatingPoor        Rating = "poor"
	RatingNotRelevant Rating = "not_relevant"
)

// ratingScores maps ratings to their ordinal scores. Higher is better.
var ratingScores = map[Rating]int{
	RatingExcellent:   4,
	RatingGood:        3,
	RatingFair:        2,
	RatingPoor:        1,
	RatingNotRelevant: 0,
}

var scoreRatings = map[int]Rating{
	4: RatingExcellent,
	3: RatingGood,
	2: RatingFair,
	1: RatingPoor,
	0: RatingNotRelevant,
}

// Score returns the ordinal score for the rating (4 for excellent down to
// 0 for not_relevant). Unknown ratings score as fair.
func (r Rating) Score() int {
	if s, ok := ratingScores[r]; ok {
		return s
	}
	return 2
}

// Valid reports whether r is one of the five known rating values.
func (r Rating) Valid() bool {
	_, ok := ratingScores[r]
	return ok
}

// RatingFromScore maps an ordinal score back to a rating, clamping the
// score to [0,4] first.
func RatingFromScore(score int) Rating {
	if score < 0 {
		score = 0
	}
	if score > 4 {
		score = 4
	}
	return scoreRatings[score]
}

// StepDown returns the rating one level below r, clamped at not_relevant.
func (r Rating) StepDown() Rating {
	return RatingFromScore(r.Score() - 1)
}

// StepUp returns the rating one level above r, clamped at excellent.
func (r Rating) StepUp() Rating {
	return RatingFromScore(r.Score() + 1)
}

// Intent classifies what the user was trying to accomplish with a query.
type Intent string

const (
	IntentNavigational  Intent = "navigational"
	IntentLocal         Intent = "local"
	IntentTransactional Intent = "transactional"
	IntentInformational Intent = "informational"
)

// Severity grades how strongly a demotion factor pulls a rating down.
type Severity string

const (
	SeverityMajor Severity = "major"
	SeverityMinor Severity = "minor"
)

// DemotionFactor is a single reason to pull a rating below its base value.
// Factors are produced and consumed within one evaluation.
type DemotionFactor struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Value       float64  `json:"value"`
	Description string   `json:"description"`
}

// RatingResult is the engine's decision for a single task.
type RatingResult struct {
	Rating         Rating   `json:"rating"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	DemotionReason string   `json:"demotion_reason,omitempty"`
	DataIssues     []string `json:"data_issues,omitempty"`
	UserIntent     Intent   `json:"user_intent,omitempty"`
}

// ValidationFeedback is the QA validator's verdict on a rating/comment pair.
type ValidationFeedback struct {
	Valid         bool     `json:"valid"`
	Issues        []string `json:"issues,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	SeverityScore int      `json:"severity_score"`
}

// HasIssue reports whether the feedback contains the named issue.
func (f ValidationFeedback) HasIssue(issue string) bool {
	for _, i := range f.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
