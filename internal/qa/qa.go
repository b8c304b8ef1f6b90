// Package qa cross-checks ratings against their submitted comments and
// keeps a history of validation outcomes for audit.
package qa

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/model"
)

// negativeWords flag a tonal mismatch when they appear under a positive
// rating.
var negativeWords = []string{"poor", "bad", "terrible", "awful"}

var positiveWords = []string{"excellent", "great", "perfect", "outstanding"}

// HistoryEntry records one validation outcome.
type HistoryEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Rating    model.Rating `json:"rating"`
	Comment   string       `json:"comment"`
	Valid     bool         `json:"valid"`
}

// Validator checks rating results for internal consistency before they are
// submitted.
type Validator struct {
	mu      sync.Mutex
	history []HistoryEntry
	clock   func() time.Time
}

func NewValidator() *Validator {
	return &Validator{clock: time.Now}
}

// ValidateRatingComment checks that the comment's tone is consistent with
// the rating. A positive rating paired with negative language is flagged as
// a mismatch.
func (v *Validator) ValidateRatingComment(result *model.RatingResult, comment string) model.ValidationFeedback {
	fb := model.ValidationFeedback{Valid: true}

	if (result.Rating == model.RatingExcellent || result.Rating == model.RatingGood) && comment != "" {
		lower := strings.ToLower(comment)
		for _, word := range negativeWords {
			if strings.Contains(lower, word) {
				fb.Valid = false
				fb.Issues = append(fb.Issues, "rating_comment_mismatch")
				fb.Reason = "Positive rating with negative comment"
				fb.SeverityScore += 2
				break
			}
		}
	}

	v.mu.Lock()
	v.history = append(v.history, HistoryEntry{
		Timestamp: v.clock(),
		Rating:    result.Rating,
		Comment:   comment,
		Valid:     fb.Valid,
	})
	v.mu.Unlock()

	if !fb.Valid {
		zap.L().Warn("qa: validation failed",
			zap.String("rating", string(result.Rating)),
			zap.Strings("issues", fb.Issues),
		)
	}

	return fb
}

// ValidateCommentTone checks a raw comment against a rating without touching
// the history, for pre-submission linting.
func ValidateCommentTone(comment string, rating model.Rating) model.ValidationFeedback {
	fb := model.ValidationFeedback{Valid: true}
	lower := strings.ToLower(comment)

	switch rating {
	case model.RatingExcellent, model.RatingGood:
		for _, word := range negativeWords {
			if strings.Contains(lower, word) {
				fb.Valid = false
				fb.Issues = append(fb.Issues, "negative tone for positive rating")
				break
			}
		}
	case model.RatingPoor, model.RatingNotRelevant:
		for _, word := range positiveWords {
			if strings.Contains(lower, word) {
				fb.Valid = false
				fb.Issues = append(fb.Issues, "positive tone for negative rating")
				break
			}
		}
	}

	if strings.TrimSpace(comment) == "" {
		fb.Valid = false
		fb.Issues = append(fb.Issues, "empty comment")
	} else if len(comment) < 10 {
		fb.Issues = append(fb.Issues, "comment too short")
	} else if len(comment) > 300 {
		fb.Issues = append(fb.Issues, "comment too long")
	}

	return fb
}

// SuggestImprovements returns advisory notes for a rating/comment pair.
func (v *Validator) SuggestImprovements(result *model.RatingResult, comment string) []string {
	var suggestions []string

	if result.Rating == model.RatingExcellent && result.Confidence < 0.9 {
		suggestions = append(suggestions, "Consider stronger justification for excellent rating")
	}
	if comment == "" && (result.Rating == model.RatingPoor || result.Rating == model.RatingNotRelevant) {
		suggestions = append(suggestions, "Add explanatory comment for low rating")
	}

	return suggestions
}

// History returns a copy of the validation history.
func (v *Validator) History() []HistoryEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]HistoryEntry, len(v.history))
	copy(out, v.history)
	return out
}
