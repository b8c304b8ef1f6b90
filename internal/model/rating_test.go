package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatingScoreRoundTrip(t *testing.T) {
	for _, r := range []Rating{RatingExcellent, RatingGood, RatingFair, RatingPoor, RatingNotRelevant} {
		assert.Equal(t, r, RatingFromScore(r.Score()))
	}
}

func TestRatingFromScoreClamps(t *testing.T) {
	tests := []struct {
		name  string
		score int
		want  Rating
	}{
		{"far below floor", -7, RatingNotRelevant},
		{"at floor", 0, RatingNotRelevant},
		{"mid", 2, RatingFair},
		{"at ceiling", 4, RatingExcellent},
		{"above ceiling", 9, RatingExcellent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RatingFromScore(tt.score))
		})
	}
}

func TestRatingStepDownUp(t *testing.T) {
	assert.Equal(t, RatingGood, RatingExcellent.StepDown())
	assert.Equal(t, RatingNotRelevant, RatingNotRelevant.StepDown())
	assert.Equal(t, RatingExcellent, RatingExcellent.StepUp())
	assert.Equal(t, RatingPoor, RatingNotRelevant.StepUp())
}

func TestRatingValid(t *testing.T) {
	assert.True(t, RatingFair.Valid())
	assert.False(t, Rating("superb").Valid())
}

func TestValidationFeedbackHasIssue(t *testing.T) {
	fb := ValidationFeedback{Issues: []string{"rating_too_high", "rating_comment_mismatch"}}
	assert.True(t, fb.HasIssue("rating_too_high"))
	assert.False(t, fb.HasIssue("rating_too_low"))
}
