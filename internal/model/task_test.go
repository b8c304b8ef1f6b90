package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskRecord(t *testing.T) {
	ts := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	q := QueryInfo{Query: "coffee near me", SearchType: SearchTypeRestaurant}
	r := RatingResult{
		Rating:         RatingFair,
		DemotionReason: "Distance: 62.0 miles from user",
		Confidence:     0.7,
		UserIntent:     IntentLocal,
		DataIssues:     []string{"Business appears to be permanently closed", "Suspiciously low review count"},
		Reasoning:      "demoted for distance",
	}

	rec := NewTaskRecord("t1", "s1", ts, q, r, "Too far to be practically relevant.", 90*time.Second)

	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "coffee near me", rec.Query)
	assert.Equal(t, RatingFair, rec.Rating)
	assert.Equal(t, IntentLocal, rec.Intent)
	assert.Equal(t, 90*time.Second, rec.Duration)
	assert.InDelta(t, 90.0, rec.DurationSecs, 0.001)
	assert.Equal(t, "Business appears to be permanently closed; Suspiciously low review count", rec.DataIssues)
}

func TestNewTaskRecordNoIssues(t *testing.T) {
	rec := NewTaskRecord("t2", "s1", time.Now(), QueryInfo{Query: "q"}, RatingResult{Rating: RatingGood}, "", 0)
	assert.Empty(t, rec.DataIssues)
	assert.Zero(t, rec.DurationSecs)
}
