package comment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/qa"
)

func newDeterministicGenerator(skip float64) *Generator {
	g := NewGenerator(WithSeed(42))
	g.SkipChance = skip
	return g
}

func TestGenerateMatchesRatingTone(t *testing.T) {
	g := newDeterministicGenerator(0)

	for _, rating := range []model.Rating{
		model.RatingExcellent, model.RatingGood, model.RatingFair,
		model.RatingPoor, model.RatingNotRelevant,
	} {
		result := &model.RatingResult{Rating: rating, UserIntent: model.IntentLocal}
		for i := 0; i < 20; i++ {
			c := g.Generate(result)
			require.NotEmpty(t, c)
			assert.True(t, strings.HasSuffix(c, "."), "comment %q", c)
			fb := qa.ValidateCommentTone(c, rating)
			assert.True(t, fb.Valid, "rating %s comment %q issues %v", rating, c, fb.Issues)
		}
	}
}

func TestGenerateSkipChance(t *testing.T) {
	g := newDeterministicGenerator(1)
	assert.Empty(t, g.Generate(&model.RatingResult{Rating: model.RatingGood}))

	g = newDeterministicGenerator(0)
	assert.NotEmpty(t, g.Generate(&model.RatingResult{Rating: model.RatingGood}))
}

func TestGenerateMentionsDemotionClass(t *testing.T) {
	g := newDeterministicGenerator(0)
	result := &model.RatingResult{
		Rating:         model.RatingPoor,
		DemotionReason: "Result is 62 miles away",
	}

	c := g.Generate(result)
	found := false
	for _, tmpl := range issueTemplates["distance"] {
		if strings.Contains(c, strings.TrimSuffix(tmpl, ".")) {
			found = true
		}
	}
	assert.True(t, found, "comment %q lacks a distance remark", c)
}

func TestClassifyIssue(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"Business permanently closed", "closed"},
		{"Result is 62 miles away", "distance"},
		{"Low rating: 2.1", "low_rating"},
		{"Very few reviews: 3", "few_reviews"},
		{"Address looks incomplete", "data_accuracy"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyIssue(tt.reason))
		})
	}
}

func TestDemotionComment(t *testing.T) {
	g := newDeterministicGenerator(0)

	c := g.DemotionComment("Result is 62 miles away", model.SeverityMajor)
	assert.True(t, strings.HasPrefix(c, "Significant issue: "), c)

	minor := g.DemotionComment("Low rating: 2.5", model.SeverityMinor)
	assert.False(t, strings.HasPrefix(minor, "Significant issue: "), minor)
}

func TestPostProcess(t *testing.T) {
	assert.Equal(t, "Lower cased start.", postProcess("lower cased start"))
	assert.Equal(t, "", postProcess("   "))

	long := strings.Repeat("A sentence that keeps going for a while. ", 10)
	trimmed := postProcess(long)
	assert.LessOrEqual(t, len(trimmed), 200)
	assert.True(t, strings.HasSuffix(trimmed, "."))
}
