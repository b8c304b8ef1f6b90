package engine

import (
	"github.com/crowdeval/mapseval/internal/model"
)

// DecisionTrace exposes the intermediate stages of an evaluation for
// inspection, without committing to a final rating.
type DecisionTrace struct {
	Intent          model.Intent           `json:"intent"`
	DataIssues      []string               `json:"data_issues,omitempty"`
	DemotionFactors []model.DemotionFactor `json:"demotion_factors,omitempty"`
	BaseRating      model.Rating           `json:"base_rating,omitempty"`
	FinalRating     model.Rating           `json:"final_rating,omitempty"`
}

// DebugDecision runs the evaluation pipeline and returns each intermediate
// stage. Used by the evaluate command's verbose mode.
func (e *Engine) DebugDecision(q model.QueryInfo, results []model.MapResult) DecisionTrace {
	trace := DecisionTrace{Intent: e.rules.IntentFor(q.Query)}

	if len(results) == 0 {
		trace.FinalRating = model.RatingNotRelevant
		return trace
	}

	top := results[0]
	trace.DataIssues = e.checkDataAccuracy(top)
	trace.DemotionFactors = e.checkDemotionFactors(top)
	trace.BaseRating = e.baseRating(top, q, trace.Intent)
	trace.FinalRating = applyDemotions(trace.BaseRating, trace.DemotionFactors, trace.DataIssues)

	return trace
}
