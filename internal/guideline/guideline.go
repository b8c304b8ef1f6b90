package guideline

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crowdeval/mapseval/internal/model"
)

// RelevanceLevel describes one rung of the rating scale as written in the
// guidelines. Navigational appears here as an intent label only; it is never
// produced as an output rating.
type RelevanceLevel struct {
	Score       int    `yaml:"score"`
	Description string `yaml:"description"`
}

// IntentCues holds the keyword sets used for intent classification, checked
// in precedence order: navigational, local, transactional, informational.
type IntentCues struct {
	Navigational  []string `yaml:"navigational"`
	Local         []string `yaml:"local"`
	Transactional []string `yaml:"transactional"`
	Informational []string `yaml:"informational"`
}

// Demotion holds the demotion criteria tables.
type Demotion struct {
	DistanceThresholdMiles float64           `yaml:"distance_threshold_miles"`
	LowRatingThreshold     float64           `yaml:"low_rating_threshold"`
	MinReviews             int               `yaml:"min_reviews"`
	DataAccuracy           map[string]string `yaml:"data_accuracy"`
	Closure                map[string]string `yaml:"closure"`
}

// Proximity holds the distance buckets for local-intent base ratings.
type Proximity struct {
	NearMiles float64 `yaml:"near_miles"`
	MidMiles  float64 `yaml:"mid_miles"`
}

// Viewport holds freshness standards for map viewport data.
type Viewport struct {
	AgeThresholdDays int    `yaml:"age_threshold_days"`
	UpdateFrequency  string `yaml:"update_frequency"`
}

// Rules is the parsed guideline configuration. It is built once per session
// and passed by reference into the rating engine; there is no process-wide
// singleton, so concurrent sessions may carry different guideline versions.
type Rules struct {
	RelevanceLevels  map[string]RelevanceLevel `yaml:"relevance_levels"`
	Intents          IntentCues                `yaml:"intents"`
	Demotion         Demotion                  `yaml:"demotion"`
	Proximity        Proximity                 `yaml:"proximity"`
	Viewport         Viewport                  `yaml:"viewport"`
	CategoryKeywords map[string][]string       `yaml:"category_keywords"`
	AddressMinLen    int                       `yaml:"address_min_len"`
}

// requiredSections are the guideline headings that must be present for the
// source text to be considered a usable ruleset.
var requiredSections = []string{"relevance", "demotion"}

// Parse validates the raw guideline text and builds the rule tables.
// Blank content or content missing the relevance/demotion sections is a
// configuration error: the engine must never run with an empty ruleset.
func Parse(content string) (*Rules, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, eris.New("guideline: empty content")
	}

	lower := strings.ToLower(trimmed)
	for _, section := range requiredSections {
		if !strings.Contains(lower, section) {
			return nil, eris.Errorf("guideline: missing %q section", section)
		}
	}

	rules := defaultRules()

	zap.L().Info("guideline: parsed",
		zap.Int("content_bytes", len(content)),
		zap.Int("relevance_levels", len(rules.RelevanceLevels)),
	)

	return rules, nil
}

// ParseFile reads and parses a guideline text file.
func ParseFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "guideline: read %s", path)
	}
	return Parse(string(data))
}

// ApplyOverrides layers a YAML override document over the parsed rules.
// Only fields present in the document replace their defaults.
func (r *Rules) ApplyOverrides(data []byte) error {
	if err := yaml.Unmarshal(data, r); err != nil {
		return eris.Wrap(err, "guideline: unmarshal overrides")
	}
	if r.Demotion.DistanceThresholdMiles <= 0 {
		return eris.New("guideline: distance threshold must be positive")
	}
	return nil
}

// ApplyOverridesFile reads a YAML override file and applies it.
func (r *Rules) ApplyOverridesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "guideline: read overrides %s", path)
	}
	return r.ApplyOverrides(data)
}

// DataAccuracySeverity returns the demotion severity string recorded for a
// data-accuracy defect, defaulting to minor for unknown defects.
func (r *Rules) DataAccuracySeverity(defect string) string {
	if s, ok := r.Demotion.DataAccuracy[defect]; ok {
		return s
	}
	return "minor"
}

func defaultRules() *Rules {
	return &Rules{
		RelevanceLevels: map[string]RelevanceLevel{
			"navigational": {Score: 5, Description: "Perfect match for user intent"},
			"excellent":    {Score: 4, Description: "Highly relevant and useful"},
			"good":         {Score: 3, Description: "Relevant with minor issues"},
			"fair":         {Score: 2, Description: "Somewhat relevant"},
			"poor":         {Score: 1, Description: "Barely relevant"},
			"not_relevant": {Score: 0, Description: "Not relevant to query"},
		},
		Intents: IntentCues{
			Navigational:  []string{"specific", "exact", "named"},
			Local:         []string{"near", "nearby", "closest", "around"},
			Transactional: []string{"buy", "purchase", "order", "book"},
			Informational: []string{"what", "how", "why", "when"},
		},
		Demotion: Demotion{
			DistanceThresholdMiles: 50,
			LowRatingThreshold:     3.0,
			MinReviews:             5,
			DataAccuracy: map[string]string{
				"name_mismatch":   "critical",
				"address_issues":  "major",
				"phone_incorrect": "minor",
				"hours_outdated":  "minor",
			},
			Closure: map[string]string{
				"permanently_closed": "critical",
				"temporarily_closed": "major",
				"suspicious_closure": "major",
			},
		},
		Proximity: Proximity{NearMiles: 5, MidMiles: 15},
		Viewport:  Viewport{AgeThresholdDays: 180, UpdateFrequency: "monthly"},
		CategoryKeywords: map[string][]string{
			"restaurant": {"restaurant", "cafe", "diner", "grill"},
			"gas":        {"gas", "fuel", "station", "shell", "bp"},
			"hotel":      {"hotel", "inn", "motel", "lodge"},
		},
		AddressMinLen: 10,
	}
}

// Default returns the built-in ruleset without requiring guideline text.
// Intended for tests and offline evaluation.
func Default() *Rules {
	return defaultRules()
}

// IntentFor classifies a query against the cue tables. The first matching
// cue set in precedence order wins; map searches default to local intent.
func (r *Rules) IntentFor(query string) model.Intent {
	q := strings.ToLower(query)

	for _, cue := range r.Intents.Navigational {
		if strings.Contains(q, cue) {
			return model.IntentNavigational
		}
	}
	for _, cue := range r.Intents.Local {
		if strings.Contains(q, cue) {
			return model.IntentLocal
		}
	}
	for _, cue := range r.Intents.Transactional {
		if strings.Contains(q, cue) {
			return model.IntentTransactional
		}
	}
	for _, cue := range r.Intents.Informational {
		if strings.Contains(q, cue) {
			return model.IntentInformational
		}
	}

	return model.IntentLocal
}
