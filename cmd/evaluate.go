package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/crowdeval/mapseval/internal/comment"
	"github.com/crowdeval/mapseval/internal/engine"
	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/perceive"
)

var (
	evaluateVerbose bool
	evaluateSeed    uint64
)

// evaluateOutput is the JSON shape printed for one offline evaluation.
type evaluateOutput struct {
	Query   model.QueryInfo       `json:"query"`
	Results []model.MapResult     `json:"results"`
	Rating  model.RatingResult    `json:"rating"`
	Comment string                `json:"comment,omitempty"`
	Trace   *engine.DecisionTrace `json:"trace,omitempty"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <screen-file>",
	Short: "Rate a screen dump without starting a session",
	Long:  "Extracts the query and results from a screen text file, runs the rating engine once, and prints the outcome as JSON. Nothing is persisted or throttled.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		reader := perceive.FileReader{Path: args[0]}
		obs, err := perceive.Observe(cmd.Context(), reader)
		if err != nil {
			return eris.Wrap(err, "read screen")
		}

		result := eng.EvaluateResults(obs.Query, obs.Results)

		gen := comment.NewGenerator(comment.WithSeed(evaluateSeed))
		gen.SkipChance = 0 // offline evaluation always gets a comment

		out := evaluateOutput{
			Query:   obs.Query,
			Results: obs.Results,
			Rating:  result,
			Comment: gen.Generate(&result),
		}
		if evaluateVerbose {
			trace := eng.DebugDecision(obs.Query, obs.Results)
			out.Trace = &trace
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	evaluateCmd.Flags().BoolVarP(&evaluateVerbose, "verbose", "v", false, "include the decision trace in the output")
	evaluateCmd.Flags().Uint64Var(&evaluateSeed, "seed", 1, "comment generator seed, for reproducible output")
	rootCmd.AddCommand(evaluateCmd)
}
