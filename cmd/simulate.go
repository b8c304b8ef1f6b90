package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crowdeval/mapseval/internal/comment"
	"github.com/crowdeval/mapseval/internal/perceive"
	"github.com/crowdeval/mapseval/internal/qa"
	"github.com/crowdeval/mapseval/internal/session"
	"github.com/crowdeval/mapseval/internal/store"
	"github.com/crowdeval/mapseval/internal/throttle"
)

// simulateScreen is the canned result screen rated during simulation runs.
const simulateScreen = `Showing results for "coffee shop near me"

Corner Coffee
200 Oak St
4.5★ (120)
1.8 mi

Bean Counter Cafe
14 Main St
4.1★ (64)
3.5 mi

Roadside Grill
88 Highway Ave
3.9★ (45)
12.4 mi
`

var (
	simulateSessions int
	simulateTasks    int
	simulateFast     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run concurrent sessions against a canned screen",
	Long:  "Spins up N independent sessions, each with its own pacer, rating a fixed result screen. Useful for exercising pacing behavior and the store under concurrency.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := buildEngine()
		if err != nil {
			return err
		}

		zap.L().Info("simulation starting",
			zap.Int("sessions", simulateSessions),
			zap.Int("tasks_per_session", simulateTasks),
			zap.Bool("fast", simulateFast),
		)

		g, ctx := errgroup.WithContext(ctx)
		runners := make([]*session.Runner, simulateSessions)

		for i := 0; i < simulateSessions; i++ {
			gen := comment.NewGenerator(comment.WithSeed(uint64(i + 1)))
			gen.SkipChance = cfg.Comment.SkipChance

			runner := session.New(
				simulateThrottler(uint64(i+1)),
				eng,
				perceive.StaticReader{Text: simulateScreen},
				gen,
				qa.NewValidator(),
				st,
				nil,
				session.Options{
					PollInterval: simulatePollInterval(),
					MaxTasks:     simulateTasks,
					TargetRate:   cfg.Throttle.TargetPerHour,
				},
			)
			runners[i] = runner
			g.Go(func() error { return runner.Run(ctx) })
		}

		if err := g.Wait(); err != nil {
			zap.L().Info("simulation interrupted", zap.Error(err))
		}

		return printSimulationSummary(cmd, st, runners)
	},
}

// simulateThrottler builds a per-session pacer. Fast mode collapses all
// delays to milliseconds so a simulation finishes in seconds.
func simulateThrottler(seed uint64) *throttle.Throttler {
	if !simulateFast {
		return buildThrottler()
	}
	return throttle.New(throttle.Config{
		TargetPerHour: cfg.Throttle.TargetPerHour,
		Variance:      cfg.Throttle.Variance,
		BreakAfterMin: cfg.Throttle.BreakAfterMin,
		BreakAfterMax: cfg.Throttle.BreakAfterMax,
		BreakMin:      10 * time.Millisecond,
		BreakMax:      20 * time.Millisecond,
		IntervalFloor: time.Millisecond,
		IntervalCeil:  10 * time.Millisecond,
		Jitter:        time.Millisecond,
	}, throttle.WithSeed(seed))
}

func simulatePollInterval() time.Duration {
	if simulateFast {
		return 2 * time.Millisecond
	}
	return time.Duration(cfg.Session.PollIntervalSecs) * time.Second
}

func printSimulationSummary(cmd *cobra.Command, st store.Store, runners []*session.Runner) error {
	type sessionSummary struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Tasks     int    `json:"tasks"`
	}

	summaries := make([]sessionSummary, 0, len(runners))
	for _, r := range runners {
		sess := r.Session()
		if sess == nil {
			continue
		}
		final, err := st.GetSession(cmd.Context(), sess.ID)
		if err != nil {
			return eris.Wrap(err, "load session")
		}
		summaries = append(summaries, sessionSummary{
			SessionID: final.ID,
			Status:    string(final.Status),
			Tasks:     final.TasksLogged,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

func init() {
	simulateCmd.Flags().IntVar(&simulateSessions, "sessions", 3, "number of concurrent sessions")
	simulateCmd.Flags().IntVar(&simulateTasks, "tasks", 10, "tasks per session")
	simulateCmd.Flags().BoolVar(&simulateFast, "fast", true, "collapse pacing delays to milliseconds")
	rootCmd.AddCommand(simulateCmd)
}
