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

	"github.com/crowdeval/mapseval/internal/comment"
	"github.com/crowdeval/mapseval/internal/monitoring"
	"github.com/crowdeval/mapseval/internal/perceive"
	"github.com/crowdeval/mapseval/internal/qa"
	"github.com/crowdeval/mapseval/internal/session"
	"github.com/crowdeval/mapseval/internal/tasklog"
)

var (
	runScreenFile string
	runMaxTasks   int
	runMonitor    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an evaluation session",
	Long:  "Starts the throttled evaluation loop: perceive the screen, rate, validate, comment, persist. Stops on SIGINT/SIGTERM or after --max-tasks.",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		screenPath := runScreenFile
		if screenPath == "" {
			screenPath = cfg.Perceive.Path
		}
		reader, err := perceive.NewReader(cfg.Perceive.Provider, screenPath)
		if err != nil {
			return eris.Wrap(err, "init screen reader")
		}

		var logger *tasklog.Logger
		if cfg.TaskLog.Path != "" {
			logger, err = tasklog.Open(cfg.TaskLog.Path)
			if err != nil {
				return eris.Wrap(err, "open ratings log")
			}
			defer logger.Close()
		}

		gen := comment.NewGenerator()
		gen.SkipChance = cfg.Comment.SkipChance

		maxTasks := runMaxTasks
		if maxTasks == 0 {
			maxTasks = cfg.Session.MaxTasks
		}

		runner := session.New(
			buildThrottler(),
			eng,
			reader,
			gen,
			qa.NewValidator(),
			st,
			logger,
			session.Options{
				PollInterval: time.Duration(cfg.Session.PollIntervalSecs) * time.Second,
				MaxTasks:     maxTasks,
				TargetRate:   cfg.Throttle.TargetPerHour,
			},
		)

		if runMonitor {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		if err := runner.Run(ctx); err != nil {
			zap.L().Info("session interrupted", zap.Error(err))
		}

		sess := runner.Session()
		if sess == nil {
			return eris.New("session never started")
		}

		final, err := st.GetSession(cmd.Context(), sess.ID)
		if err != nil {
			return eris.Wrap(err, "load final session")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

func init() {
	runCmd.Flags().StringVar(&runScreenFile, "screen-file", "", "screen dump file to evaluate (default from config)")
	runCmd.Flags().IntVar(&runMaxTasks, "max-tasks", 0, "stop after this many tasks (0 = run until interrupted)")
	runCmd.Flags().BoolVar(&runMonitor, "monitor", false, "run background alert checks during the session")
	rootCmd.AddCommand(runCmd)
}
