package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/engine"
	"github.com/crowdeval/mapseval/internal/guideline"
	"github.com/crowdeval/mapseval/internal/store"
	"github.com/crowdeval/mapseval/internal/throttle"
)

// initStore opens the configured store and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildEngine loads guideline rules from the configured path, falling back
// to the built-in defaults when no file is present.
func buildEngine() (*engine.Engine, error) {
	rules := guideline.Default()

	if path := cfg.Engine.GuidelinesPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			rules, err = guideline.ParseFile(path)
			if err != nil {
				return nil, eris.Wrap(err, "parse guidelines")
			}
			zap.L().Info("guidelines loaded", zap.String("path", path))
		} else {
			zap.L().Info("guidelines file not found, using defaults", zap.String("path", path))
		}
	}

	if path := cfg.Engine.OverridesPath; path != "" {
		if err := rules.ApplyOverridesFile(path); err != nil {
			return nil, eris.Wrap(err, "apply guideline overrides")
		}
		zap.L().Info("guideline overrides applied", zap.String("path", path))
	}

	return engine.New(rules)
}

// buildThrottler maps the config section onto a pacing throttler.
func buildThrottler() *throttle.Throttler {
	return throttle.New(throttle.Config{
		TargetPerHour: cfg.Throttle.TargetPerHour,
		Variance:      cfg.Throttle.Variance,
		BreakAfterMin: cfg.Throttle.BreakAfterMin,
		BreakAfterMax: cfg.Throttle.BreakAfterMax,
		BreakMin:      time.Duration(cfg.Throttle.BreakMinSecs) * time.Second,
		BreakMax:      time.Duration(cfg.Throttle.BreakMaxSecs) * time.Second,
		MaxSinceBreak: time.Duration(cfg.Throttle.MaxSinceBreakMin) * time.Minute,
	})
}
