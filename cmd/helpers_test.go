package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdeval/mapseval/internal/config"
)

func setTestConfig(t *testing.T, c config.Config) {
	t.Helper()
	prev := cfg
	cfg = &c
	t.Cleanup(func() { cfg = prev })
}

func TestBuildThrottler(t *testing.T) {
	setTestConfig(t, config.Config{
		Throttle: config.ThrottleConfig{
			TargetPerHour: 24,
			Variance:      3,
			BreakAfterMin: 10,
			BreakAfterMax: 12,
			BreakMinSecs:  300,
			BreakMaxSecs:  600,
		},
	})

	th := buildThrottler()
	require.NotNil(t, th)

	status := th.Status()
	assert.Equal(t, 21, status.MinPerHour)
	assert.Equal(t, 27, status.MaxPerHour)
}

func TestBuildEngineFallsBackToDefaults(t *testing.T) {
	setTestConfig(t, config.Config{
		Engine: config.EngineConfig{GuidelinesPath: filepath.Join(t.TempDir(), "missing.txt")},
	})

	eng, err := buildEngine()
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestBuildEngineBadOverrides(t *testing.T) {
	dir := t.TempDir()
	overrides := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(overrides, []byte(":::not yaml"), 0644))

	setTestConfig(t, config.Config{
		Engine: config.EngineConfig{OverridesPath: overrides},
	})

	_, err := buildEngine()
	require.Error(t, err)
}

func TestBuildEngineMissingOverridesFile(t *testing.T) {
	setTestConfig(t, config.Config{
		Engine: config.EngineConfig{OverridesPath: filepath.Join(t.TempDir(), "missing.yaml")},
	})

	_, err := buildEngine()
	require.Error(t, err)
}
