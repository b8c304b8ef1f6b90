package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for driving the time-based
// algorithm deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// advanceSleep advances the fake clock instead of blocking.
func advanceSleep(clock *fakeClock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.Advance(d)
		return nil
	}
}

func newTestThrottler(t *testing.T, cfg Config, clock *fakeClock) *Throttler {
	t.Helper()
	return New(cfg, WithClock(clock), WithSleep(advanceSleep(clock)), WithSeed(42))
}

func TestFirstTaskAllowedImmediately(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	assert.True(t, th.ShouldPerformTask())
	assert.Equal(t, time.Duration(0), th.NextTaskDelay())
}

func TestInterTaskIntervalGating(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	require.NoError(t, th.TaskCompleted(context.Background(), "t1", 30*time.Second))

	// Immediately after a completion the interval has not elapsed.
	assert.False(t, th.ShouldPerformTask())
	delay := th.NextTaskDelay()
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 5*time.Minute)

	// Past the interval ceiling the gate must open.
	clock.Advance(5*time.Minute + time.Second)
	assert.True(t, th.ShouldPerformTask())
}

func TestHourRolloverIdempotence(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	require.NoError(t, th.TaskCompleted(context.Background(), "t1", time.Second))
	require.NoError(t, th.TaskCompleted(context.Background(), "t2", time.Second))

	// Repeated polls inside the same hour window never reset the counter.
	for i := 0; i < 50; i++ {
		clock.Advance(30 * time.Second)
		th.ShouldPerformTask()
		assert.Equal(t, 2, th.Status().CurrentHourTasks, "poll %d", i)
	}
}

func TestHourRolloverResetsCounter(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	require.NoError(t, th.TaskCompleted(context.Background(), "t1", time.Second))
	assert.Equal(t, 1, th.Status().CurrentHourTasks)

	clock.Advance(time.Hour + time.Second)
	th.ShouldPerformTask()
	assert.Equal(t, 0, th.Status().CurrentHourTasks)
}

func TestHourlyLimitBlocks(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	// Fill the hour window to the upper band bound. Completions bypass the
	// gate by design; gating is the caller's job.
	for i := 0; i < 27; i++ {
		require.NoError(t, th.TaskCompleted(context.Background(), "t", time.Second))
	}

	// Move far enough that the inter-task interval cannot be the blocker,
	// while staying inside the same hour window.
	clock.Advance(6 * time.Minute)
	if !th.BreakDue() {
		assert.False(t, th.ShouldPerformTask())
	}
	assert.Equal(t, 27, th.Status().CurrentHourTasks)
}

func TestBreakLiveness(t *testing.T) {
	clock := newFakeClock()
	var breaks int
	th := New(Config{},
		WithClock(clock),
		WithSeed(7),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			breaks++
			clock.Advance(d)
			return nil
		}),
	)

	// Any 12 consecutive completions must trigger a break internally.
	for i := 0; i < 12; i++ {
		clock.Advance(3 * time.Minute)
		require.NoError(t, th.TaskCompleted(context.Background(), "t", time.Second))
	}

	assert.GreaterOrEqual(t, breaks, 1)
	assert.Less(t, th.Status().TasksSinceBreak, 12)
}

func TestBreakThresholdRedrawnWithinBounds(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	for round := 0; round < 5; round++ {
		// Complete tasks until the next break fires and resets the counter.
		clock.Advance(3 * time.Minute)
		require.NoError(t, th.TaskCompleted(context.Background(), "t", time.Second))
		for th.Status().TasksSinceBreak != 0 {
			clock.Advance(3 * time.Minute)
			require.NoError(t, th.TaskCompleted(context.Background(), "t", time.Second))
		}
		until := th.Status().TasksUntilBreak
		assert.GreaterOrEqual(t, until, 10, "round %d", round)
		assert.LessOrEqual(t, until, 12, "round %d", round)
	}
}

func TestTimeBasedBreakLiveness(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	// No completions at all: after the two-hour ceiling a break is owed
	// even though the task threshold was never reached.
	assert.False(t, th.BreakDue())
	clock.Advance(2*time.Hour + time.Minute)
	assert.True(t, th.BreakDue())
	assert.False(t, th.ShouldPerformTask())

	// Taking the break clears the debt.
	require.NoError(t, th.ForceBreak(context.Background(), 0))
	assert.False(t, th.BreakDue())
}

func TestBreakStateMutatesBeforeSleep(t *testing.T) {
	clock := newFakeClock()
	th := New(Config{BreakAfterMin: 2, BreakAfterMax: 2},
		WithClock(clock),
		WithSeed(3),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		}),
	)

	require.NoError(t, th.TaskCompleted(context.Background(), "t1", time.Second))
	err := th.TaskCompleted(context.Background(), "t2", time.Second)

	// The interrupted sleep surfaces, but the bookkeeping is already done:
	// the cancelled sleep loses the rest, not the counters.
	require.Error(t, err)
	st := th.Status()
	assert.Equal(t, 2, st.TasksCompleted)
	assert.Equal(t, 0, st.TasksSinceBreak)
}

func TestNegativeClockDeltasClampToZero(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(0), clampedSince(now, now.Add(time.Minute)))
	assert.Equal(t, time.Minute, clampedSince(now.Add(time.Minute), now))
}

func TestAdjustPacing(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	th.AdjustPacing(40)
	st := th.Status()
	assert.Equal(t, 37, st.MinPerHour)
	assert.Equal(t, 43, st.MaxPerHour)
}

func TestEmergencyThrottle(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	th.EmergencyThrottle(2)
	st := th.Status()
	assert.Equal(t, 10, st.MinPerHour)
	assert.Equal(t, 13, st.MaxPerHour)
}

func TestResetSession(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	require.NoError(t, th.TaskCompleted(context.Background(), "t1", time.Second))
	clock.Advance(10 * time.Minute)
	th.ResetSession()

	st := th.Status()
	assert.Equal(t, 0, st.TasksCompleted)
	assert.Equal(t, 0, st.CurrentHourTasks)
	assert.Equal(t, 0, st.TasksSinceBreak)
	assert.True(t, th.ShouldPerformTask())
}

func TestHistoryRingIsBounded(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{HistorySize: 10}, clock)

	for i := 0; i < 30; i++ {
		clock.Advance(time.Minute)
		require.NoError(t, th.TaskCompleted(context.Background(), "t", time.Second))
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	assert.Len(t, th.history, 10)
}

// TestSteadyStateBandProperty simulates a long gated session and checks the
// realized rate stays inside the configured band once warmed up. Breaks are
// shortened so the band reflects pacing, not rest time.
func TestSteadyStateBandProperty(t *testing.T) {
	clock := newFakeClock()
	th := New(Config{BreakMin: time.Second, BreakMax: 2 * time.Second},
		WithClock(clock),
		WithSeed(11),
		WithSleep(advanceSleep(clock)),
	)

	const totalTasks = 120
	const warmup = 20

	start := clock.Now()
	var steadyStart time.Time
	completed := 0

	for completed < totalTasks {
		switch {
		case th.ShouldPerformTask():
			require.NoError(t, th.TaskCompleted(context.Background(), "t", 30*time.Second))
			completed++
			if completed == warmup {
				steadyStart = clock.Now()
			}
		case th.BreakDue():
			require.NoError(t, th.ForceBreak(context.Background(), 0))
		default:
			clock.Advance(5 * time.Second)
		}

		// Guard against runaway simulation.
		require.Less(t, clock.Now().Sub(start), 48*time.Hour)
	}

	steadyHours := clock.Now().Sub(steadyStart).Hours()
	require.Greater(t, steadyHours, 1.0)

	// Allow one task/hour of slack for hour-window boundary effects: the
	// measurement span starts and ends mid-window.
	realized := float64(totalTasks-warmup) / steadyHours
	st := th.Status()
	assert.GreaterOrEqual(t, realized, float64(st.MinPerHour)-1,
		"realized rate %.1f below band", realized)
	assert.LessOrEqual(t, realized, float64(st.MaxPerHour)+1,
		"realized rate %.1f above band", realized)
}

func TestNextTaskDelayDuringBreakDebt(t *testing.T) {
	clock := newFakeClock()
	th := newTestThrottler(t, Config{}, clock)

	clock.Advance(2*time.Hour + time.Minute)
	delay := th.NextTaskDelay()
	assert.GreaterOrEqual(t, delay, 5*time.Minute)
	assert.LessOrEqual(t, delay, 10*time.Minute)
}
