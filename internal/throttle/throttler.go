package throttle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskEntry records one completed task in the rolling history.
type TaskEntry struct {
	TaskID    string
	Timestamp time.Time
	Duration  time.Duration
}

// Config holds the pacing parameters. Zero values fall back to the defaults
// of a 24±3 tasks/hour session.
type Config struct {
	// TargetPerHour is the target task rate. Default: 24.
	TargetPerHour int

	// Variance widens the target into a band of ±Variance tasks. Default: 3.
	Variance int

	// HistorySize bounds the rolling task history. Default: 100.
	HistorySize int

	// BreakAfterMin/Max bound the random break threshold draw. Default: 10-12.
	BreakAfterMin int
	BreakAfterMax int

	// BreakMin/Max bound the random break duration draw. Default: 5-10 minutes.
	BreakMin time.Duration
	BreakMax time.Duration

	// MaxSinceBreak forces a break when this much time has passed without
	// one, regardless of the task threshold. Default: 2 hours.
	MaxSinceBreak time.Duration

	// IntervalFloor/Ceil clamp the computed inter-task interval.
	// Default: 60s-300s.
	IntervalFloor time.Duration
	IntervalCeil  time.Duration

	// Jitter is the half-width of the uniform noise added to each computed
	// interval. Default: 30s.
	Jitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.TargetPerHour <= 0 {
		c.TargetPerHour = 24
	}
	if c.Variance <= 0 {
		c.Variance = 3
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.BreakAfterMin <= 0 {
		c.BreakAfterMin = 10
	}
	if c.BreakAfterMax < c.BreakAfterMin {
		c.BreakAfterMax = c.BreakAfterMin + 2
	}
	if c.BreakMin <= 0 {
		c.BreakMin = 5 * time.Minute
	}
	if c.BreakMax < c.BreakMin {
		c.BreakMax = 10 * time.Minute
	}
	if c.MaxSinceBreak <= 0 {
		c.MaxSinceBreak = 2 * time.Hour
	}
	if c.IntervalFloor <= 0 {
		c.IntervalFloor = time.Minute
	}
	if c.IntervalCeil < c.IntervalFloor {
		c.IntervalCeil = 5 * time.Minute
	}
	if c.Jitter <= 0 {
		c.Jitter = 30 * time.Second
	}
	return c
}

// Throttler gates task execution inside a randomized tasks-per-hour band
// with periodic rest breaks. Each session owns its own instance; there is no
// shared state between sessions. All methods are safe for use from a status
// reader goroutine, but ShouldPerformTask and TaskCompleted are expected to
// be driven sequentially by one control loop.
type Throttler struct {
	mu sync.Mutex

	cfg   Config
	clock Clock
	sleep SleepFunc
	rng   *rand.Rand

	minPerHour int
	maxPerHour int

	history        []TaskEntry
	sessionStart   time.Time
	lastTaskTime   time.Time
	tasksCompleted int

	tasksSinceBreak int
	breakThreshold  int
	lastBreakTime   time.Time

	hourStart time.Time
	hourTasks int
}

// Option customizes a Throttler.
type Option func(*Throttler)

// WithClock injects a clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(t *Throttler) { t.clock = c }
}

// WithSleep injects the break-sleep implementation.
func WithSleep(s SleepFunc) Option {
	return func(t *Throttler) { t.sleep = s }
}

// WithSeed seeds the random source, for deterministic tests.
func WithSeed(seed uint64) Option {
	return func(t *Throttler) { t.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// New creates a Throttler with the given pacing config.
func New(cfg Config, opts ...Option) *Throttler {
	cfg = cfg.withDefaults()

	t := &Throttler{
		cfg:   cfg,
		clock: SystemClock(),
		sleep: systemSleep,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(t)
	}

	now := t.clock.Now()
	t.minPerHour = cfg.TargetPerHour - cfg.Variance
	t.maxPerHour = cfg.TargetPerHour + cfg.Variance
	t.sessionStart = now
	t.lastBreakTime = now
	t.hourStart = now
	t.breakThreshold = t.drawBreakThreshold()

	zap.L().Info("throttle: initialized",
		zap.Int("min_tasks_per_hour", t.minPerHour),
		zap.Int("max_tasks_per_hour", t.maxPerHour),
	)

	return t
}

// ShouldPerformTask reports whether a task may start now. It is
// side-effect-free except for the hour-window rollover.
func (t *Throttler) ShouldPerformTask() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	if t.breakDue(now) {
		zap.L().Debug("throttle: break due")
		return false
	}
	if t.hourlyLimitReached(now) {
		zap.L().Debug("throttle: hourly limit reached")
		return false
	}
	if t.mustWaitLonger(now) {
		return false
	}
	return true
}

// TaskCompleted records a completed task. If the completion crosses the
// break threshold the break is taken synchronously before returning: state
// is fully mutated before the sleep starts, so a cancelled sleep loses only
// the rest, never the bookkeeping. The call may block for up to the
// configured maximum break duration.
func (t *Throttler) TaskCompleted(ctx context.Context, taskID string, duration time.Duration) error {
	t.mu.Lock()

	now := t.clock.Now()

	t.history = append(t.history, TaskEntry{TaskID: taskID, Timestamp: now, Duration: duration})
	if len(t.history) > t.cfg.HistorySize {
		t.history = t.history[len(t.history)-t.cfg.HistorySize:]
	}

	t.tasksCompleted++
	t.hourTasks++
	t.tasksSinceBreak++
	t.lastTaskTime = now

	zap.L().Info("throttle: task completed",
		zap.String("task_id", taskID),
		zap.Int("total", t.tasksCompleted),
		zap.Int("this_hour", t.hourTasks),
	)

	var breakDuration time.Duration
	if t.tasksSinceBreak >= t.breakThreshold {
		breakDuration = t.uniformDuration(t.cfg.BreakMin, t.cfg.BreakMax)
		t.tasksSinceBreak = 0
		t.lastBreakTime = now
		t.breakThreshold = t.drawBreakThreshold()
		zap.L().Info("throttle: taking break",
			zap.Duration("duration", breakDuration),
			zap.Int("next_threshold", t.breakThreshold),
		)
	}

	t.mu.Unlock()

	if breakDuration > 0 {
		if err := t.sleep(ctx, breakDuration); err != nil {
			return err
		}
		zap.L().Info("throttle: break completed")
	}
	return nil
}

// BreakDue reports whether a rest break is owed, either by task count or by
// the elapsed-time ceiling. Callers seeing true should take the break via
// ForceBreak rather than spin on ShouldPerformTask.
func (t *Throttler) BreakDue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breakDue(t.clock.Now())
}

// NextTaskDelay returns how long the caller should wait before the next
// permissible task. Zero means a task may start now.
func (t *Throttler) NextTaskDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	if !t.breakDue(now) && !t.hourlyLimitReached(now) && !t.mustWaitLonger(now) {
		return 0
	}

	if t.breakDue(now) {
		return t.uniformDuration(t.cfg.BreakMin, t.cfg.BreakMax)
	}

	if t.hourlyLimitReached(now) {
		return time.Hour - clampedSince(now, t.hourStart)
	}

	if !t.lastTaskTime.IsZero() {
		elapsed := clampedSince(now, t.lastTaskTime)
		required := t.nextInterval(now)
		if required > elapsed {
			return required - elapsed
		}
	}
	return 0
}

// ForceBreak takes an immediate break of the given duration. A zero
// duration draws one from the configured break range.
func (t *Throttler) ForceBreak(ctx context.Context, duration time.Duration) error {
	t.mu.Lock()
	if duration <= 0 {
		duration = t.uniformDuration(t.cfg.BreakMin, t.cfg.BreakMax)
	}
	t.tasksSinceBreak = 0
	t.lastBreakTime = t.clock.Now()
	t.breakThreshold = t.drawBreakThreshold()
	t.mu.Unlock()

	zap.L().Info("throttle: forced break", zap.Duration("duration", duration))
	return t.sleep(ctx, duration)
}

// AdjustPacing retargets the hourly band around a new target rate.
func (t *Throttler) AdjustPacing(targetPerHour int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cfg.TargetPerHour = targetPerHour
	t.minPerHour = targetPerHour - t.cfg.Variance
	t.maxPerHour = targetPerHour + t.cfg.Variance

	zap.L().Info("throttle: pacing adjusted",
		zap.Int("min_tasks_per_hour", t.minPerHour),
		zap.Int("max_tasks_per_hour", t.maxPerHour),
	)
}

// EmergencyThrottle divides the band by the given factor to slow down
// sharply. Factors below 1 are treated as the default of 2.
func (t *Throttler) EmergencyThrottle(factor float64) {
	if factor < 1 {
		factor = 2
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	origMin, origMax := t.minPerHour, t.maxPerHour
	t.minPerHour = int(float64(t.minPerHour) / factor)
	t.maxPerHour = int(float64(t.maxPerHour) / factor)
	if t.maxPerHour < 1 {
		t.maxPerHour = 1
	}
	if t.minPerHour < 1 {
		t.minPerHour = 1
	}

	zap.L().Warn("throttle: emergency throttling activated",
		zap.Int("old_min", origMin),
		zap.Int("old_max", origMax),
		zap.Int("new_min", t.minPerHour),
		zap.Int("new_max", t.maxPerHour),
	)
}

// ResetSession clears all history and counters and re-anchors the session
// at the current time.
func (t *Throttler) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.history = nil
	t.sessionStart = now
	t.lastTaskTime = time.Time{}
	t.tasksCompleted = 0
	t.tasksSinceBreak = 0
	t.lastBreakTime = now
	t.hourStart = now
	t.hourTasks = 0

	zap.L().Info("throttle: session reset")
}

// breakDue reports whether a break should be taken: either the task
// threshold has been crossed, or too long has passed since the last break
// (liveness against break starvation).
func (t *Throttler) breakDue(now time.Time) bool {
	if t.tasksSinceBreak >= t.breakThreshold {
		return true
	}
	return clampedSince(now, t.lastBreakTime) > t.cfg.MaxSinceBreak
}

// hourlyLimitReached rolls the hour window over when 3600s have passed and
// reports whether the upper band bound has been hit in the current window.
func (t *Throttler) hourlyLimitReached(now time.Time) bool {
	if clampedSince(now, t.hourStart) >= time.Hour {
		t.hourStart = now
		t.hourTasks = 0
		zap.L().Info("throttle: new hour started")
	}
	return t.hourTasks >= t.maxPerHour
}

// mustWaitLonger reports whether the inter-task interval has not yet
// elapsed since the last task.
func (t *Throttler) mustWaitLonger(now time.Time) bool {
	if t.lastTaskTime.IsZero() {
		return false
	}
	return clampedSince(now, t.lastTaskTime) < t.nextInterval(now)
}

// nextInterval draws the required inter-task interval: uniform across the
// band's interval range, scaled by the trailing-hour rate feedback, jittered,
// and clamped. The feedback loop keeps long sessions from drifting out of
// the target band.
func (t *Throttler) nextInterval(now time.Time) time.Duration {
	minInterval := time.Duration(float64(time.Hour) / float64(t.maxPerHour))
	maxInterval := time.Duration(float64(time.Hour) / float64(t.minPerHour))

	interval := t.uniformDuration(minInterval, maxInterval)

	recent := t.recentRate(now)
	if recent > float64(t.maxPerHour) {
		interval = time.Duration(float64(interval) * 1.2)
	} else if recent < float64(t.minPerHour) {
		interval = time.Duration(float64(interval) * 0.8)
	}

	jitter := time.Duration((t.rng.Float64()*2 - 1) * float64(t.cfg.Jitter))
	interval += jitter

	if interval < t.cfg.IntervalFloor {
		interval = t.cfg.IntervalFloor
	}
	if interval > t.cfg.IntervalCeil {
		interval = t.cfg.IntervalCeil
	}
	return interval
}

// recentRate counts tasks completed in the trailing hour. With fewer than
// two history entries the target rate is assumed.
func (t *Throttler) recentRate(now time.Time) float64 {
	if len(t.history) < 2 {
		return float64(t.cfg.TargetPerHour)
	}
	var n int
	for _, e := range t.history {
		if clampedSince(now, e.Timestamp) <= time.Hour {
			n++
		}
	}
	return float64(n)
}

func (t *Throttler) drawBreakThreshold() int {
	span := t.cfg.BreakAfterMax - t.cfg.BreakAfterMin + 1
	return t.cfg.BreakAfterMin + t.rng.IntN(span)
}

func (t *Throttler) uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(t.rng.Float64()*float64(hi-lo))
}

// clampedSince returns now-then, clamping clock-skew negatives to zero.
func clampedSince(now, then time.Time) time.Duration {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return d
}
