package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdeval/mapseval/internal/comment"
	"github.com/crowdeval/mapseval/internal/engine"
	"github.com/crowdeval/mapseval/internal/guideline"
	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/perceive"
	"github.com/crowdeval/mapseval/internal/qa"
	"github.com/crowdeval/mapseval/internal/store"
	"github.com/crowdeval/mapseval/internal/tasklog"
	"github.com/crowdeval/mapseval/internal/throttle"
)

const testScreen = `Showing results for "restaurant near me"

Corner Coffee
200 Oak St
4.5★ (120)
3.2 mi

Roadside Grill
88 Highway Ave
3.9★ (45)
12.4 mi
`

// fastThrottleConfig collapses all pacing delays so the loop runs at poll
// speed.
func fastThrottleConfig() throttle.Config {
	return throttle.Config{
		TargetPerHour: 100000,
		Variance:      3,
		BreakAfterMin: 50,
		BreakAfterMax: 60,
		BreakMin:      time.Nanosecond,
		BreakMax:      time.Millisecond,
		IntervalFloor: time.Nanosecond,
		IntervalCeil:  time.Millisecond,
		Jitter:        time.Nanosecond,
	}
}

func newTestRunner(t *testing.T, th *throttle.Throttler, opts Options) (*Runner, store.Store, string) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	eng, err := engine.New(guideline.Default())
	require.NoError(t, err)

	logPath := filepath.Join(dir, "ratings_log.csv")
	logger, err := tasklog.Open(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	r := New(
		th,
		eng,
		perceive.StaticReader{Text: testScreen},
		comment.NewGenerator(comment.WithSeed(7)),
		qa.NewValidator(),
		st,
		logger,
		opts,
	)
	return r, st, logPath
}

func TestRunCompletesAfterMaxTasks(t *testing.T) {
	th := throttle.New(fastThrottleConfig(), throttle.WithSeed(1))
	r, st, logPath := newTestRunner(t, th, Options{
		PollInterval: time.Millisecond,
		MaxTasks:     3,
		TargetRate:   24,
	})

	require.NoError(t, r.Run(context.Background()))

	sess := r.Session()
	require.NotNil(t, sess)
	assert.Equal(t, 24, sess.TargetRate)

	got, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusComplete, got.Status)
	assert.Equal(t, 3, got.TasksLogged)

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{SessionID: sess.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, sess.ID, task.SessionID)
		assert.Equal(t, "restaurant near me", task.Query)
		assert.NotEmpty(t, task.Rating)
		assert.Greater(t, task.Confidence, 0.0)
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4) // header plus three records
	assert.Equal(t, 1, strings.Count(string(data), "task_id"))
}

func TestRunStopsOnCancel(t *testing.T) {
	th := throttle.New(fastThrottleConfig(), throttle.WithSeed(1))
	r, st, _ := newTestRunner(t, th, Options{
		PollInterval: time.Millisecond,
		TargetRate:   24,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := st.GetSession(context.Background(), r.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopped, got.Status)
}

func TestRunTakesForcedBreakWhenDue(t *testing.T) {
	// A sub-poll MaxSinceBreak makes a break due on the first gate check, so
	// the loop must go through ForceBreak rather than spinning.
	cfg := fastThrottleConfig()
	cfg.MaxSinceBreak = time.Nanosecond

	ctx, cancel := context.WithCancel(context.Background())
	var forced atomic.Int32
	th := throttle.New(cfg,
		throttle.WithSeed(1),
		throttle.WithSleep(func(context.Context, time.Duration) error {
			if forced.Add(1) >= 3 {
				cancel()
			}
			return nil
		}),
	)

	r, _, _ := newTestRunner(t, th, Options{PollInterval: time.Millisecond})

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, forced.Load(), int32(3))
}

func TestRunThroughBreakThreshold(t *testing.T) {
	// Break after every task; the synchronous break in TaskCompleted must not
	// stall the loop or lose tasks.
	cfg := fastThrottleConfig()
	cfg.BreakAfterMin = 1
	cfg.BreakAfterMax = 1

	th := throttle.New(cfg, throttle.WithSeed(1))
	r, st, _ := newTestRunner(t, th, Options{
		PollInterval: time.Millisecond,
		MaxTasks:     2,
	})

	require.NoError(t, r.Run(context.Background()))

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{SessionID: r.Session().ID})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestRunWithoutTaskLog(t *testing.T) {
	th := throttle.New(fastThrottleConfig(), throttle.WithSeed(1))

	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))

	eng, err := engine.New(guideline.Default())
	require.NoError(t, err)

	r := New(
		th,
		eng,
		perceive.StaticReader{Text: testScreen},
		comment.NewGenerator(comment.WithSeed(7)),
		qa.NewValidator(),
		st,
		nil,
		Options{PollInterval: time.Millisecond, MaxTasks: 1},
	)

	require.NoError(t, r.Run(context.Background()))

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestNewDefaultsPollInterval(t *testing.T) {
	th := throttle.New(fastThrottleConfig())
	eng, err := engine.New(guideline.Default())
	require.NoError(t, err)

	r := New(th, eng, perceive.StaticReader{}, comment.NewGenerator(), qa.NewValidator(), &runnerMockStore{}, nil, Options{})
	assert.Equal(t, 5*time.Second, r.opts.PollInterval)
}

// runnerMockStore satisfies store.Store where no database is needed.
type runnerMockStore struct{}

func (runnerMockStore) CreateSession(context.Context, int) (*model.Session, error) {
	return &model.Session{ID: "s1"}, nil
}
func (runnerMockStore) UpdateSessionStatus(context.Context, string, model.SessionStatus) error {
	return nil
}
func (runnerMockStore) GetSession(context.Context, string) (*model.Session, error) { return nil, nil }
func (runnerMockStore) ListSessions(context.Context, store.SessionFilter) ([]model.Session, error) {
	return nil, nil
}
func (runnerMockStore) InsertTask(context.Context, model.TaskRecord) error { return nil }
func (runnerMockStore) ListTasks(context.Context, store.TaskFilter) ([]model.TaskRecord, error) {
	return nil, nil
}
func (runnerMockStore) RatingCounts(context.Context, string) (map[model.Rating]int, error) {
	return nil, nil
}
func (runnerMockStore) Migrate(context.Context) error { return nil }
func (runnerMockStore) Close() error                  { return nil }
