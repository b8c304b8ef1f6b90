// Package session drives the evaluation loop: poll the pacer, perceive the
// screen, rate, validate, comment, and persist. One Runner owns one session.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crowdeval/mapseval/internal/comment"
	"github.com/crowdeval/mapseval/internal/engine"
	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/perceive"
	"github.com/crowdeval/mapseval/internal/qa"
	"github.com/crowdeval/mapseval/internal/store"
	"github.com/crowdeval/mapseval/internal/tasklog"
	"github.com/crowdeval/mapseval/internal/throttle"
)

// Options configures a Runner.
type Options struct {
	// PollInterval is how often the loop re-checks the pacing gate.
	PollInterval time.Duration

	// MaxTasks stops the session after this many tasks. Zero means run
	// until the context is cancelled.
	MaxTasks int

	// TargetRate is recorded on the session row.
	TargetRate int
}

// Runner executes evaluation tasks under throttle control.
type Runner struct {
	throttler *throttle.Throttler
	engine    *engine.Engine
	reader    perceive.ScreenReader
	comments  *comment.Generator
	validator *qa.Validator
	store     store.Store
	log       *tasklog.Logger
	limiter   *rate.Limiter
	opts      Options
	clock     func() time.Time

	session *model.Session
}

// New assembles a Runner. The tasklog logger may be nil to skip CSV output.
func New(
	th *throttle.Throttler,
	eng *engine.Engine,
	reader perceive.ScreenReader,
	gen *comment.Generator,
	validator *qa.Validator,
	st store.Store,
	log *tasklog.Logger,
	opts Options,
) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Runner{
		throttler: th,
		engine:    eng,
		reader:    reader,
		comments:  gen,
		validator: validator,
		store:     st,
		log:       log,
		limiter:   rate.NewLimiter(rate.Every(opts.PollInterval), 1),
		opts:      opts,
		clock:     time.Now,
	}
}

// Session returns the session row created by Run, once started.
func (r *Runner) Session() *model.Session {
	return r.session
}

// Run executes the loop until the context is cancelled or MaxTasks is
// reached. The session row is closed out on the way down.
func (r *Runner) Run(ctx context.Context) error {
	sess, err := r.store.CreateSession(ctx, r.opts.TargetRate)
	if err != nil {
		return eris.Wrap(err, "session: create")
	}
	r.session = sess

	log := zap.L().With(zap.String("session_id", sess.ID))
	log.Info("session started", zap.Int("target_rate", r.opts.TargetRate))

	completed := 0
	finalStatus := model.SessionStatusStopped

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}

		if !r.throttler.ShouldPerformTask() {
			// A due break never clears itself; take it here so the loop
			// cannot stall permanently.
			if r.throttler.BreakDue() {
				if err := r.throttler.ForceBreak(ctx, 0); err != nil {
					break
				}
			}
			continue
		}

		if err := r.performTask(ctx, log); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("session: task failed", zap.Error(err))
			continue
		}

		completed++
		if r.opts.MaxTasks > 0 && completed >= r.opts.MaxTasks {
			finalStatus = model.SessionStatusComplete
			break
		}
	}

	// Close out with a fresh context; ctx is usually already cancelled.
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpdateSessionStatus(closeCtx, sess.ID, finalStatus); err != nil {
		log.Error("session: close out", zap.Error(err))
	}

	log.Info("session finished",
		zap.Int("tasks_completed", completed),
		zap.String("status", string(finalStatus)),
	)
	return ctx.Err()
}

// performTask runs one full evaluation: perceive, rate, validate, comment,
// persist, then report the completion to the pacer.
func (r *Runner) performTask(ctx context.Context, log *zap.Logger) error {
	started := r.clock()

	obs, err := perceive.Observe(ctx, r.reader)
	if err != nil {
		return eris.Wrap(err, "session: observe screen")
	}

	result := r.engine.EvaluateResults(obs.Query, obs.Results)
	text := r.comments.Generate(&result)

	// At most one correction pass. A positive rating paired with a negative
	// comment reads as rated too high.
	if fb := r.validator.ValidateRatingComment(&result, text); !fb.Valid {
		correction := model.ValidationFeedback{
			Valid:  false,
			Issues: []string{"rating_too_high"},
			Reason: fb.Reason,
		}
		result = r.engine.CorrectRating(result, correction)
		text = r.comments.Generate(&result)
	}

	taskID := uuid.New().String()
	duration := r.clock().Sub(started)
	record := model.NewTaskRecord(taskID, r.session.ID, r.clock(), obs.Query, result, text, duration)

	if r.log != nil {
		if err := r.log.Append(record); err != nil {
			return eris.Wrap(err, "session: append ratings log")
		}
	}
	if err := r.store.InsertTask(ctx, record); err != nil {
		return eris.Wrap(err, "session: insert task")
	}

	log.Info("task completed",
		zap.String("task_id", taskID),
		zap.String("query", obs.Query.Query),
		zap.String("rating", string(result.Rating)),
		zap.Float64("confidence", result.Confidence),
	)

	return r.throttler.TaskCompleted(ctx, taskID, duration)
}
