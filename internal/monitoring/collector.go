// Package monitoring watches session health: rating mix, confidence, and
// realized pace. Breaching a threshold raises a webhook alert.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/store"
)

// MetricsSnapshot holds a point-in-time view of evaluation health.
type MetricsSnapshot struct {
	// Session metrics (within lookback window).
	SessionsTotal   int `json:"sessions_total"`
	SessionsRunning int `json:"sessions_running"`
	SessionsStopped int `json:"sessions_stopped"`

	// Task metrics (within lookback window).
	TasksTotal      int                  `json:"tasks_total"`
	RatingCounts    map[model.Rating]int `json:"rating_counts"`
	NotRelevantRate float64              `json:"not_relevant_rate"`
	AvgConfidence   float64              `json:"avg_confidence"`
	AvgDurationSecs float64              `json:"avg_duration_secs"`
	TasksPerHour    float64              `json:"tasks_per_hour"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of evaluation metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		RatingCounts:  make(map[model.Rating]int),
		LookbackHours: lookbackHours,
		CollectedAt:   c.now().UTC(),
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	sessions, err := c.store.ListSessions(ctx, store.SessionFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}
	for _, sess := range sessions {
		if sess.StartedAt.Before(cutoff) && (sess.StoppedAt == nil || sess.StoppedAt.Before(cutoff)) {
			continue
		}
		snap.SessionsTotal++
		switch sess.Status {
		case model.SessionStatusRunning:
			snap.SessionsRunning++
		case model.SessionStatusStopped, model.SessionStatusComplete:
			snap.SessionsStopped++
		}
	}

	tasks, err := c.store.ListTasks(ctx, store.TaskFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list tasks")
	}

	var totalConfidence, totalDuration float64
	for _, task := range tasks {
		if task.Timestamp.Before(cutoff) {
			continue
		}
		snap.TasksTotal++
		snap.RatingCounts[task.Rating]++
		totalConfidence += task.Confidence
		totalDuration += task.DurationSecs
	}

	if snap.TasksTotal > 0 {
		snap.NotRelevantRate = float64(snap.RatingCounts[model.RatingNotRelevant]) / float64(snap.TasksTotal)
		snap.AvgConfidence = totalConfidence / float64(snap.TasksTotal)
		snap.AvgDurationSecs = totalDuration / float64(snap.TasksTotal)
		if lookbackHours > 0 {
			snap.TasksPerHour = float64(snap.TasksTotal) / float64(lookbackHours)
		}
	}

	return snap, nil
}
