package throttle

import "time"

// Status is a point-in-time view of the throttle state.
type Status struct {
	TasksCompleted   int           `json:"tasks_completed"`
	CurrentHourTasks int           `json:"current_hour_tasks"`
	TasksSinceBreak  int           `json:"tasks_since_break"`
	TasksUntilBreak  int           `json:"tasks_until_break"`
	RecentRate       float64       `json:"recent_rate"`
	NextTaskDelay    time.Duration `json:"next_task_delay"`
	SessionDuration  time.Duration `json:"session_duration"`
	LastTaskTime     time.Time     `json:"last_task_time"`
	MinPerHour       int           `json:"min_per_hour"`
	MaxPerHour       int           `json:"max_per_hour"`
}

// Metrics summarizes realized pacing over the session.
type Metrics struct {
	SessionDuration time.Duration `json:"session_duration"`
	TotalTasks      int           `json:"total_tasks"`
	AveragePerHour  float64       `json:"average_per_hour"`
	RecentPerHour   float64       `json:"recent_per_hour"`
	AverageInterval time.Duration `json:"average_interval"`
	MinPerHour      int           `json:"min_per_hour"`
	MaxPerHour      int           `json:"max_per_hour"`
	OnPace          bool          `json:"on_pace"`
}

// Status returns the current throttle snapshot.
func (t *Throttler) Status() Status {
	delay := t.NextTaskDelay()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	return Status{
		TasksCompleted:   t.tasksCompleted,
		CurrentHourTasks: t.hourTasks,
		TasksSinceBreak:  t.tasksSinceBreak,
		TasksUntilBreak:  t.breakThreshold - t.tasksSinceBreak,
		RecentRate:       t.recentRate(now),
		NextTaskDelay:    delay,
		SessionDuration:  clampedSince(now, t.sessionStart),
		LastTaskTime:     t.lastTaskTime,
		MinPerHour:       t.minPerHour,
		MaxPerHour:       t.maxPerHour,
	}
}

// PerformanceMetrics computes realized pacing metrics for the session.
func (t *Throttler) PerformanceMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	sessionDur := clampedSince(now, t.sessionStart)

	var avgPerHour float64
	if sessionDur > 0 {
		avgPerHour = float64(t.tasksCompleted) / sessionDur.Hours()
	}

	var avgInterval time.Duration
	if len(t.history) > 1 {
		var total time.Duration
		for i := 1; i < len(t.history); i++ {
			total += clampedSince(t.history[i].Timestamp, t.history[i-1].Timestamp)
		}
		avgInterval = total / time.Duration(len(t.history)-1)
	}

	return Metrics{
		SessionDuration: sessionDur,
		TotalTasks:      t.tasksCompleted,
		AveragePerHour:  avgPerHour,
		RecentPerHour:   t.recentRate(now),
		AverageInterval: avgInterval,
		MinPerHour:      t.minPerHour,
		MaxPerHour:      t.maxPerHour,
		OnPace:          avgPerHour >= float64(t.minPerHour) && avgPerHour <= float64(t.maxPerHour),
	}
}
