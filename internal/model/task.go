package model

import (
	"strings"
	"time"
)

// SessionStatus tracks the lifecycle of an evaluation session.
type SessionStatus string

const (
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusComplete SessionStatus = "complete"
)

// Session groups the task records produced by one continuous run.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	TargetRate  int           `json:"target_rate"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   *time.Time    `json:"stopped_at,omitempty"`
	TasksLogged int           `json:"tasks_logged"`
}

// TaskRecord is the persisted outcome of a single completed task. Its shape
// is the row schema shared by the store and the CSV ratings log.
type TaskRecord struct {
	ID             string        `json:"id" csv:"task_id"`
	SessionID      string        `json:"session_id" csv:"session_id"`
	Timestamp      time.Time     `json:"timestamp" csv:"timestamp"`
	Query          string        `json:"query" csv:"query"`
	Rating         Rating        `json:"rating" csv:"relevance_rating"`
	DemotionReason string        `json:"demotion_reason,omitempty" csv:"demotion_reason"`
	Comment        string        `json:"comment,omitempty" csv:"comment"`
	Duration       time.Duration `json:"duration" csv:"-"`
	DurationSecs   float64       `json:"-" csv:"duration_seconds"`
	Confidence     float64       `json:"confidence" csv:"confidence_score"`
	Intent         Intent        `json:"user_intent,omitempty" csv:"user_intent"`
	DataIssues     string        `json:"data_issues,omitempty" csv:"data_issues"`
	Reasoning      string        `json:"reasoning,omitempty" csv:"reasoning"`
}

// NewTaskRecord builds a TaskRecord from a rating decision and its context.
func NewTaskRecord(id, sessionID string, ts time.Time, q QueryInfo, r RatingResult, comment string, duration time.Duration) TaskRecord {
	return TaskRecord{
		ID:             id,
		SessionID:      sessionID,
		Timestamp:      ts,
		Query:          q.Query,
		Rating:         r.Rating,
		DemotionReason: r.DemotionReason,
		Comment:        comment,
		Duration:       duration,
		DurationSecs:   duration.Seconds(),
		Confidence:     r.Confidence,
		Intent:         r.UserIntent,
		DataIssues:     strings.Join(r.DataIssues, "; "),
		Reasoning:      r.Reasoning,
	}
}
