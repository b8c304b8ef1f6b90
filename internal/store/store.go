// Package store persists evaluation sessions and their task records behind
// a driver-neutral interface. SQLite serves single-operator installs;
// Postgres serves shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/crowdeval/mapseval/internal/model"
)

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status model.SessionStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// TaskFilter specifies criteria for listing task records.
type TaskFilter struct {
	SessionID string       `json:"session_id,omitempty"`
	Rating    model.Rating `json:"rating,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Offset    int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the evaluation loop.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, targetRate int) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)

	// Task records
	InsertTask(ctx context.Context, record model.TaskRecord) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.TaskRecord, error)
	RatingCounts(ctx context.Context, sessionID string) (map[model.Rating]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
