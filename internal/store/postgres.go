package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/crowdeval/mapseval/internal/db"
	"github.com/crowdeval/mapseval/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_session":        `INSERT INTO sessions (id, status, target_rate, started_at) VALUES ($1, $2, $3, $4)`,
	"update_session_status": `UPDATE sessions SET status = $1, stopped_at = COALESCE($2, stopped_at) WHERE id = $3`,
	"get_session":           `SELECT id, status, target_rate, started_at, stopped_at, tasks_logged FROM sessions WHERE id = $1`,
	"insert_task":           `INSERT INTO task_records (id, session_id, ts, query, rating, demotion_reason, comment, duration_secs, confidence, intent, data_issues, reasoning) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"bump_tasks_logged":     `UPDATE sessions SET tasks_logged = tasks_logged + 1 WHERE id = $1`,
	"rating_counts":         `SELECT rating, COUNT(*) FROM task_records WHERE session_id = $1 GROUP BY rating`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status       TEXT NOT NULL DEFAULT 'running',
	target_rate  INTEGER NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	stopped_at   TIMESTAMPTZ,
	tasks_logged INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_records (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	ts              TIMESTAMPTZ NOT NULL,
	query           TEXT NOT NULL,
	rating          TEXT NOT NULL,
	demotion_reason TEXT,
	comment         TEXT,
	duration_secs   DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	intent          TEXT,
	data_issues     TEXT,
	reasoning       TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_task_records_session_id ON task_records(session_id);
CREATE INDEX IF NOT EXISTS idx_task_records_rating ON task_records(rating);
CREATE INDEX IF NOT EXISTS idx_task_records_ts ON task_records(ts);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, targetRate int) (*model.Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, status, target_rate, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.SessionStatusRunning), targetRate, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert session")
	}

	return &model.Session{
		ID:         id,
		Status:     model.SessionStatusRunning,
		TargetRate: targetRate,
		StartedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	var stoppedAt *time.Time
	if status != model.SessionStatusRunning {
		now := time.Now().UTC()
		stoppedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, stopped_at = COALESCE($2, stopped_at) WHERE id = $3`,
		string(status), stoppedAt, sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session status %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, target_rate, started_at, stopped_at, tasks_logged FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&sess.ID, &sess.Status, &sess.TargetRate, &sess.StartedAt, &sess.StoppedAt, &sess.TasksLogged)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, status, target_rate, started_at, stopped_at, tasks_logged FROM sessions WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Status, &sess.TargetRate,
			&sess.StartedAt, &sess.StoppedAt, &sess.TasksLogged); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) InsertTask(ctx context.Context, record model.TaskRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert task")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO task_records
		 (id, session_id, ts, query, rating, demotion_reason, comment, duration_secs, confidence, intent, data_issues, reasoning)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.SessionID, record.Timestamp.UTC(), record.Query,
		string(record.Rating), record.DemotionReason, record.Comment,
		record.DurationSecs, record.Confidence, string(record.Intent),
		record.DataIssues, record.Reasoning,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert task record")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET tasks_logged = tasks_logged + 1 WHERE id = $1`,
		record.SessionID,
	); err != nil {
		return eris.Wrap(err, "postgres: bump tasks_logged")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert task")
}

// taskColumns is the column order shared by ImportTasks and the COPY path.
var taskColumns = []string{
	"id", "session_id", "ts", "query", "rating", "demotion_reason",
	"comment", "duration_secs", "confidence", "intent", "data_issues", "reasoning",
}

// sessionStubColumns covers the NOT NULL columns of sessions; the rest take
// their schema defaults.
var sessionStubColumns = []string{"id", "status", "target_rate", "started_at"}

// ImportTasks bulk-loads task records, typically from a CSV ratings log.
// Records that already exist are updated in place so a re-import is safe.
// task_records.session_id references sessions, and an imported log may name
// sessions this store has never seen, so stub session rows are seeded first.
// Existing sessions are left untouched.
func (s *PostgresStore) ImportTasks(ctx context.Context, records []model.TaskRecord) (int64, error) {
	firstSeen := make(map[string]time.Time)
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		if r.SessionID != "" {
			if t, ok := firstSeen[r.SessionID]; !ok || r.Timestamp.Before(t) {
				firstSeen[r.SessionID] = r.Timestamp
			}
		}
		rows = append(rows, []any{
			r.ID, r.SessionID, r.Timestamp.UTC(), r.Query, string(r.Rating),
			r.DemotionReason, r.Comment, r.DurationSecs, r.Confidence,
			string(r.Intent), r.DataIssues, r.Reasoning,
		})
	}

	sessionRows := make([][]any, 0, len(firstSeen))
	for id, started := range firstSeen {
		sessionRows = append(sessionRows, []any{
			id, string(model.SessionStatusStopped), 0, started.UTC(),
		})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sessions",
		Columns:      sessionStubColumns,
		ConflictKeys: []string{"id"},
		DoNothing:    true,
	}, sessionRows); err != nil {
		return 0, eris.Wrap(err, "postgres: seed sessions for import")
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "task_records",
		Columns:      taskColumns,
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.TaskRecord, error) {
	query := `SELECT id, session_id, ts, query, rating, demotion_reason, comment, duration_secs, confidence, intent, data_issues, reasoning
	          FROM task_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.SessionID != "" {
		query += ` AND session_id = ` + arg(filter.SessionID)
	}
	if filter.Rating != "" {
		query += ` AND rating = ` + arg(string(filter.Rating))
	}
	query += ` ORDER BY ts DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var records []model.TaskRecord
	for rows.Next() {
		var rec model.TaskRecord
		var demotion, comment, intent, issues, reasoning *string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.Query, &rec.Rating,
			&demotion, &comment, &rec.DurationSecs, &rec.Confidence,
			&intent, &issues, &reasoning); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task record")
		}
		rec.DemotionReason = deref(demotion)
		rec.Comment = deref(comment)
		rec.Intent = model.Intent(deref(intent))
		rec.DataIssues = deref(issues)
		rec.Reasoning = deref(reasoning)
		rec.Duration = time.Duration(rec.DurationSecs * float64(time.Second))
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func (s *PostgresStore) RatingCounts(ctx context.Context, sessionID string) (map[model.Rating]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rating, COUNT(*) FROM task_records WHERE session_id = $1 GROUP BY rating`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rating counts")
	}
	defer rows.Close()

	counts := make(map[model.Rating]int)
	for rows.Next() {
		var rating string
		var n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rating count")
		}
		counts[model.Rating(rating)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: rating counts iterate")
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
