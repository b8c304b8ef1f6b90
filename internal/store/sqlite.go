package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/crowdeval/mapseval/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	target_rate  INTEGER NOT NULL,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	stopped_at   DATETIME,
	tasks_logged INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_records (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	ts              DATETIME NOT NULL,
	query           TEXT NOT NULL,
	rating          TEXT NOT NULL,
	demotion_reason TEXT,
	comment         TEXT,
	duration_secs   REAL NOT NULL DEFAULT 0,
	confidence      REAL NOT NULL DEFAULT 0,
	intent          TEXT,
	data_issues     TEXT,
	reasoning       TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_task_records_session_id ON task_records(session_id);
CREATE INDEX IF NOT EXISTS idx_task_records_rating ON task_records(rating);
CREATE INDEX IF NOT EXISTS idx_task_records_ts ON task_records(ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, targetRate int) (*model.Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, target_rate, started_at) VALUES (?, ?, ?, ?)`,
		id, string(model.SessionStatusRunning), targetRate, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert session")
	}

	return &model.Session{
		ID:         id,
		Status:     model.SessionStatusRunning,
		TargetRate: targetRate,
		StartedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	var stoppedAt any
	if status != model.SessionStatusRunning {
		stoppedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, stopped_at = COALESCE(?, stopped_at) WHERE id = ?`,
		string(status), stoppedAt, sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session status %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, target_rate, started_at, stopped_at, tasks_logged FROM sessions WHERE id = ?`,
		sessionID,
	)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, status, target_rate, started_at, stopped_at, tasks_logged FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) InsertTask(ctx context.Context, record model.TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert task")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_records
		 (id, session_id, ts, query, rating, demotion_reason, comment, duration_secs, confidence, intent, data_issues, reasoning)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, record.Timestamp.UTC(), record.Query,
		string(record.Rating), record.DemotionReason, record.Comment,
		record.DurationSecs, record.Confidence, string(record.Intent),
		record.DataIssues, record.Reasoning,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert task record")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET tasks_logged = tasks_logged + 1 WHERE id = ?`,
		record.SessionID,
	); err != nil {
		return eris.Wrap(err, "sqlite: bump tasks_logged")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit insert task")
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.TaskRecord, error) {
	query := `SELECT id, session_id, ts, query, rating, demotion_reason, comment, duration_secs, confidence, intent, data_issues, reasoning
	          FROM task_records WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Rating != "" {
		query += ` AND rating = ?`
		args = append(args, string(filter.Rating))
	}
	query += ` ORDER BY ts DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var records []model.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) RatingCounts(ctx context.Context, sessionID string) (map[model.Rating]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rating, COUNT(*) FROM task_records WHERE session_id = ? GROUP BY rating`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rating counts")
	}
	defer rows.Close()

	counts := make(map[model.Rating]int)
	for rows.Next() {
		var rating string
		var n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rating count")
		}
		counts[model.Rating(rating)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: rating counts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	var sess model.Session
	var stoppedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.Status, &sess.TargetRate, &sess.StartedAt, &stoppedAt, &sess.TasksLogged)
	if err == sql.ErrNoRows {
		return nil, eris.New("session not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time
		sess.StoppedAt = &t
	}
	return &sess, nil
}

func scanTask(row scannable) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	var demotion, comment, intent, issues, reasoning sql.NullString

	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.Query, &rec.Rating,
		&demotion, &comment, &rec.DurationSecs, &rec.Confidence, &intent, &issues, &reasoning)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task record")
	}

	rec.DemotionReason = demotion.String
	rec.Comment = comment.String
	rec.Intent = model.Intent(intent.String)
	rec.DataIssues = issues.String
	rec.Reasoning = reasoning.String
	rec.Duration = time.Duration(rec.DurationSecs * float64(time.Second))
	return &rec, nil
}
