// Package store provides SQLite persistence for learned patterns and
// session history. Pure-Go driver, no CGO.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
)

// Store handles SQLite persistence. All methods are safe for concurrent use
// via an internal mutex.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates a Store at dbPath, creating tables as needed. Uses WAL mode
// for file-based databases; ":memory:" is supported for tests.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		extension TEXT NOT NULL,
		group_name TEXT NOT NULL,
		name_pattern TEXT DEFAULT '',
		hour_of_day INTEGER DEFAULT -1,
		day_of_week INTEGER DEFAULT -1,
		confidence REAL NOT NULL,
		times_seen INTEGER NOT NULL DEFAULT 0,
		times_correct INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (extension, group_name)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		group_name TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		timeout_seconds INTEGER NOT NULL,
		confidence REAL NOT NULL,
		file_count INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_extension ON patterns(extension);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BestPattern returns the strongest learned pattern for the extension, or
// nil when nothing has been learned yet. Candidates are ranked by observed
// accuracy, then by observation count.
func (s *Store) BestPattern(ctx context.Context, fileName, extension string, at time.Time) (*providers.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT extension, group_name, name_pattern, hour_of_day, day_of_week,
		       confidence, times_seen, times_correct
		FROM patterns
		WHERE extension = ?
		ORDER BY CAST(times_correct AS REAL) / MAX(times_seen, 1) DESC, times_seen DESC
		LIMIT 1`, extension)

	var p providers.Pattern
	err := row.Scan(&p.Extension, &p.GroupName, &p.NamePattern, &p.HourOfDay,
		&p.DayOfWeek, &p.ConfidenceScore, &p.TimesSeen, &p.TimesCorrect)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query best pattern: %w", err)
	}
	return &p, nil
}

// SavePattern upserts a pattern observation, accumulating the seen/correct
// counters for an existing (extension, group) pair.
func (s *Store) SavePattern(ctx context.Context, p *providers.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (extension, group_name, name_pattern, hour_of_day,
		                      day_of_week, confidence, times_seen, times_correct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(extension, group_name) DO UPDATE SET
			times_seen = patterns.times_seen + excluded.times_seen,
			times_correct = patterns.times_correct + excluded.times_correct,
			confidence = CAST(patterns.times_correct + excluded.times_correct AS REAL)
			             / MAX(patterns.times_seen + excluded.times_seen, 1),
			updated_at = excluded.updated_at`,
		p.Extension, p.GroupName, p.NamePattern, p.HourOfDay, p.DayOfWeek,
		p.ConfidenceScore, p.TimesSeen, p.TimesCorrect, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// SaveSession upserts a session row.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	if sess.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, group_name, start_time, last_activity,
		                      timeout_seconds, confidence, file_count, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_name = excluded.group_name,
			last_activity = excluded.last_activity,
			confidence = excluded.confidence,
			file_count = excluded.file_count,
			is_active = excluded.is_active`,
		sess.ID, sess.GroupName, sess.StartTime.UTC(), sess.LastActivity.UTC(),
		int(sess.Timeout.Seconds()), sess.ConfidenceScore, sess.FileCount, active)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RecentSessions returns persisted sessions, most recent activity first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_name, start_time, last_activity, timeout_seconds,
		       confidence, file_count, is_active
		FROM sessions
		ORDER BY last_activity DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var sess session.Session
		var timeoutSeconds, active int
		if err := rows.Scan(&sess.ID, &sess.GroupName, &sess.StartTime,
			&sess.LastActivity, &timeoutSeconds, &sess.ConfidenceScore,
			&sess.FileCount, &active); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Timeout = time.Duration(timeoutSeconds) * time.Second
		sess.IsActive = active != 0
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SessionStats aggregates over all persisted sessions.
func (s *Store) SessionStats(ctx context.Context) (session.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats session.Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(file_count), 0), COALESCE(AVG(file_count), 0)
		FROM sessions`)
	if err := row.Scan(&stats.TotalSessions, &stats.TotalFiles, &stats.AvgFileCount); err != nil {
		return session.Stats{}, fmt.Errorf("query session stats: %w", err)
	}
	return stats, nil
}
