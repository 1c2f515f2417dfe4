package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agtrace/agtrace/internal/agtraceerr"

	_ "modernc.org/sqlite"
)

// currentSchemaVersion bumps whenever a table shape changes. Open
// compares the stored value against this and rebuilds from scratch on
// mismatch — there is no migration path, matching spec.md's stance that
// the catalog is a disposable index over the real source of truth (the
// log files themselves).
const currentSchemaVersion = 1

type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex // serializes writes; reads use the pool's own concurrency
}

// Open creates or attaches to the sqlite catalog at path. A nil logger
// falls back to slog.Default(), per SPEC_FULL.md §1.1.
func Open(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes internally; one conn avoids SQLITE_BUSY churn

	s := &sqliteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) init(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	version, ok, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if ok && version != currentSchemaVersion {
		s.logger.Warn("index schema mismatch, rebuilding catalog",
			slog.Int("found_version", version), slog.Int("want_version", currentSchemaVersion))
		if err := s.dropAll(ctx); err != nil {
			return err
		}
	}
	return s.createSchema(ctx)
}

func (s *sqliteStore) readSchemaVersion(ctx context.Context) (int, bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("check meta table: %w", err)
	}
	if exists == 0 {
		return 0, false, nil
	}
	var version int
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='schema_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema_version: %w", err)
	}
	return version, true, nil
}

func (s *sqliteStore) dropAll(ctx context.Context) error {
	for _, table := range []string{"log_files", "sessions", "projects", "meta"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}

func (s *sqliteStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS projects (
			hash TEXT PRIMARY KEY,
			root_path TEXT,
			last_scanned_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_hash TEXT NOT NULL,
			provider TEXT NOT NULL,
			start_ts TEXT,
			end_ts TEXT,
			snippet TEXT,
			is_valid INTEGER NOT NULL DEFAULT 1,
			parent_session_id TEXT,
			spawn_context TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS log_files (
			path TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			file_size INTEGER,
			mod_time TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_log_files_session ON log_files(session_id);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		fmt.Sprintf("%d", currentSchemaVersion))
	if err != nil {
		return fmt.Errorf("write schema_version: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpsertProject(ctx context.Context, p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (hash, root_path, last_scanned_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET root_path=excluded.root_path, last_scanned_at=excluded.last_scanned_at`,
		string(p.Hash), p.RootPath, formatTime(p.LastScanned))
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpsertSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_hash, provider, start_ts, end_ts, snippet, is_valid, parent_session_id, spawn_context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			project_hash=excluded.project_hash,
			provider=excluded.provider,
			start_ts=excluded.start_ts,
			end_ts=excluded.end_ts,
			snippet=excluded.snippet,
			parent_session_id=excluded.parent_session_id,
			spawn_context=excluded.spawn_context`,
		sess.ID, string(sess.ProjectHash), sess.Provider, formatTime(sess.StartTS), formatTime(sess.EndTS),
		sess.Snippet, boolToInt(sess.IsValid), sess.ParentSessionID, sess.SpawnContext)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpsertLogFile(ctx context.Context, f LogFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_files (path, session_id, role, file_size, mod_time) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			session_id=excluded.session_id, role=excluded.role,
			file_size=excluded.file_size, mod_time=excluded.mod_time`,
		f.Path, f.SessionID, string(f.Role), f.FileSize, formatTime(f.ModTime))
	if err != nil {
		return fmt.Errorf("upsert log file: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListSessions(ctx context.Context, projectHash *ProjectHash, limit int) ([]Session, error) {
	query := `SELECT id, project_hash, provider, start_ts, end_ts, snippet, is_valid, parent_session_id, spawn_context
	          FROM sessions WHERE is_valid=1`
	args := []any{}
	if projectHash != nil {
		query += " AND project_hash = ?"
		args = append(args, string(*projectHash))
	}
	query += " ORDER BY start_ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *sqliteStore) FindSessionByPrefix(ctx context.Context, prefix string) (Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_hash, provider, start_ts, end_ts, snippet, is_valid, parent_session_id, spawn_context
		 FROM sessions WHERE id LIKE ? AND is_valid=1`, prefix+"%")
	if err != nil {
		return Session{}, fmt.Errorf("find session by prefix: %w", err)
	}
	defer rows.Close()

	matches, err := scanSessions(rows)
	if err != nil {
		return Session{}, err
	}
	switch len(matches) {
	case 0:
		return Session{}, agtraceerr.New(agtraceerr.KindNotFound, fmt.Sprintf("no session matches prefix %q", prefix))
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return Session{}, agtraceerr.New(agtraceerr.KindAmbiguous,
			fmt.Sprintf("prefix %q matches multiple sessions: %s", prefix, strings.Join(ids, ", ")))
	}
}

func (s *sqliteStore) GetSessionFiles(ctx context.Context, sessionID string) ([]LogFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, session_id, role, file_size, mod_time FROM log_files
		 WHERE session_id = ?
		 ORDER BY CASE role WHEN 'main' THEN 0 ELSE 1 END, mod_time`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session files: %w", err)
	}
	defer rows.Close()

	var out []LogFile
	for rows.Next() {
		var f LogFile
		var role string
		var modTime sql.NullString
		if err := rows.Scan(&f.Path, &f.SessionID, &role, &f.FileSize, &modTime); err != nil {
			return nil, fmt.Errorf("scan log file: %w", err)
		}
		f.Role = FileRole(role)
		f.ModTime = parseTime(modTime)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SoftDeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_valid=0 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("soft delete session: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		var sess Session
		var projectHash, startTS, endTS sql.NullString
		var isValid int
		if err := rows.Scan(&sess.ID, &projectHash, &sess.Provider, &startTS, &endTS,
			&sess.Snippet, &isValid, &sess.ParentSessionID, &sess.SpawnContext); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.ProjectHash = ProjectHash(projectHash.String)
		sess.IsValid = isValid != 0
		sess.StartTS = parseTime(startTS)
		sess.EndTS = parseTime(endTS)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
