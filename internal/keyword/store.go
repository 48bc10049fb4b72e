package keyword

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"logsight-backend/internal/model"
)

var (
	// ErrStoreUnavailable wraps failures of the underlying database, so
	// callers can tell a broken store apart from an empty result.
	ErrStoreUnavailable = errors.New("keyword store unavailable")

	// ErrEntryNotFound is returned when a context lookup references an
	// unknown entry id.
	ErrEntryNotFound = errors.New("log entry not found")
)

// Row is one persisted log entry as returned by queries.
type Row struct {
	ID         int64      `json:"id"`
	Timestamp  string     `json:"timestamp"`
	Instant    *time.Time `json:"instant,omitempty"`
	PID        int        `json:"pid"`
	TID        int        `json:"tid"`
	Level      string     `json:"level"`
	Tag        string     `json:"tag"`
	Message    string     `json:"message"`
	RawLine    string     `json:"raw_line"`
	LineNumber int        `json:"line_number"`
	SessionID  string     `json:"session_id"`
}

// SearchQuery describes a full-text search with optional structured filters.
// Keywords supports FTS5 syntax, so "crash OR fatal" works as expected.
type SearchQuery struct {
	Keywords  string
	Level     string
	Tag       string
	StartTime *time.Time
	EndTime   *time.Time
	SessionID string
	Limit     int
}

// Statistics summarizes stored entries for one session or the whole store.
type Statistics struct {
	TotalCount        int            `json:"total_count"`
	LevelDistribution map[string]int `json:"level_distribution"`
	TopTags           map[string]int `json:"top_tags"`
	TimeRange         TimeRange      `json:"time_range"`
}

// TimeRange holds the earliest and latest resolved instants as RFC3339
// strings, empty when no entry carries a resolvable time.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Store is the exact-match retrieval engine. The full-text index is kept in
// the same transaction as the row writes, so a search immediately after an
// insert always sees the new rows.
type Store interface {
	Insert(ctx context.Context, entries []*model.LogEntry, sessionID string) (int, error)
	SearchKeywords(ctx context.Context, q SearchQuery) ([]Row, error)
	GetByTimeRange(ctx context.Context, start, end time.Time, level, sessionID string, limit int) ([]Row, error)
	FilterByTag(ctx context.Context, tagSubstring, sessionID string, limit int) ([]Row, error)
	GetContext(ctx context.Context, entryID int64, windowSize int) ([]Row, error)
	GetStatistics(ctx context.Context, sessionID string) (*Statistics, error)
	ClearSession(ctx context.Context, sessionID string) error
	Close() error
}

type sqliteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

const defaultSearchLimit = 50

// instantLayout pads the fractional second to a fixed nine digits. Instants
// are compared and ordered as text in SQL, so the format must keep
// lexicographic order equal to chronological order; RFC3339Nano trims
// trailing zeros and breaks that within a second.
const instantLayout = "2006-01-02T15:04:05.000000000Z07:00"

// schema: a plain row table plus an external-content FTS5 table over tag and
// message. The triggers mirror every row change into the index, which is what
// keeps the two transactionally consistent.
const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	instant TEXT,
	pid INTEGER,
	tid INTEGER,
	level TEXT,
	tag TEXT,
	message TEXT,
	raw_line TEXT,
	line_number INTEGER,
	session_id TEXT,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_logs_instant ON logs(instant);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
CREATE INDEX IF NOT EXISTS idx_logs_tag ON logs(tag);
CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id);

CREATE VIRTUAL TABLE IF NOT EXISTS logs_fts USING fts5(
	tag,
	message,
	content='logs',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS logs_ai AFTER INSERT ON logs BEGIN
	INSERT INTO logs_fts(rowid, tag, message)
	VALUES (new.id, new.tag, new.message);
END;

CREATE TRIGGER IF NOT EXISTS logs_ad AFTER DELETE ON logs BEGIN
	INSERT INTO logs_fts(logs_fts, rowid, tag, message)
	VALUES ('delete', old.id, old.tag, old.message);
END;

CREATE TRIGGER IF NOT EXISTS logs_au AFTER UPDATE ON logs BEGIN
	INSERT INTO logs_fts(logs_fts, rowid, tag, message)
	VALUES ('delete', old.id, old.tag, old.message);
	INSERT INTO logs_fts(rowid, tag, message)
	VALUES (new.id, new.tag, new.message);
END;
`

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists. WAL mode keeps queries responsive during bulk inserts.
// The driver must be built with the sqlite_fts5 tag (see the Makefile); a
// driver without FTS5 fails here rather than at first search.
func NewStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "no such module: fts5") {
			return nil, fmt.Errorf("%w: sqlite was compiled without FTS5, rebuild with -tags sqlite_fts5: %v", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("path", path).Msg("Keyword store initialized")
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Insert(ctx context.Context, entries []*model.LogEntry, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (timestamp, instant, pid, tid, level, tag, message, raw_line, line_number, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare insert: %v", ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var instant any
		if e.Instant != nil {
			instant = e.Instant.Format(instantLayout)
		}
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp, instant, e.PID, e.TID, string(e.Level),
			e.Tag, e.Message, e.RawLine, e.LineNumber, sessionID,
		); err != nil {
			return 0, fmt.Errorf("%w: insert entry line %d: %v", ErrStoreUnavailable, e.LineNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit insert: %v", ErrStoreUnavailable, err)
	}

	log.Info().Int("count", len(entries)).Str("sessionId", sessionID).Msg("Inserted log entries")
	return len(entries), nil
}

func (s *sqliteStore) SearchKeywords(ctx context.Context, q SearchQuery) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}

	query := `
		SELECT l.id, l.timestamp, l.instant, l.pid, l.tid, l.level, l.tag, l.message, l.raw_line, l.line_number, l.session_id
		FROM logs l
		JOIN logs_fts fts ON l.id = fts.rowid
		WHERE fts.logs_fts MATCH ?
	`
	args := []any{q.Keywords}

	if q.Level != "" {
		query += " AND l.level = ?"
		args = append(args, q.Level)
	}
	if q.Tag != "" {
		query += " AND l.tag LIKE ?"
		args = append(args, "%"+q.Tag+"%")
	}
	if q.StartTime != nil {
		query += " AND l.instant >= ?"
		args = append(args, q.StartTime.Format(instantLayout))
	}
	if q.EndTime != nil {
		query += " AND l.instant <= ?"
		args = append(args, q.EndTime.Format(instantLayout))
	}
	if q.SessionID != "" {
		query += " AND l.session_id = ?"
		args = append(args, q.SessionID)
	}
	query += " ORDER BY l.instant LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("keywords", q.Keywords).Int("results", len(rows)).Msg("Keyword search completed")
	return rows, nil
}

func (s *sqliteStore) GetByTimeRange(ctx context.Context, start, end time.Time, level, sessionID string, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, instant, pid, tid, level, tag, message, raw_line, line_number, session_id
		FROM logs
		WHERE instant >= ? AND instant <= ?
	`
	args := []any{start.Format(instantLayout), end.Format(instantLayout)}

	if level != "" {
		query += " AND level = ?"
		args = append(args, level)
	}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY instant LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	log.Info().Int("results", len(rows)).Msg("Time range query completed")
	return rows, nil
}

func (s *sqliteStore) FilterByTag(ctx context.Context, tagSubstring, sessionID string, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, instant, pid, tid, level, tag, message, raw_line, line_number, session_id
		FROM logs
		WHERE tag LIKE ?
	`
	args := []any{"%" + tagSubstring + "%"}

	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY instant LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("tag", tagSubstring).Int("results", len(rows)).Msg("Tag filter completed")
	return rows, nil
}

func (s *sqliteStore) GetContext(ctx context.Context, entryID int64, windowSize int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lineNumber int
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT line_number, session_id FROM logs WHERE id = ?", entryID,
	).Scan(&lineNumber, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn().Int64("entryId", entryID).Msg("Context lookup for unknown entry")
		return nil, fmt.Errorf("%w: id %d", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve entry: %v", ErrStoreUnavailable, err)
	}

	rows, err := s.queryRows(ctx, `
		SELECT id, timestamp, instant, pid, tid, level, tag, message, raw_line, line_number, session_id
		FROM logs
		WHERE session_id = ? AND line_number >= ? AND line_number <= ?
		ORDER BY line_number
	`, sessionID, lineNumber-windowSize, lineNumber+windowSize)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("entryId", entryID).Int("lines", len(rows)).Msg("Context lookup completed")
	return rows, nil
}

func (s *sqliteStore) GetStatistics(ctx context.Context, sessionID string) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := ""
	var args []any
	if sessionID != "" {
		where = " WHERE session_id = ?"
		args = []any{sessionID}
	}

	stats := &Statistics{
		LevelDistribution: make(map[string]int),
		TopTags:           make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs"+where, args...).Scan(&stats.TotalCount); err != nil {
		return nil, fmt.Errorf("%w: count rows: %v", ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT level, COUNT(*) FROM logs"+where+" GROUP BY level", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: level distribution: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("%w: scan level row: %v", ErrStoreUnavailable, err)
		}
		stats.LevelDistribution[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: level distribution: %v", ErrStoreUnavailable, err)
	}

	tagRows, err := s.db.QueryContext(ctx,
		"SELECT tag, COUNT(*) AS c FROM logs"+where+" GROUP BY tag ORDER BY c DESC LIMIT 10", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: top tags: %v", ErrStoreUnavailable, err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		var count int
		if err := tagRows.Scan(&tag, &count); err != nil {
			return nil, fmt.Errorf("%w: scan tag row: %v", ErrStoreUnavailable, err)
		}
		stats.TopTags[tag] = count
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: top tags: %v", ErrStoreUnavailable, err)
	}

	timeWhere := " WHERE instant IS NOT NULL"
	if sessionID != "" {
		timeWhere = " WHERE session_id = ? AND instant IS NOT NULL"
	}
	var start, end sql.NullString
	if err := s.db.QueryRowContext(ctx,
		"SELECT MIN(instant), MAX(instant) FROM logs"+timeWhere, args...,
	).Scan(&start, &end); err != nil {
		return nil, fmt.Errorf("%w: time range: %v", ErrStoreUnavailable, err)
	}
	stats.TimeRange = TimeRange{Start: start.String, End: end.String}

	return stats, nil
}

func (s *sqliteStore) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM logs WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("%w: delete session rows: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("sessionId", sessionID).Msg("Cleared keyword store session")
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var r Row
		var instant sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &instant, &r.PID, &r.TID,
			&r.Level, &r.Tag, &r.Message, &r.RawLine, &r.LineNumber, &r.SessionID); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", ErrStoreUnavailable, err)
		}
		if instant.Valid {
			if t, err := time.Parse(time.RFC3339Nano, instant.String); err == nil {
				r.Instant = &t
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", ErrStoreUnavailable, err)
	}
	return result, nil
}
