package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"logsight-backend/internal/embedding"
	"logsight-backend/internal/model"
)

// ErrStoreUnavailable wraps failures of the underlying index.
var ErrStoreUnavailable = errors.New("vector store unavailable")

const (
	// DefaultBatchSize bounds how many entries are embedded per provider
	// call. Embedding generation dominates insert cost.
	DefaultBatchSize = 200

	defaultSearchResults = 10
)

// Metadata carries the entry attributes stored alongside each document.
type Metadata struct {
	Timestamp  string `json:"timestamp"`
	Instant    string `json:"instant,omitempty"`
	Level      string `json:"level"`
	Tag        string `json:"tag"`
	LineNumber int    `json:"line_number"`
	SessionID  string `json:"session_id"`
}

// Result is one semantic search hit. Distance is 1 - cosine similarity, so
// smaller means more similar.
type Result struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

// BatchFailure records one failed insert batch.
type BatchFailure struct {
	Batch int    `json:"batch"`
	Error string `json:"error"`
}

// InsertReport summarizes a batched insert. Partial success is the normal
// outcome of large ingestions, so both counts are always reported.
type InsertReport struct {
	Inserted      int            `json:"inserted"`
	Skipped       int            `json:"skipped"`
	FailedBatches []BatchFailure `json:"failed_batches,omitempty"`
}

// Statistics summarizes the whole index.
type Statistics struct {
	TotalDocuments      int            `json:"total_documents"`
	LevelDistribution   map[string]int `json:"level_distribution"`
	SessionDistribution map[string]int `json:"session_distribution"`
}

// Store is the semantic retrieval engine. Only entries at severity W and
// above are indexed, which bounds embedding cost to a minority of ingested
// volume.
type Store interface {
	Insert(ctx context.Context, entries []*model.LogEntry, sessionID string, batchSize int) (*InsertReport, error)
	SemanticSearch(ctx context.Context, query string, nResults int, level, sessionID string) ([]Result, error)
	FindSimilar(ctx context.Context, referenceID string, nResults int) ([]Result, error)
	GetStatistics(ctx context.Context) (*Statistics, error)
	ClearSession(ctx context.Context, sessionID string) error
	Reset(ctx context.Context) error
	Close() error
}

type sqliteStore struct {
	db       *sql.DB
	provider embedding.Provider
	mu       sync.RWMutex
}

const vectorSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	timestamp TEXT,
	instant TEXT,
	level TEXT,
	tag TEXT,
	line_number INTEGER,
	session_id TEXT,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS embeddings (
	document_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	dimensions INTEGER NOT NULL,
	norm REAL NOT NULL DEFAULT 0,
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);
CREATE INDEX IF NOT EXISTS idx_documents_level ON documents(level);
`

// NewStore opens (or creates) the vector index at path. Queries embed the
// search text through the given provider.
func NewStore(path string, provider embedding.Provider) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("path", path).Msg("Vector store initialized")
	return &sqliteStore{db: db, provider: provider}, nil
}

// DocumentID is the deterministic identity of an entry's vector, so
// re-ingesting the same session overwrites instead of duplicating.
func DocumentID(sessionID string, lineNumber int) string {
	return fmt.Sprintf("%s_%d", sessionID, lineNumber)
}

// documentText combines tag and message so the embedding captures both the
// module and the concrete content.
func documentText(e *model.LogEntry) string {
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (s *sqliteStore) Insert(ctx context.Context, entries []*model.LogEntry, sessionID string, batchSize int) (*InsertReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	indexable := make([]*model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Level.AtLeast(model.LevelWarn) {
			indexable = append(indexable, e)
		}
	}
	report := &InsertReport{Skipped: len(entries) - len(indexable)}
	if len(indexable) == 0 {
		log.Warn().Str("sessionId", sessionID).Msg("No indexable entries for vector store")
		return report, nil
	}

	totalBatches := (len(indexable) + batchSize - 1) / batchSize
	log.Info().
		Int("entries", len(indexable)).
		Int("skipped", report.Skipped).
		Int("batches", totalBatches).
		Str("sessionId", sessionID).
		Msg("Starting vector insert")

	for start := 0; start < len(indexable); start += batchSize {
		end := start + batchSize
		if end > len(indexable) {
			end = len(indexable)
		}
		batchNum := start/batchSize + 1

		if err := s.insertBatch(ctx, indexable[start:end], sessionID); err != nil {
			log.Error().Err(err).Int("batch", batchNum).Msg("Vector insert batch failed")
			report.FailedBatches = append(report.FailedBatches, BatchFailure{Batch: batchNum, Error: err.Error()})
			continue
		}
		report.Inserted += end - start
	}

	log.Info().
		Int("inserted", report.Inserted).
		Int("failedBatches", len(report.FailedBatches)).
		Msg("Vector insert complete")
	return report, nil
}

func (s *sqliteStore) insertBatch(ctx context.Context, batch []*model.LogEntry, sessionID string) error {
	texts := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = documentText(e)
	}

	vectors, err := s.provider.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	docStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO documents (id, document, timestamp, instant, level, tag, line_number, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare document insert: %v", ErrStoreUnavailable, err)
	}
	defer docStmt.Close()

	embStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (document_id, embedding, dimensions, norm)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare embedding insert: %v", ErrStoreUnavailable, err)
	}
	defer embStmt.Close()

	for i, e := range batch {
		id := DocumentID(sessionID, e.LineNumber)
		var instant string
		if e.Instant != nil {
			instant = e.Instant.Format(time.RFC3339Nano)
		}
		if _, err := docStmt.ExecContext(ctx, id, texts[i], e.Timestamp, instant,
			string(e.Level), e.Tag, e.LineNumber, sessionID); err != nil {
			return fmt.Errorf("%w: insert document %s: %v", ErrStoreUnavailable, id, err)
		}
		if _, err := embStmt.ExecContext(ctx, id, serializeVector(vectors[i]),
			len(vectors[i]), vectorNorm(vectors[i])); err != nil {
			return fmt.Errorf("%w: insert embedding %s: %v", ErrStoreUnavailable, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) SemanticSearch(ctx context.Context, query string, nResults int, level, sessionID string) ([]Result, error) {
	vectors, err := s.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding for query")
	}
	return s.searchByVector(ctx, vectors[0], nResults, level, sessionID, "")
}

func (s *sqliteStore) FindSimilar(ctx context.Context, referenceID string, nResults int) ([]Result, error) {
	s.mu.RLock()
	var document string
	err := s.db.QueryRowContext(ctx,
		"SELECT document FROM documents WHERE id = ?", referenceID,
	).Scan(&document)
	s.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn().Str("referenceId", referenceID).Msg("Reference document not found")
		return []Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve reference: %v", ErrStoreUnavailable, err)
	}

	vectors, err := s.provider.Embed(ctx, []string{document})
	if err != nil {
		return nil, fmt.Errorf("embed reference document: %w", err)
	}

	// Ask for one extra result since the reference itself will match.
	results, err := s.searchByVector(ctx, vectors[0], nResults+1, "", "", referenceID)
	if err != nil {
		return nil, err
	}
	if len(results) > nResults {
		results = results[:nResults]
	}
	return results, nil
}

func (s *sqliteStore) searchByVector(ctx context.Context, queryVec []float64, nResults int, level, sessionID, excludeID string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if nResults <= 0 {
		nResults = defaultSearchResults
	}
	queryNorm := vectorNorm(queryVec)
	if queryNorm == 0 {
		return []Result{}, nil
	}

	query := `
		SELECT d.id, d.document, d.timestamp, d.instant, d.level, d.tag, d.line_number, d.session_id,
		       e.embedding, e.dimensions, e.norm
		FROM documents d
		JOIN embeddings e ON d.id = e.document_id
		WHERE 1=1
	`
	var args []any
	if level != "" {
		query += " AND d.level = ?"
		args = append(args, level)
	}
	if sessionID != "" {
		query += " AND d.session_id = ?"
		args = append(args, sessionID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query documents: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var instant sql.NullString
		var embBytes []byte
		var dimensions int
		var docNorm float64
		if err := rows.Scan(&r.ID, &r.Document, &r.Metadata.Timestamp, &instant,
			&r.Metadata.Level, &r.Metadata.Tag, &r.Metadata.LineNumber, &r.Metadata.SessionID,
			&embBytes, &dimensions, &docNorm); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ErrStoreUnavailable, err)
		}
		if r.ID == excludeID || docNorm == 0 {
			continue
		}
		r.Metadata.Instant = instant.String

		docVec := deserializeVector(embBytes, dimensions)
		similarity := dotProduct(queryVec, docVec) / (queryNorm * docNorm)
		r.Distance = 1 - similarity
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", ErrStoreUnavailable, err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > nResults {
		results = results[:nResults]
	}

	log.Info().Int("results", len(results)).Msg("Semantic search completed")
	return results, nil
}

func (s *sqliteStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		LevelDistribution:   make(map[string]int),
		SessionDistribution: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("%w: count documents: %v", ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT level, COUNT(*) FROM documents GROUP BY level")
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

	sessionRows, err := s.db.QueryContext(ctx, "SELECT session_id, COUNT(*) FROM documents GROUP BY session_id")
	if err != nil {
		return nil, fmt.Errorf("%w: session distribution: %v", ErrStoreUnavailable, err)
	}
	defer sessionRows.Close()
	for sessionRows.Next() {
		var session string
		var count int
		if err := sessionRows.Scan(&session, &count); err != nil {
			return nil, fmt.Errorf("%w: scan session row: %v", ErrStoreUnavailable, err)
		}
		stats.SessionDistribution[session] = count
	}
	if err := sessionRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: session distribution: %v", ErrStoreUnavailable, err)
	}

	return stats, nil
}

func (s *sqliteStore) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session documents: %v", ErrStoreUnavailable, err)
	}
	deleted, _ := res.RowsAffected()
	log.Info().Str("sessionId", sessionID).Int64("deleted", deleted).Msg("Cleared vector store session")
	return nil
}

func (s *sqliteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS embeddings; DROP TABLE IF EXISTS documents;"); err != nil {
		return fmt.Errorf("%w: drop tables: %v", ErrStoreUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, vectorSchema); err != nil {
		return fmt.Errorf("%w: recreate schema: %v", ErrStoreUnavailable, err)
	}

	log.Warn().Msg("Vector store has been reset")
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// serializeVector packs a vector as little-endian float32.
func serializeVector(v []float64) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		bits := math.Float32bits(float32(x))
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func deserializeVector(b []byte, dimensions int) []float64 {
	v := make([]float64, dimensions)
	for i := 0; i < dimensions && i*4+4 <= len(b); i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = float64(math.Float32frombits(bits))
	}
	return v
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func dotProduct(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
