package service

import (
	"context"
	"fmt"

	"logsight-backend/config"
	"logsight-backend/internal/dto"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/parser"
	"logsight-backend/internal/preprocess"
	"logsight-backend/internal/session"
	"logsight-backend/internal/vector"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// IngestService runs the full pipeline for one log file: parse, preprocess,
// index into the keyword store and the vector store under one session id.
type IngestService interface {
	LoadLogs(ctx context.Context, req dto.LoadLogsRequest) (*dto.IngestStatistics, error)
	GetStatistics(ctx context.Context, sessionID string) (*keyword.Statistics, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type ingestService struct {
	keywordStore keyword.Store
	vectorStore  vector.Store
	sessions     *session.Manager
	cfg          *config.LogProcessorConfig
	batchSize    int
}

func NewIngestService(
	cfg *config.Config,
	keywordStore keyword.Store,
	vectorStore vector.Store,
	sessions *session.Manager,
) IngestService {
	return &ingestService{
		keywordStore: keywordStore,
		vectorStore:  vectorStore,
		sessions:     sessions,
		cfg:          &cfg.LogProcessor,
		batchSize:    cfg.Vector.BatchSize,
	}
}

func (s *ingestService) LoadLogs(ctx context.Context, req dto.LoadLogsRequest) (*dto.IngestStatistics, error) {
	sessionID := req.SessionId
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	p := parser.NewLogcatParser(s.cfg.ReferenceYear)
	entries, err := p.ParseFile(req.FilePath, req.MaxLines)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log file: %w", err)
	}
	parseStats := p.Stats()

	pre := preprocess.New(preprocess.DefaultConfig())
	processed := pre.Process(entries)
	log.Info().
		Str("session_id", sessionID).
		Int("parsed", parseStats.Parsed).
		Int("after_preprocessing", len(processed)).
		Msg("Preprocessing complete")

	if _, err := s.keywordStore.Insert(ctx, processed, sessionID); err != nil {
		return nil, fmt.Errorf("failed to index logs into keyword store: %w", err)
	}

	report, err := s.vectorStore.Insert(ctx, processed, sessionID, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to index logs into vector store: %w", err)
	}
	for _, failure := range report.FailedBatches {
		log.Warn().Int("batch", failure.Batch).Str("error", failure.Error).Msg("Vector batch failed during ingestion")
	}

	s.sessions.SetCurrent(sessionID)

	stats, err := s.keywordStore.GetStatistics(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-ingest statistics: %w", err)
	}

	result := &dto.IngestStatistics{
		SessionId:         sessionID,
		ParsedCount:       parseStats.Parsed,
		FailedCount:       parseStats.Failed,
		ProcessedCount:    len(processed),
		IndexedCount:      report.Inserted,
		FailedBatches:     len(report.FailedBatches),
		LevelDistribution: stats.LevelDistribution,
		TimeRange: dto.TimeRange{
			Start: stats.TimeRange.Start,
			End:   stats.TimeRange.End,
		},
	}
	log.Info().
		Str("session_id", sessionID).
		Int("indexed_rows", stats.TotalCount).
		Int("indexed_vectors", report.Inserted).
		Msg("Log file ingested")
	return result, nil
}

func (s *ingestService) GetStatistics(ctx context.Context, sessionID string) (*keyword.Statistics, error) {
	if sessionID == "" {
		sessionID = s.sessions.Current()
	}
	return s.keywordStore.GetStatistics(ctx, sessionID)
}

func (s *ingestService) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.keywordStore.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear keyword store session: %w", err)
	}
	if err := s.vectorStore.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear vector store session: %w", err)
	}
	if s.sessions.Current() == sessionID {
		s.sessions.SetCurrent("")
	}
	log.Info().Str("session_id", sessionID).Msg("Session cleared from both stores")
	return nil
}
