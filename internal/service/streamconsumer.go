package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"logsight-backend/config"
	"logsight-backend/internal/kafka"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/model"
	"logsight-backend/internal/preprocess"
	"logsight-backend/internal/vector"

	"github.com/rs/zerolog/log"
	kafkaGo "github.com/segmentio/kafka-go"
)

// LogConsumerService drains the Kafka log topic in batches, preprocesses each
// batch and indexes it into both stores. Offsets are committed only after both
// stores accepted the batch, so a crash replays instead of losing entries.
type LogConsumerService interface {
	Run(ctx context.Context, wg *sync.WaitGroup)
}

type logConsumerService struct {
	consumer     kafka.LogConsumer
	keywordStore keyword.Store
	vectorStore  vector.Store
	preprocessor *preprocess.Preprocessor
	batchSize    int
	maxWaitTime  time.Duration
	vectorBatch  int
}

func NewLogConsumerService(
	consumer kafka.LogConsumer,
	keywordStore keyword.Store,
	vectorStore vector.Store,
	cfg *config.Config,
) LogConsumerService {
	return &logConsumerService{
		consumer:     consumer,
		keywordStore: keywordStore,
		vectorStore:  vectorStore,
		preprocessor: preprocess.New(preprocess.DefaultConfig()),
		batchSize:    cfg.LogProcessor.BatchSize,
		maxWaitTime:  cfg.LogProcessor.MaxBatchWait,
		vectorBatch:  cfg.Vector.BatchSize,
	}
}

func (s *logConsumerService) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	log.Info().Msg("Starting Log Consumer Service loop...")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Log Consumer Service loop stopping due to context cancellation.")
			return
		default:
		}

		err := s.processBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("Context cancelled during batch processing.")
				return
			}
			log.Error().Err(err).Msg("Error processing consumer batch")
			time.Sleep(1 * time.Second)
		}
	}
}

func (s *logConsumerService) processBatch(ctx context.Context) error {
	consumed := make([]*kafka.ConsumedEntry, 0, s.batchSize)
	originalMessages := make([]kafkaGo.Message, 0, s.batchSize)
	batchStartTime := time.Now()

	for len(consumed) < s.batchSize {
		select {
		case <-ctx.Done():
			log.Info().Msg("Context cancelled while building consumer batch.")
			return ctx.Err()
		default:
		}

		remaining := s.maxWaitTime - time.Since(batchStartTime)
		if remaining <= 0 {
			break
		}
		fetchCtx, cancel := context.WithTimeout(ctx, remaining)
		entry, originalMsg, err := s.consumer.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Debug().Int("batch_size", len(consumed)).Msg("Max wait time reached for batch, processing partial batch.")
				break
			}
			// Undecodable messages still get committed so the partition
			// does not wedge on one bad payload.
			if originalMsg.Topic != "" {
				log.Warn().Int64("offset", originalMsg.Offset).Msg("Adding message with unmarshal error to batch for commit tracking.")
				originalMessages = append(originalMessages, originalMsg)
				continue
			}
			log.Error().Err(err).Msg("Failed to fetch message, stopping batch accumulation for now.")
			return fmt.Errorf("failed to fetch kafka message: %w", err)
		}

		consumed = append(consumed, entry)
		originalMessages = append(originalMessages, originalMsg)
	}

	if len(originalMessages) == 0 {
		log.Debug().Msg("No messages in batch to process.")
		return nil
	}

	if err := s.indexBatch(ctx, consumed); err != nil {
		log.Warn().Msg("Skipping Kafka commit due to storage errors.")
		return err
	}

	if err := s.consumer.CommitMessages(ctx, originalMessages...); err != nil {
		log.Error().Err(err).Msg("Failed to commit Kafka messages after successful storage")
		return fmt.Errorf("failed committing kafka messages: %w", err)
	}
	log.Info().Int("batch_size", len(consumed)).Msg("Successfully processed and committed batch.")
	return nil
}

// indexBatch groups entries by session, preprocesses each group and writes it
// to both stores.
func (s *logConsumerService) indexBatch(ctx context.Context, consumed []*kafka.ConsumedEntry) error {
	bySession := make(map[string][]*model.LogEntry)
	for _, c := range consumed {
		if c == nil || c.Entry == nil {
			continue
		}
		bySession[c.SessionID] = append(bySession[c.SessionID], c.Entry)
	}

	for sessionID, entries := range bySession {
		processed := s.preprocessor.Process(entries)
		if len(processed) == 0 {
			continue
		}

		if _, err := s.keywordStore.Insert(ctx, processed, sessionID); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to index batch into keyword store")
			return fmt.Errorf("failed storing logs: %w", err)
		}

		report, err := s.vectorStore.Insert(ctx, processed, sessionID, s.vectorBatch)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to index batch into vector store")
			return fmt.Errorf("failed storing vectors: %w", err)
		}
		for _, failure := range report.FailedBatches {
			log.Warn().Int("batch", failure.Batch).Str("error", failure.Error).Msg("Vector batch failed during stream indexing")
		}
	}
	return nil
}
