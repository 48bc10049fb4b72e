package service

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"logsight-backend/config"
	"logsight-backend/internal/filestate"
	"logsight-backend/internal/kafka"
	"logsight-backend/internal/model"
	"logsight-backend/internal/parser"

	"github.com/rs/zerolog/log"
)

// LogProducerService tails logcat files under the configured directory and
// ships newly appended entries to Kafka. Each file maps to one session whose
// id is the file name without extension, so repeated runs extend the same
// session instead of forking a new one.
type LogProducerService interface {
	ProcessLogs(ctx context.Context) error
}

type logProducerService struct {
	producer    kafka.LogProducer
	stateMgr    filestate.Manager
	cfg         *config.LogProcessorConfig
	processLock sync.Mutex
}

func NewLogProducerService(
	cfg *config.Config,
	stateMgr filestate.Manager,
	producer kafka.LogProducer,
) LogProducerService {
	return &logProducerService{
		cfg:      &cfg.LogProcessor,
		stateMgr: stateMgr,
		producer: producer,
	}
}

func (s *logProducerService) ProcessLogs(ctx context.Context) error {
	if !s.processLock.TryLock() {
		log.Warn().Msg("Log processing already in progress, skipping run.")
		return nil
	}
	defer s.processLock.Unlock()

	log.Info().Msg("Starting log processing cycle...")
	startTime := time.Now()

	currentState, err := s.stateMgr.LoadState()
	if err != nil {
		log.Error().Err(err).Str("file", s.stateMgr.GetStateFilePath()).Msg("Failed to load initial file state")
		return fmt.Errorf("failed to load file state: %w", err)
	}

	newState := make(filestate.FileProcessState)
	for k, v := range currentState {
		newState[k] = v
	}

	logFiles, err := s.findLogFiles()
	if err != nil {
		log.Error().Err(err).Msg("Failed to find log files")
		return fmt.Errorf("failed to find log files: %w", err)
	}
	log.Debug().Int("file_count", len(logFiles)).Msg("Found log files to process")

	var totalLinesRead int64
	var totalEntriesSent int64

	for _, filePath := range logFiles {
		linesRead, lastLine, entries, err := s.processSingleFile(ctx, filePath, newState[filePath])
		if err != nil {
			log.Error().Err(err).Str("file", filePath).Msg("Failed to process file")
			newState[filePath] = currentState[filePath]
			continue
		}

		newState[filePath] = lastLine
		totalLinesRead += linesRead

		if len(entries) > 0 {
			sessionID := sessionForFile(filePath)
			if err := s.sendBatches(ctx, entries, sessionID); err != nil {
				log.Error().Err(err).Str("file", filePath).Msg("Failed to send entries to Kafka")
				newState[filePath] = currentState[filePath]
				continue
			}
			totalEntriesSent += int64(len(entries))
		}
	}

	if err := s.stateMgr.SaveState(newState); err != nil {
		log.Error().Err(err).Msg("Failed to save final file state")
		return fmt.Errorf("failed to save final file state: %w", err)
	}

	duration := time.Since(startTime)
	log.Info().
		Int64("lines_read", totalLinesRead).
		Int64("entries_sent", totalEntriesSent).
		Int("files_processed", len(logFiles)).
		Dur("duration", duration).
		Msg("Finished log processing cycle.")

	return nil
}

func (s *logProducerService) findLogFiles() ([]string, error) {
	files, err := os.ReadDir(s.cfg.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}
	var logFiles []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".log") {
			logFiles = append(logFiles, filepath.Join(s.cfg.LogDirectory, f.Name()))
		}
	}
	return logFiles, nil
}

// processSingleFile reads the lines appended since startLine and parses them.
// A shrunken file is treated as rotated and re-read from the beginning.
func (s *logProducerService) processSingleFile(ctx context.Context, filePath string, startLine int) (linesRead int64, lastLine int, entries []*model.LogEntry, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, startLine, nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	p := parser.NewLogcatParser(s.cfg.ReferenceYear)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		select {
		case <-ctx.Done():
			log.Info().Str("file", filePath).Msg("Context cancelled during file processing.")
			return linesRead, lineNumber, entries, ctx.Err()
		default:
		}

		if lineNumber <= startLine {
			continue
		}
		linesRead++
		if entry := p.ParseLine(scanner.Text(), lineNumber); entry != nil {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return linesRead, lineNumber, entries, fmt.Errorf("error reading file %s: %w", filePath, err)
	}

	if lineNumber < startLine {
		log.Warn().Str("file", filePath).Int("last_line", startLine).Int("current_lines", lineNumber).Msg("File truncated or rotated? Resetting offset.")
		return s.processSingleFile(ctx, filePath, 0)
	}

	log.Debug().Str("file", filePath).Int64("lines_read", linesRead).Int("entries_created", len(entries)).Msg("Finished processing file")
	return linesRead, lineNumber, entries, nil
}

func (s *logProducerService) sendBatches(ctx context.Context, entries []*model.LogEntry, sessionID string) error {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(entries)
	}
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		log.Debug().Int("batch_size", end-start).Msg("Sending batch to Kafka...")
		if err := s.producer.Produce(ctx, entries[start:end], sessionID); err != nil {
			return fmt.Errorf("kafka produce error: %w", err)
		}
	}
	return nil
}

func sessionForFile(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
