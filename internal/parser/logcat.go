package parser

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logsight-backend/internal/model"

	"github.com/rs/zerolog/log"
)

// Groups: 1:Month 2:Day 3:Hour 4:Minute 5:Second 6:Millisecond 7:PID 8:TID 9:Level 10:Tag 11:Message
var logcatRegex = regexp.MustCompile(`^(\d{2})-(\d{2})\s+(\d{2}):(\d{2}):(\d{2})\.(\d{3})\s+(\d+)\s+(\d+)\s+([DVIWEF])\s+([^:]+):\s?(.*)$`)

// DefaultReferenceYear is used to resolve absolute times; logcat lines carry
// no year of their own.
const DefaultReferenceYear = 2025

// Stats holds running parse counters for a post-hoc success-rate report.
type Stats struct {
	Parsed           int     `json:"parsed"`
	Failed           int     `json:"failed"`
	InvalidTimestamp int     `json:"invalid_timestamp"`
	SuccessRate      float64 `json:"success_rate"`
}

// LogcatParser parses standard Android logcat lines:
//
//	MM-DD HH:MM:SS.mmm  PID  TID LEVEL TAG: MESSAGE
//
// Non-matching lines are skipped and counted, never returned as errors.
type LogcatParser struct {
	referenceYear    int
	parsedCount      int
	failedCount      int
	invalidTimestamp int
}

func NewLogcatParser(referenceYear int) *LogcatParser {
	if referenceYear <= 0 {
		referenceYear = DefaultReferenceYear
	}
	return &LogcatParser{referenceYear: referenceYear}
}

// ParseLine parses a single log line. It returns nil for blank lines and for
// lines that do not match the logcat grammar; the latter increment the failed
// counter. A line whose literal date does not exist under the reference year
// keeps its entry with a nil Instant.
func (p *LogcatParser) ParseLine(line string, lineNumber int) *model.LogEntry {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	matches := logcatRegex.FindStringSubmatch(line)
	if matches == nil {
		p.failedCount++
		log.Debug().Int("line_number", lineNumber).Str("line", truncate(line, 50)).Msg("Line did not match logcat format")
		return nil
	}

	month, _ := strconv.Atoi(matches[1])
	day, _ := strconv.Atoi(matches[2])
	hour, _ := strconv.Atoi(matches[3])
	minute, _ := strconv.Atoi(matches[4])
	second, _ := strconv.Atoi(matches[5])
	millis, _ := strconv.Atoi(matches[6])
	pid, _ := strconv.Atoi(matches[7])
	tid, _ := strconv.Atoi(matches[8])

	timestamp := fmt.Sprintf("%s-%s %s:%s:%s.%s", matches[1], matches[2], matches[3], matches[4], matches[5], matches[6])

	var instant *time.Time
	t := time.Date(p.referenceYear, time.Month(month), day, hour, minute, second, millis*int(time.Millisecond), time.UTC)
	if int(t.Month()) == month && t.Day() == day {
		instant = &t
	} else {
		// time.Date normalizes impossible dates (e.g. 02-30) instead of failing.
		p.invalidTimestamp++
		log.Warn().Int("line_number", lineNumber).Str("timestamp", timestamp).Msg("Invalid calendar date for reference year, keeping entry without instant")
	}

	entry := &model.LogEntry{
		Timestamp:  timestamp,
		Instant:    instant,
		PID:        pid,
		TID:        tid,
		Level:      model.Level(matches[9]),
		Tag:        strings.TrimSpace(matches[10]),
		Message:    matches[11],
		RawLine:    line,
		LineNumber: lineNumber,
	}

	p.parsedCount++
	return entry
}

// ParseFile streams the file line by line, keeping only the current line in
// memory. maxLines <= 0 means no limit.
func (p *LogcatParser) ParseFile(path string, maxLines int) ([]*model.LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	log.Info().Str("path", path).Msg("Parsing log file")

	var entries []*model.LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		if maxLines > 0 && lineNumber > maxLines {
			log.Info().Int("max_lines", maxLines).Msg("Reached max lines limit")
			break
		}
		if entry := p.ParseLine(scanner.Text(), lineNumber); entry != nil {
			entries = append(entries, entry)
		}
		if lineNumber%10000 == 0 {
			log.Info().Int("lines", lineNumber).Int("parsed", p.parsedCount).Msg("Parse progress")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	log.Info().Int("parsed", p.parsedCount).Int("failed", p.failedCount).Msg("Parsing complete")
	return entries, nil
}

// Stats returns the running counters.
func (p *LogcatParser) Stats() Stats {
	total := p.parsedCount + p.failedCount
	rate := 0.0
	if total > 0 {
		rate = float64(p.parsedCount) / float64(total)
	}
	return Stats{
		Parsed:           p.parsedCount,
		Failed:           p.failedCount,
		InvalidTimestamp: p.invalidTimestamp,
		SuccessRate:      rate,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
