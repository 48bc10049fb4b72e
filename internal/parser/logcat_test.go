package parser_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsight-backend/internal/model"
	"logsight-backend/internal/parser"
)

func TestLogcatParser_ParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected *model.LogEntry
	}{
		{
			name: "Valid Info Entry",
			line: "11-26 14:00:05.123  1234  1256 I SystemServer: System startup completed",
			expected: &model.LogEntry{
				Timestamp: "11-26 14:00:05.123",
				PID:       1234,
				TID:       1256,
				Level:     model.LevelInfo,
				Tag:       "SystemServer",
				Message:   "System startup completed",
			},
		},
		{
			name: "Valid Error Entry With Padded Tag",
			line: "11-26 14:28:45.001   812   812 E CameraService : Failed to open camera device 0",
			expected: &model.LogEntry{
				Timestamp: "11-26 14:28:45.001",
				PID:       812,
				TID:       812,
				Level:     model.LevelError,
				Tag:       "CameraService",
				Message:   "Failed to open camera device 0",
			},
		},
		{
			name: "Valid Entry With Empty Message",
			line: "01-02 03:04:05.006  1  2 W chatty:",
			expected: &model.LogEntry{
				Timestamp: "01-02 03:04:05.006",
				PID:       1,
				TID:       2,
				Level:     model.LevelWarn,
				Tag:       "chatty",
				Message:   "",
			},
		},
		{
			name:     "Invalid - Missing Millis",
			line:     "11-26 14:00:05  1234  1256 I SystemServer: message",
			expected: nil,
		},
		{
			name:     "Invalid - Unknown Level",
			line:     "11-26 14:00:05.123  1234  1256 X SystemServer: message",
			expected: nil,
		},
		{
			name:     "Invalid - Missing Colon",
			line:     "11-26 14:00:05.123  1234  1256 I SystemServer message",
			expected: nil,
		},
		{
			name:     "Invalid - Free Text",
			line:     "--------- beginning of main",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parser.NewLogcatParser(2025)
			entry := p.ParseLine(tt.line, 7)

			if tt.expected == nil {
				assert.Nil(t, entry)
				if tt.line != "" {
					assert.Equal(t, 1, p.Stats().Failed)
				}
				return
			}

			require.NotNil(t, entry)
			assert.Equal(t, tt.expected.Timestamp, entry.Timestamp)
			assert.Equal(t, tt.expected.PID, entry.PID)
			assert.Equal(t, tt.expected.TID, entry.TID)
			assert.Equal(t, tt.expected.Level, entry.Level)
			assert.Equal(t, tt.expected.Tag, entry.Tag)
			assert.Equal(t, tt.expected.Message, entry.Message)
			assert.Equal(t, 7, entry.LineNumber)
			assert.Equal(t, 1, p.Stats().Parsed)
		})
	}
}

func TestLogcatParser_ResolvesInstant(t *testing.T) {
	p := parser.NewLogcatParser(2025)
	entry := p.ParseLine("11-26 14:00:05.123  1234  1256 I SystemServer: ok", 1)

	require.NotNil(t, entry)
	require.NotNil(t, entry.Instant)
	expected := time.Date(2025, time.November, 26, 14, 0, 5, 123*int(time.Millisecond), time.UTC)
	assert.True(t, entry.Instant.Equal(expected))
}

func TestLogcatParser_InvalidCalendarDateKeepsEntry(t *testing.T) {
	p := parser.NewLogcatParser(2025)
	entry := p.ParseLine("02-30 10:00:00.000  100  101 E Kernel: oops", 3)

	require.NotNil(t, entry, "entry with an impossible date must still be kept")
	assert.Nil(t, entry.Instant)
	assert.Equal(t, "02-30 10:00:00.000", entry.Timestamp)
	assert.Equal(t, 1, p.Stats().Parsed)
	assert.Equal(t, 1, p.Stats().InvalidTimestamp)
}

func TestLogcatParser_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.log")
	content := "11-26 14:00:05.123  1234  1256 I SystemServer: startup\n" +
		"not a log line\n" +
		"\n" +
		"11-26 14:00:06.000  1234  1260 E ActivityManager: crash detected\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p := parser.NewLogcatParser(2025)
	entries, err := p.ParseFile(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].LineNumber)
	assert.Equal(t, 4, entries[1].LineNumber)
	assert.Equal(t, model.LevelError, entries[1].Level)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Parsed)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)
}

func TestLogcatParser_ParseFileMaxLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.log")
	content := "11-26 14:00:05.123  1  1 I A: one\n" +
		"11-26 14:00:05.124  1  1 I A: two\n" +
		"11-26 14:00:05.125  1  1 I A: three\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p := parser.NewLogcatParser(2025)
	entries, err := p.ParseFile(path, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLogcatParser_ParseFileMissing(t *testing.T) {
	p := parser.NewLogcatParser(2025)
	_, err := p.ParseFile("/nonexistent/file.log", 0)
	assert.Error(t, err)
}
