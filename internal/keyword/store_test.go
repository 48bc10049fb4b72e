package keyword_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsight-backend/internal/keyword"
	"logsight-backend/internal/model"
)

func newTestStore(t *testing.T) keyword.Store {
	t.Helper()
	store, err := keyword.NewStore(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(lineNumber int, level model.Level, tag, message string, at time.Time) *model.LogEntry {
	return &model.LogEntry{
		Timestamp:  at.Format("01-02 15:04:05.000"),
		Instant:    &at,
		PID:        1234,
		TID:        5678,
		Level:      level,
		Tag:        tag,
		Message:    message,
		RawLine:    fmt.Sprintf("%s %s: %s", level, tag, message),
		LineNumber: lineNumber,
	}
}

func baseTime() time.Time {
	return time.Date(2025, time.November, 26, 14, 28, 0, 0, time.UTC)
}

func seedEntries() []*model.LogEntry {
	at := baseTime()
	return []*model.LogEntry{
		testEntry(1, model.LevelInfo, "ActivityManager", "Start proc com.example.app", at),
		testEntry(2, model.LevelWarn, "CameraService", "camera device busy", at.Add(1*time.Second)),
		testEntry(3, model.LevelError, "CameraService", "fatal error opening camera HAL", at.Add(2*time.Second)),
		testEntry(4, model.LevelError, "AndroidRuntime", "FATAL EXCEPTION: main", at.Add(3*time.Second)),
		testEntry(5, model.LevelInfo, "SystemServer", "boot completed", at.Add(4*time.Second)),
	}
}

func TestStore_InsertThenSearchSeesRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: "fatal", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CameraService", rows[0].Tag)
	assert.Equal(t, "AndroidRuntime", rows[1].Tag)
}

func TestStore_SearchSupportsBooleanOr(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: "boot OR busy", SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStore_SearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{
		Keywords: "camera",
		Level:    "E",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "fatal error opening camera HAL", rows[0].Message)

	rows, err = store.SearchKeywords(ctx, keyword.SearchQuery{
		Keywords: "camera",
		Tag:      "Runtime",
	})
	require.NoError(t, err)
	assert.Empty(t, rows, "tag filter must exclude non-matching tags")
}

func TestStore_SearchEmptyResultIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: "bluetooth"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_GetByTimeRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	start := baseTime().Add(1 * time.Second)
	end := baseTime().Add(3 * time.Second)
	rows, err := store.GetByTimeRange(ctx, start, end, "", "s1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].LineNumber)
	assert.Equal(t, 4, rows[2].LineNumber)

	rows, err = store.GetByTimeRange(ctx, start, end, "E", "s1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStore_FilterByTagSubstring(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	rows, err := store.FilterByTag(ctx, "Camera", "s1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStore_GetContextWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := baseTime()
	entries := make([]*model.LogEntry, 0, 100)
	for i := 1; i <= 100; i++ {
		entries = append(entries, testEntry(i, model.LevelInfo, "Tag", fmt.Sprintf("line %d", i), at.Add(time.Duration(i)*time.Second)))
	}
	_, err := store.Insert(ctx, entries, "s1")
	require.NoError(t, err)

	target, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: `"line 50"`, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, target, 1)

	rows, err := store.GetContext(ctx, target[0].ID, 5)
	require.NoError(t, err)
	require.Len(t, rows, 11)
	assert.Equal(t, 45, rows[0].LineNumber)
	assert.Equal(t, 55, rows[10].LineNumber)
}

func TestStore_GetContextUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetContext(context.Background(), 9999, 5)
	assert.ErrorIs(t, err, keyword.ErrEntryNotFound)
}

func TestStore_GetStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)

	stats, err := store.GetStatistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCount)
	assert.Equal(t, 2, stats.LevelDistribution["E"])
	assert.Equal(t, 2, stats.LevelDistribution["I"])
	assert.Equal(t, 2, stats.TopTags["CameraService"])
	assert.NotEmpty(t, stats.TimeRange.Start)
	assert.NotEmpty(t, stats.TimeRange.End)
}

func TestStore_ClearSessionLeavesOthersUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, seedEntries(), "s1")
	require.NoError(t, err)
	_, err = store.Insert(ctx, seedEntries(), "s2")
	require.NoError(t, err)

	require.NoError(t, store.ClearSession(ctx, "s1"))

	s1, err := store.GetStatistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, s1.TotalCount)

	s2, err := store.GetStatistics(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 5, s2.TotalCount)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: "fatal", SessionID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, rows, "index entries must be removed with their rows")
}

func TestStore_RoundTripPreservesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := baseTime()
	entry := testEntry(7, model.LevelWarn, "Wifi", "[MEMORY] low memory while scanning", at)
	_, err := store.Insert(ctx, []*model.LogEntry{entry}, "s1")
	require.NoError(t, err)

	rows, err := store.FilterByTag(ctx, "Wifi", "s1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, "W", got.Level)
	assert.Equal(t, "Wifi", got.Tag)
	assert.Equal(t, "[MEMORY] low memory while scanning", got.Message)
	assert.Equal(t, 7, got.LineNumber)
	require.NotNil(t, got.Instant)
	assert.True(t, got.Instant.Equal(at))
}

func errIsUnavailable(err error) bool {
	return errors.Is(err, keyword.ErrStoreUnavailable)
}

func TestStore_ClosedStoreReportsUnavailable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.GetStatistics(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, errIsUnavailable(err))
}

func TestStore_TimeRangeIncludesSubSecondInstants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := baseTime()
	entries := []*model.LogEntry{
		testEntry(1, model.LevelInfo, "SensorService", "accel sample batch flushed", at),
		testEntry(2, model.LevelInfo, "SensorService", "gyro sample batch flushed", at.Add(500*time.Millisecond)),
		testEntry(3, model.LevelInfo, "SensorService", "mag sample batch flushed", at.Add(1*time.Second)),
	}
	_, err := store.Insert(ctx, entries, "s1")
	require.NoError(t, err)

	rows, err := store.GetByTimeRange(ctx, at, at.Add(1*time.Second), "", "s1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Whole-second and half-second instants must interleave chronologically.
	assert.Equal(t, 1, rows[0].LineNumber)
	assert.Equal(t, 2, rows[1].LineNumber)
	assert.Equal(t, 3, rows[2].LineNumber)
}

func TestStore_SubSecondOrderingAcrossQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := baseTime()
	// Inserted out of order on purpose.
	entries := []*model.LogEntry{
		testEntry(1, model.LevelWarn, "Vibrator", "effect clipped at 750ms", at.Add(750*time.Millisecond)),
		testEntry(2, model.LevelWarn, "Vibrator", "effect clipped at 0ms", at),
		testEntry(3, model.LevelWarn, "Vibrator", "effect clipped at 250ms", at.Add(250*time.Millisecond)),
	}
	_, err := store.Insert(ctx, entries, "s1")
	require.NoError(t, err)

	rows, err := store.SearchKeywords(ctx, keyword.SearchQuery{Keywords: "clipped", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].LineNumber)
	assert.Equal(t, 3, rows[1].LineNumber)
	assert.Equal(t, 1, rows[2].LineNumber)

	// A range filter whose bound falls on a whole second must still include
	// sub-second instants inside it.
	start := at
	end := at.Add(1 * time.Second)
	filtered, err := store.SearchKeywords(ctx, keyword.SearchQuery{
		Keywords:  "clipped",
		StartTime: &start,
		EndTime:   &end,
		SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Len(t, filtered, 3)

	// Round-tripped instants keep their millisecond parts.
	require.NotNil(t, rows[2].Instant)
	assert.Equal(t, at.Add(750*time.Millisecond), rows[2].Instant.UTC())
}
