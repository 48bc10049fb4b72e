package router

import (
	"fmt"
	"sort"
	"strings"

	"logsight-backend/internal/keyword"
	"logsight-backend/internal/vector"
)

// emptyKeywordResultPrefix is the fixed sentinel the dispatcher checks to
// decide whether a keyword search found nothing. formatKeywordResults is the
// only producer of this phrasing.
const emptyKeywordResultPrefix = "No logs found containing"

const (
	maxShownTimeRange = 10
	maxShownKeyword   = 15
)

// Each formatter returns self-describing text: counts, distributions and
// truncation notices, because the oracle only ever sees this text, never the
// structured rows.

func formatTimeRangeResults(start, end string, rows []keyword.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No logs in the time range %s to %s", start, end)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d logs:\n", len(rows))
	fmt.Fprintf(&b, "Level distribution: %s\n", formatCounts(levelCounts(rows)))
	b.WriteString("\nFirst logs:\n")
	for i, r := range rows {
		if i >= maxShownTimeRange {
			break
		}
		fmt.Fprintf(&b, "%d. [%s] %s/%s: %s\n", i+1, r.Timestamp, r.Level, r.Tag, truncate(r.Message, 100))
	}
	if len(rows) > maxShownTimeRange {
		fmt.Fprintf(&b, "\n...%d more logs not shown\n", len(rows)-maxShownTimeRange)
	}
	return b.String()
}

func formatKeywordResults(keywords string, rows []keyword.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("%s '%s'", emptyKeywordResultPrefix, keywords)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching logs:\n", len(rows))
	fmt.Fprintf(&b, "Main modules: %s\n", formatCounts(topTagCounts(rows, 5)))
	b.WriteString("\nLog details:\n")
	for i, r := range rows {
		if i >= maxShownKeyword {
			break
		}
		fmt.Fprintf(&b, "%d. [%s] %s/%s (id=%d):\n   %s\n", i+1, r.Timestamp, r.Level, r.Tag, r.ID, truncate(r.Message, 120))
	}
	if len(rows) > maxShownKeyword {
		fmt.Fprintf(&b, "\n...%d more matching logs\n", len(rows)-maxShownKeyword)
	}
	return b.String()
}

func formatSemanticResults(query string, results []vector.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No logs semantically related to '%s'", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d semantically related logs (ordered by distance, smaller is more similar):\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s/%s\n", i+1, r.Metadata.Timestamp, r.Metadata.Level, r.Metadata.Tag)
		fmt.Fprintf(&b, "   %s\n", truncate(r.Document, 150))
		fmt.Fprintf(&b, "   [distance: %.4f]\n\n", r.Distance)
	}
	return b.String()
}

func formatTagResults(tag string, rows []keyword.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No logs with tag containing '%s'", tag)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d logs for tag '%s':\n", len(rows), tag)
	fmt.Fprintf(&b, "Level distribution: %s\n\n", formatCounts(levelCounts(rows)))
	for i, r := range rows {
		fmt.Fprintf(&b, "%d. [%s] %s/%s (id=%d):\n   %s\n", i+1, r.Timestamp, r.Level, r.Tag, r.ID, truncate(r.Message, 100))
	}
	return b.String()
}

func formatContextResults(logID int64, windowSize int, rows []keyword.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("Log id %d not found, no context available", logID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context for log id %d (%d lines before and after):\n\n", logID, windowSize)
	for _, r := range rows {
		marker := "     "
		if r.ID == logID {
			marker = " >>> "
		}
		fmt.Fprintf(&b, "%s[%s] %s/%s:\n%s  %s\n\n", marker, r.Timestamp, r.Level, r.Tag, marker, r.Message)
	}
	return b.String()
}

func formatStatistics(stats *keyword.Statistics) string {
	var b strings.Builder
	b.WriteString("=== Log statistics ===\n\n")
	fmt.Fprintf(&b, "Total logs: %d\n\n", stats.TotalCount)

	b.WriteString("Level distribution:\n")
	total := stats.TotalCount
	if total == 0 {
		total = 1
	}
	for _, lv := range sortedKeys(stats.LevelDistribution) {
		count := stats.LevelDistribution[lv]
		fmt.Fprintf(&b, "  %s: %d (%.1f%%)\n", lv, count, float64(count)/float64(total)*100)
	}

	b.WriteString("\nTop modules (by log count):\n")
	type tagCount struct {
		tag   string
		count int
	}
	tags := make([]tagCount, 0, len(stats.TopTags))
	for tag, count := range stats.TopTags {
		tags = append(tags, tagCount{tag, count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].count != tags[j].count {
			return tags[i].count > tags[j].count
		}
		return tags[i].tag < tags[j].tag
	})
	for i, tc := range tags {
		fmt.Fprintf(&b, "  %d. %s: %d\n", i+1, tc.tag, tc.count)
	}

	if stats.TimeRange.Start != "" && stats.TimeRange.End != "" {
		b.WriteString("\nTime range:\n")
		fmt.Fprintf(&b, "  start: %s\n", stats.TimeRange.Start)
		fmt.Fprintf(&b, "  end: %s\n", stats.TimeRange.End)
	}

	return b.String()
}

func formatToolError(kind ToolKind, err error) string {
	return fmt.Sprintf("The search engine failed while executing %s: %v", kind, err)
}

func levelCounts(rows []keyword.Row) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Level]++
	}
	return counts
}

func topTagCounts(rows []keyword.Row, limit int) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Tag]++
	}
	if len(counts) <= limit {
		return counts
	}

	type tagCount struct {
		tag   string
		count int
	}
	all := make([]tagCount, 0, len(counts))
	for tag, count := range counts {
		all = append(all, tagCount{tag, count})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].count > all[j].count })

	top := make(map[string]int, limit)
	for _, tc := range all[:limit] {
		top[tc.tag] = tc.count
	}
	return top
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, key := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
