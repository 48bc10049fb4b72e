package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsight-backend/internal/oracle"
	"logsight-backend/internal/router"
)

func TestParseInvocation(t *testing.T) {
	tests := []struct {
		name     string
		call     oracle.ToolCall
		wantKind router.ToolKind
		wantErr  string
		check    func(t *testing.T, inv *router.Invocation)
	}{
		{
			name:     "time range query",
			call:     oracle.ToolCall{Name: "query_logs_by_time_range", Args: map[string]any{"start_time": "2025-11-26T14:00:00", "end_time": "2025-11-26T15:00:00", "level": "E"}},
			wantKind: router.ToolTimeRangeQuery,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.TimeRange)
				assert.Equal(t, "E", inv.TimeRange.Level)
			},
		},
		{
			name:    "time range missing bounds",
			call:    oracle.ToolCall{Name: "query_logs_by_time_range", Args: map[string]any{"level": "E"}},
			wantErr: "start_time",
		},
		{
			name:     "keyword search",
			call:     oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{"keywords": "camera HAL"}},
			wantKind: router.ToolKeywordSearch,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.Keyword)
				assert.Equal(t, "camera HAL", inv.Keyword.Keywords)
			},
		},
		{
			name:     "keyword search accepts query alias",
			call:     oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{"query": "camera HAL"}},
			wantKind: router.ToolKeywordSearch,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.Keyword)
				assert.Equal(t, "camera HAL", inv.Keyword.Keywords)
			},
		},
		{
			name:    "keyword search without keywords",
			call:    oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{}},
			wantErr: "keywords",
		},
		{
			name:     "semantic search with defaults",
			call:     oracle.ToolCall{Name: "semantic_search_logs", Args: map[string]any{"query": "memory pressure before the crash"}},
			wantKind: router.ToolSemanticSearch,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.Semantic)
				assert.Equal(t, "memory pressure before the crash", inv.Semantic.Query)
			},
		},
		{
			name:     "semantic search with n_results as float",
			call:     oracle.ToolCall{Name: "semantic_search_logs", Args: map[string]any{"query": "oom", "n_results": float64(5)}},
			wantKind: router.ToolSemanticSearch,
			check: func(t *testing.T, inv *router.Invocation) {
				assert.Equal(t, 5, inv.Semantic.NResults)
			},
		},
		{
			name:     "tag filter",
			call:     oracle.ToolCall{Name: "filter_logs_by_tag", Args: map[string]any{"tag": "ActivityManager"}},
			wantKind: router.ToolTagFilter,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.TagFilter)
				assert.Equal(t, "ActivityManager", inv.TagFilter.Tag)
			},
		},
		{
			name:     "context lookup defaults window",
			call:     oracle.ToolCall{Name: "get_log_context", Args: map[string]any{"log_id": float64(42)}},
			wantKind: router.ToolContextLookup,
			check: func(t *testing.T, inv *router.Invocation) {
				require.NotNil(t, inv.Context)
				assert.Equal(t, int64(42), inv.Context.LogID)
				assert.Equal(t, 20, inv.Context.WindowSize)
			},
		},
		{
			name:    "context lookup without id",
			call:    oracle.ToolCall{Name: "get_log_context", Args: map[string]any{}},
			wantErr: "log_id",
		},
		{
			name:     "statistics takes no args",
			call:     oracle.ToolCall{Name: "get_error_statistics", Args: map[string]any{}},
			wantKind: router.ToolStatistics,
		},
		{
			name:     "unknown tool maps to ToolUnknown",
			call:     oracle.ToolCall{Name: "make_coffee", Args: map[string]any{}},
			wantKind: router.ToolUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := router.ParseInvocation(&tt.call)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, inv.Kind)
			if tt.check != nil {
				tt.check(t, inv)
			}
		})
	}
}

func TestCatalogCoversEveryTool(t *testing.T) {
	specs := router.Catalog()
	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		names[spec.Name] = true
		assert.NotEmpty(t, spec.Description)
	}
	for _, want := range []string{
		"query_logs_by_time_range",
		"search_error_keywords",
		"semantic_search_logs",
		"filter_logs_by_tag",
		"get_log_context",
		"get_error_statistics",
	} {
		assert.True(t, names[want], "catalog missing %s", want)
	}
}
