package router

import (
	"fmt"
	"strconv"

	"logsight-backend/internal/oracle"
)

// ToolKind is a closed enumeration of the exposed retrieval operations. The
// dispatcher matches exhaustively over this type, so an unrecognized tool
// name is handled in one place.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolTimeRangeQuery
	ToolKeywordSearch
	ToolSemanticSearch
	ToolTagFilter
	ToolContextLookup
	ToolStatistics
)

const (
	nameTimeRangeQuery = "query_logs_by_time_range"
	nameKeywordSearch  = "search_error_keywords"
	nameSemanticSearch = "semantic_search_logs"
	nameTagFilter      = "filter_logs_by_tag"
	nameContextLookup  = "get_log_context"
	nameStatistics     = "get_error_statistics"
)

func (k ToolKind) String() string {
	switch k {
	case ToolTimeRangeQuery:
		return nameTimeRangeQuery
	case ToolKeywordSearch:
		return nameKeywordSearch
	case ToolSemanticSearch:
		return nameSemanticSearch
	case ToolTagFilter:
		return nameTagFilter
	case ToolContextLookup:
		return nameContextLookup
	case ToolStatistics:
		return nameStatistics
	default:
		return "unknown"
	}
}

type TimeRangeArgs struct {
	StartTime string
	EndTime   string
	Level     string
}

type KeywordSearchArgs struct {
	Keywords string
	Level    string
	Tag      string
}

type SemanticSearchArgs struct {
	Query    string
	NResults int
}

type TagFilterArgs struct {
	Tag   string
	Limit int
}

type ContextArgs struct {
	LogID      int64
	WindowSize int
}

// Invocation is one parsed tool call: the kind plus exactly one non-nil
// typed argument struct matching it.
type Invocation struct {
	Kind      ToolKind
	TimeRange *TimeRangeArgs
	Keyword   *KeywordSearchArgs
	Semantic  *SemanticSearchArgs
	TagFilter *TagFilterArgs
	Context   *ContextArgs
}

// ParseInvocation maps the oracle's name+args call onto the closed tool
// enumeration. Unknown names yield ToolUnknown, not an error.
func ParseInvocation(call *oracle.ToolCall) (*Invocation, error) {
	switch call.Name {
	case nameTimeRangeQuery:
		args := &TimeRangeArgs{
			StartTime: argString(call.Args, "start_time"),
			EndTime:   argString(call.Args, "end_time"),
			Level:     argString(call.Args, "level"),
		}
		if args.StartTime == "" || args.EndTime == "" {
			return nil, fmt.Errorf("%s requires start_time and end_time", call.Name)
		}
		return &Invocation{Kind: ToolTimeRangeQuery, TimeRange: args}, nil

	case nameKeywordSearch:
		args := &KeywordSearchArgs{
			Keywords: argString(call.Args, "keywords"),
			Level:    argString(call.Args, "level"),
			Tag:      argString(call.Args, "tag"),
		}
		if args.Keywords == "" {
			// Some oracles name the parameter "query" instead.
			args.Keywords = argString(call.Args, "query")
		}
		if args.Keywords == "" {
			return nil, fmt.Errorf("%s requires keywords", call.Name)
		}
		return &Invocation{Kind: ToolKeywordSearch, Keyword: args}, nil

	case nameSemanticSearch:
		args := &SemanticSearchArgs{
			Query:    argString(call.Args, "query"),
			NResults: argInt(call.Args, "n_results"),
		}
		if args.Query == "" {
			return nil, fmt.Errorf("%s requires query", call.Name)
		}
		return &Invocation{Kind: ToolSemanticSearch, Semantic: args}, nil

	case nameTagFilter:
		args := &TagFilterArgs{
			Tag:   argString(call.Args, "tag"),
			Limit: argInt(call.Args, "limit"),
		}
		if args.Tag == "" {
			return nil, fmt.Errorf("%s requires tag", call.Name)
		}
		return &Invocation{Kind: ToolTagFilter, TagFilter: args}, nil

	case nameContextLookup:
		args := &ContextArgs{
			LogID:      int64(argInt(call.Args, "log_id")),
			WindowSize: argInt(call.Args, "window_size"),
		}
		if args.LogID == 0 {
			return nil, fmt.Errorf("%s requires log_id", call.Name)
		}
		if args.WindowSize <= 0 {
			args.WindowSize = 20
		}
		return &Invocation{Kind: ToolContextLookup, Context: args}, nil

	case nameStatistics:
		return &Invocation{Kind: ToolStatistics}, nil

	default:
		return &Invocation{Kind: ToolUnknown}, nil
	}
}

// Catalog describes the exposed tools to the oracle.
func Catalog() []oracle.ToolSpec {
	return []oracle.ToolSpec{
		{
			Name:        nameTimeRangeQuery,
			Description: "Query logs within a time range. Use to inspect what happened during a specific period.",
			Params: []oracle.ToolParam{
				{Name: "start_time", Type: "string", Description: "Start time, ISO format such as 2025-11-26T14:28:00", Required: true},
				{Name: "end_time", Type: "string", Description: "End time, ISO format", Required: true},
				{Name: "level", Type: "string", Description: "Optional level filter (I/W/E/F)"},
			},
		},
		{
			Name:        nameKeywordSearch,
			Description: "Full-text search for logs containing specific keywords such as crash, exception, timeout. Supports OR, e.g. \"crash OR fatal\".",
			Params: []oracle.ToolParam{
				{Name: "keywords", Type: "string", Description: "Search keywords, space separated, OR supported", Required: true},
				{Name: "level", Type: "string", Description: "Optional level filter (E for Error, F for Fatal)"},
				{Name: "tag", Type: "string", Description: "Optional module tag filter"},
			},
		},
		{
			Name:        nameSemanticSearch,
			Description: "Semantic search over logs by natural-language description. Use when the user's wording is imprecise or keyword search finds nothing.",
			Params: []oracle.ToolParam{
				{Name: "query", Type: "string", Description: "Natural-language description of what to find", Required: true},
				{Name: "n_results", Type: "int", Description: "Number of results, default 10"},
			},
		},
		{
			Name:        nameTagFilter,
			Description: "List logs from a specific module tag, e.g. CameraService or SystemUI. Substring match.",
			Params: []oracle.ToolParam{
				{Name: "tag", Type: "string", Description: "Module tag name, substring match", Required: true},
				{Name: "limit", Type: "int", Description: "Maximum results, default 20"},
			},
		},
		{
			Name:        nameContextLookup,
			Description: "Show the logs surrounding one entry, to understand what led up to and followed it. Use a log id from earlier search results.",
			Params: []oracle.ToolParam{
				{Name: "log_id", Type: "int", Description: "Log id from a search result", Required: true},
				{Name: "window_size", Type: "int", Description: "Lines before and after, default 20"},
			},
		},
		{
			Name:        nameStatistics,
			Description: "Aggregate statistics for the loaded logs: total count, level distribution, top modules, time span.",
			Params:      []oracle.ToolParam{},
		},
	}
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	switch v := args[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func argInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
