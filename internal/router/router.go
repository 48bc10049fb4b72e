package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"logsight-backend/internal/dto"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/oracle"
	"logsight-backend/internal/store"
	"logsight-backend/internal/util"
	"logsight-backend/internal/vector"
)

// DefaultMaxSteps bounds one analysis turn. The exact value is configurable
// and not load-bearing; it only guarantees termination.
const DefaultMaxSteps = 10

const (
	roleUser  = "user"
	roleModel = "model"
	roleTool  = "tool"
)

// Router runs one analysis turn to termination: it asks the oracle for a
// decision, executes the requested tool, feeds the result text back, and
// repeats until the oracle answers or the step cap is hit. An empty keyword
// search automatically degrades to a semantic search over the same term.
type Router interface {
	RunTurn(ctx context.Context, threadID, sessionID, query string) (string, error)
}

type dispatcher struct {
	oracle        oracle.Oracle
	keywordStore  keyword.Store
	vectorStore   vector.Store
	conversations store.ConversationStore
	maxSteps      int
}

func New(o oracle.Oracle, kw keyword.Store, vs vector.Store, conversations store.ConversationStore, maxSteps int) Router {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &dispatcher{
		oracle:        o,
		keywordStore:  kw,
		vectorStore:   vs,
		conversations: conversations,
		maxSteps:      maxSteps,
	}
}

func (d *dispatcher) RunTurn(ctx context.Context, threadID, sessionID, query string) (string, error) {
	if err := d.conversations.EnsureThread(ctx, threadID); err != nil {
		return "", err
	}
	if err := d.conversations.AppendTurn(ctx, threadID, dto.ConversationTurn{Role: roleUser, Content: query}); err != nil {
		return "", err
	}

	for step := 1; step <= d.maxSteps; step++ {
		history, err := d.conversations.GetHistory(ctx, threadID)
		if err != nil {
			return "", err
		}

		decision, err := d.oracle.Decide(ctx, history, Catalog())
		if err != nil {
			return "", fmt.Errorf("oracle decision failed: %w", err)
		}

		if decision.Tool == nil {
			answer := strings.TrimSpace(decision.Answer)
			if answer == "" {
				answer = "The analysis produced no further findings."
			}
			if err := d.appendModel(ctx, threadID, answer, ""); err != nil {
				return "", err
			}
			return answer, nil
		}

		callJSON, _ := json.Marshal(decision.Tool)
		if err := d.appendModel(ctx, threadID, string(callJSON), decision.Tool.Name); err != nil {
			return "", err
		}

		inv, parseErr := ParseInvocation(decision.Tool)
		if parseErr != nil || inv.Kind == ToolUnknown {
			log.Warn().Str("tool", decision.Tool.Name).AnErr("parseError", parseErr).Msg("Unroutable tool call, terminating turn")
			msg := fmt.Sprintf("Cannot execute the requested tool '%s'", decision.Tool.Name)
			if parseErr != nil {
				msg = fmt.Sprintf("Cannot execute tool call: %v", parseErr)
			}
			if err := d.appendModel(ctx, threadID, msg, ""); err != nil {
				return "", err
			}
			return msg, nil
		}

		log.Info().Str("tool", inv.Kind.String()).Int("step", step).Msg("Executing tool")
		result := d.execute(ctx, inv, sessionID)
		if err := d.appendTool(ctx, threadID, result, inv.Kind.String()); err != nil {
			return "", err
		}

		if inv.Kind == ToolKeywordSearch && strings.HasPrefix(result, emptyKeywordResultPrefix) {
			if err := d.runFallback(ctx, threadID, sessionID, decision.Tool.Args); err != nil {
				if errors.Is(err, ErrFallbackExtraction) {
					msg := "Keyword search found nothing and no search term could be recovered for a semantic fallback."
					if appendErr := d.appendModel(ctx, threadID, msg, ""); appendErr != nil {
						return "", appendErr
					}
					return msg, nil
				}
				return "", err
			}
		}
	}

	msg := fmt.Sprintf("Analysis stopped after %d steps; the findings gathered so far are partial.", d.maxSteps)
	log.Warn().Int("maxSteps", d.maxSteps).Msg("Turn hit the step cap")
	if err := d.appendModel(ctx, threadID, msg, ""); err != nil {
		return "", err
	}
	return msg, nil
}

// ErrFallbackExtraction means an empty keyword search could not be degraded
// to a semantic search because no term was recoverable from its arguments.
var ErrFallbackExtraction = errors.New("no extractable fallback term")

// runFallback synthesizes a semantic search from the failed keyword call and
// records it as an intermediate turn, so the oracle sees the degradation.
func (d *dispatcher) runFallback(ctx context.Context, threadID, sessionID string, failedArgs map[string]any) error {
	term := extractFallbackTerm(failedArgs)
	if term == "" {
		return ErrFallbackExtraction
	}

	log.Info().Str("term", term).Msg("Keyword search empty, falling back to semantic search")
	synthetic := fmt.Sprintf("Keyword search for '%s' found nothing, trying semantic search...", term)
	if err := d.appendModel(ctx, threadID, synthetic, nameSemanticSearch); err != nil {
		return err
	}

	result := d.execute(ctx, &Invocation{
		Kind:     ToolSemanticSearch,
		Semantic: &SemanticSearchArgs{Query: term},
	}, sessionID)
	return d.appendTool(ctx, threadID, result, nameSemanticSearch)
}

// extractFallbackTerm recovers the search term from a failed keyword call.
// Deliberate heuristic, ranked: the primary argument name, then the alias
// some oracles use, then the first available argument value.
func extractFallbackTerm(args map[string]any) string {
	if term := argString(args, "keywords"); term != "" {
		return term
	}
	if term := argString(args, "query"); term != "" {
		return term
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := args[k]; v != nil {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return ""
}

func (d *dispatcher) execute(ctx context.Context, inv *Invocation, sessionID string) string {
	switch inv.Kind {
	case ToolTimeRangeQuery:
		start, err := util.ParseTimeFlexible(inv.TimeRange.StartTime)
		if err != nil {
			return fmt.Sprintf("Invalid start_time: %v", err)
		}
		end, err := util.ParseTimeFlexible(inv.TimeRange.EndTime)
		if err != nil {
			return fmt.Sprintf("Invalid end_time: %v", err)
		}
		rows, err := d.keywordStore.GetByTimeRange(ctx, start, end, inv.TimeRange.Level, sessionID, 50)
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatTimeRangeResults(inv.TimeRange.StartTime, inv.TimeRange.EndTime, rows)

	case ToolKeywordSearch:
		rows, err := d.keywordStore.SearchKeywords(ctx, keyword.SearchQuery{
			Keywords:  inv.Keyword.Keywords,
			Level:     inv.Keyword.Level,
			Tag:       inv.Keyword.Tag,
			SessionID: sessionID,
			Limit:     30,
		})
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatKeywordResults(inv.Keyword.Keywords, rows)

	case ToolSemanticSearch:
		results, err := d.vectorStore.SemanticSearch(ctx, inv.Semantic.Query, inv.Semantic.NResults, "", sessionID)
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatSemanticResults(inv.Semantic.Query, results)

	case ToolTagFilter:
		limit := inv.TagFilter.Limit
		if limit <= 0 {
			limit = 20
		}
		rows, err := d.keywordStore.FilterByTag(ctx, inv.TagFilter.Tag, sessionID, limit)
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatTagResults(inv.TagFilter.Tag, rows)

	case ToolContextLookup:
		rows, err := d.keywordStore.GetContext(ctx, inv.Context.LogID, inv.Context.WindowSize)
		if errors.Is(err, keyword.ErrEntryNotFound) {
			return formatContextResults(inv.Context.LogID, inv.Context.WindowSize, nil)
		}
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatContextResults(inv.Context.LogID, inv.Context.WindowSize, rows)

	case ToolStatistics:
		stats, err := d.keywordStore.GetStatistics(ctx, sessionID)
		if err != nil {
			return formatToolError(inv.Kind, err)
		}
		return formatStatistics(stats)

	default:
		return fmt.Sprintf("Cannot execute the requested tool '%s'", inv.Kind)
	}
}

func (d *dispatcher) appendModel(ctx context.Context, threadID, content, toolName string) error {
	return d.conversations.AppendTurn(ctx, threadID, dto.ConversationTurn{
		Role:     roleModel,
		Content:  content,
		ToolName: toolName,
	})
}

func (d *dispatcher) appendTool(ctx context.Context, threadID, content, toolName string) error {
	return d.conversations.AppendTurn(ctx, threadID, dto.ConversationTurn{
		Role:     roleTool,
		Content:  content,
		ToolName: toolName,
	})
}
