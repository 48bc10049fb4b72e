package router_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsight-backend/internal/dto"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/model"
	"logsight-backend/internal/oracle"
	"logsight-backend/internal/router"
	"logsight-backend/internal/store"
	"logsight-backend/internal/vector"
)

// scriptedOracle replays a fixed sequence of decisions.
type scriptedOracle struct {
	decisions []*oracle.Decision
	calls     int
	histories [][]dto.ConversationTurn
}

func (o *scriptedOracle) Decide(_ context.Context, history []dto.ConversationTurn, _ []oracle.ToolSpec) (*oracle.Decision, error) {
	o.histories = append(o.histories, history)
	if o.calls >= len(o.decisions) {
		return &oracle.Decision{Answer: "out of scripted decisions"}, nil
	}
	d := o.decisions[o.calls]
	o.calls++
	return d, nil
}

// topicProvider embeds by topic keyword, mirroring the vector store tests.
type topicProvider struct{}

func (topicProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "camera"):
			out[i] = []float64{1, 0, 0}
		case strings.Contains(lower, "memory"):
			out[i] = []float64{0, 1, 0}
		default:
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

type fixture struct {
	keyword       keyword.Store
	vector        vector.Store
	conversations store.ConversationStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	kw, err := keyword.NewStore(filepath.Join(dir, "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kw.Close() })

	vs, err := vector.NewStore(filepath.Join(dir, "vectors.db"), topicProvider{})
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	return &fixture{
		keyword:       kw,
		vector:        vs,
		conversations: store.NewInMemoryConversationStore(),
	}
}

func (f *fixture) seed(t *testing.T, sessionID string) {
	t.Helper()
	at := time.Date(2025, time.November, 26, 14, 28, 0, 0, time.UTC)
	entries := []*model.LogEntry{
		{Timestamp: "11-26 14:28:00.000", Instant: &at, Level: model.LevelError, Tag: "CameraService", Message: "camera HAL failed to open", LineNumber: 1},
		{Timestamp: "11-26 14:28:01.000", Instant: &at, Level: model.LevelInfo, Tag: "SystemServer", Message: "boot completed", LineNumber: 2},
	}
	_, err := f.keyword.Insert(context.Background(), entries, sessionID)
	require.NoError(t, err)
	_, err = f.vector.Insert(context.Background(), entries, sessionID, 0)
	require.NoError(t, err)
}

func (f *fixture) newRouter(o oracle.Oracle, maxSteps int) router.Router {
	return router.New(o, f.keyword, f.vector, f.conversations, maxSteps)
}

func TestRunTurn_ImmediateAnswer(t *testing.T) {
	f := newFixture(t)
	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Answer: "Nothing to investigate."},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "is everything fine?")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to investigate.", answer)

	history, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
}

func TestRunTurn_ToolThenAnswer(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "get_error_statistics", Args: map[string]any{}}},
		{Answer: "There are 2 logs, 1 error."},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "how many errors?")
	require.NoError(t, err)
	assert.Equal(t, "There are 2 logs, 1 error.", answer)

	// The second oracle call must see the tool result text.
	require.Len(t, o.histories, 2)
	last := o.histories[1][len(o.histories[1])-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "Total logs: 2")
}

func TestRunTurn_KeywordHitDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{"keywords": "camera"}}},
		{Answer: "The camera HAL failed."},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "camera problems?")
	require.NoError(t, err)
	assert.Equal(t, "The camera HAL failed.", answer)

	history, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)
	for _, turn := range history {
		assert.NotContains(t, turn.Content, "trying semantic search")
	}
}

func TestRunTurn_EmptyKeywordSearchFallsBackToSemantic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{"keywords": "weird_glitch_888"}}},
		{Answer: "No exact match, but semantically related errors were found."},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "find weird_glitch_888")
	require.NoError(t, err)
	assert.Contains(t, answer, "semantically related")

	history, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)

	var sawSynthetic, sawSemanticResult bool
	for i, turn := range history {
		if turn.Role == "model" && strings.Contains(turn.Content, "trying semantic search") {
			sawSynthetic = true
			// The synthetic turn sits between the empty keyword result
			// and the semantic result.
			require.Greater(t, i, 0)
			assert.Contains(t, history[i-1].Content, "No logs found containing")
		}
		if turn.Role == "tool" && turn.ToolName == "semantic_search_logs" {
			sawSemanticResult = true
			assert.Contains(t, turn.Content, "semantically related logs")
		}
	}
	assert.True(t, sawSynthetic, "expected a synthetic fallback turn")
	assert.True(t, sawSemanticResult, "expected a semantic search result turn")

	// The oracle's second decision must see the semantic results, not the
	// empty keyword dead end as the latest evidence.
	last := o.histories[1][len(o.histories[1])-1]
	assert.Equal(t, "semantic_search_logs", last.ToolName)
}

func TestRunTurn_FallbackUsesQueryAlias(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{"query": "nonexistent_term"}}},
		{Answer: "done"},
	}}

	_, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "look it up")
	require.NoError(t, err)

	history, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)

	var synthetic string
	for _, turn := range history {
		if strings.Contains(turn.Content, "trying semantic search") {
			synthetic = turn.Content
		}
	}
	assert.Contains(t, synthetic, "'nonexistent_term'")
}

func TestRunTurn_UnrecognizedToolTerminates(t *testing.T) {
	f := newFixture(t)

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "make_coffee", Args: map[string]any{}}},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "espresso please")
	require.NoError(t, err)
	assert.Contains(t, answer, "make_coffee")
	assert.Equal(t, 1, o.calls, "turn must terminate instead of looping")
}

func TestRunTurn_MalformedArgsTerminate(t *testing.T) {
	f := newFixture(t)

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "search_error_keywords", Args: map[string]any{}}},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "search nothing")
	require.NoError(t, err)
	assert.Contains(t, answer, "Cannot execute tool call")
}

func TestRunTurn_StepCapForcesTermination(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	// An oracle that requests tools forever.
	decisions := make([]*oracle.Decision, 20)
	for i := range decisions {
		decisions[i] = &oracle.Decision{Tool: &oracle.ToolCall{Name: "get_error_statistics", Args: map[string]any{}}}
	}
	o := &scriptedOracle{decisions: decisions}

	answer, err := f.newRouter(o, 3).RunTurn(context.Background(), "t1", "s1", "keep digging")
	require.NoError(t, err)
	assert.Contains(t, answer, "3 steps")
	assert.Equal(t, 3, o.calls)
}

func TestRunTurn_ContextLookupUnknownID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1")

	o := &scriptedOracle{decisions: []*oracle.Decision{
		{Tool: &oracle.ToolCall{Name: "get_log_context", Args: map[string]any{"log_id": float64(9999)}}},
		{Answer: "that id does not exist"},
	}}

	answer, err := f.newRouter(o, 0).RunTurn(context.Background(), "t1", "s1", "context for 9999")
	require.NoError(t, err)
	assert.Equal(t, "that id does not exist", answer)

	history, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)
	var toolResult string
	for _, turn := range history {
		if turn.Role == "tool" {
			toolResult = turn.Content
		}
	}
	assert.Contains(t, toolResult, "not found")
}

func TestRunTurn_SeparateThreadsDoNotShareHistory(t *testing.T) {
	f := newFixture(t)

	o1 := &scriptedOracle{decisions: []*oracle.Decision{{Answer: "a"}}}
	o2 := &scriptedOracle{decisions: []*oracle.Decision{{Answer: "b"}}}

	_, err := f.newRouter(o1, 0).RunTurn(context.Background(), "t1", "s1", "first")
	require.NoError(t, err)
	_, err = f.newRouter(o2, 0).RunTurn(context.Background(), "t2", "s1", "second")
	require.NoError(t, err)

	h1, err := f.conversations.GetHistory(context.Background(), "t1")
	require.NoError(t, err)
	h2, err := f.conversations.GetHistory(context.Background(), "t2")
	require.NoError(t, err)
	assert.Len(t, h1, 2)
	assert.Len(t, h2, 2)
	assert.NotEqual(t, h1[0].Content, h2[0].Content)
}
