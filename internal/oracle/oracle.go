package oracle

import (
	"context"

	"logsight-backend/internal/dto"
)

// ToolCall is a structured tool invocation requested by the oracle.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Decision is the oracle's output for one dispatch step: either a final
// answer, or exactly one tool call.
type Decision struct {
	Answer string    `json:"answer,omitempty"`
	Tool   *ToolCall `json:"tool,omitempty"`
}

// ToolParam describes one typed parameter of an exposed tool.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolSpec describes one exposed tool to the oracle.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ToolParam `json:"params"`
}

// Oracle is the external reasoning component. Given the accumulated
// conversation and the tool catalog, it returns either a final answer or one
// tool invocation. The dispatcher works the same regardless of which
// implementation sits behind this interface.
type Oracle interface {
	Decide(ctx context.Context, history []dto.ConversationTurn, tools []ToolSpec) (*Decision, error)
}
