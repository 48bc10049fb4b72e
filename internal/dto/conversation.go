package dto

type ConversationTurn struct {
	Role     string `json:"role"`               // "user" | "model" | "tool"
	Content  string `json:"content"`            // query text, oracle output, or tool result text
	ToolName string `json:"toolName,omitempty"` // set on tool-result turns
}
