package dto

type LoadLogsRequest struct {
	FilePath  string `json:"filePath" binding:"required"`
	SessionId string `json:"sessionId"`
	MaxLines  int    `json:"maxLines,omitempty"`
}

type AnalyzeRequest struct {
	Query    string  `json:"query" binding:"required"`
	ThreadId *string `json:"threadId,omitempty"`
}
