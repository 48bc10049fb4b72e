package dto

type IngestStatistics struct {
	SessionId         string         `json:"sessionId"`
	ParsedCount       int            `json:"parsedCount"`
	FailedCount       int            `json:"failedCount"`
	ProcessedCount    int            `json:"processedCount"`
	IndexedCount      int            `json:"indexedCount"` // vectors, W/E/F only
	FailedBatches     int            `json:"failedBatches"`
	LevelDistribution map[string]int `json:"levelDistribution"`
	TimeRange         TimeRange      `json:"timeRange"`
}

type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type LoadLogsResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Statistics *IngestStatistics `json:"statistics,omitempty"`
}

type AnalyzeResponse struct {
	ThreadId     string  `json:"threadId"`
	Answer       string  `json:"answer"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}
