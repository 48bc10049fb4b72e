package model

import "time"

// Level is a logcat severity symbol, totally ordered D < V < I < W < E < F.
type Level string

const (
	LevelDebug   Level = "D"
	LevelVerbose Level = "V"
	LevelInfo    Level = "I"
	LevelWarn    Level = "W"
	LevelError   Level = "E"
	LevelFatal   Level = "F"
)

var levelSeverity = map[Level]int{
	LevelDebug:   0,
	LevelVerbose: 1,
	LevelInfo:    2,
	LevelWarn:    3,
	LevelError:   4,
	LevelFatal:   5,
}

// Severity returns the ordering rank of the level. Unknown levels rank lowest.
func (l Level) Severity() int {
	return levelSeverity[l]
}

// Valid reports whether l is one of the six logcat symbols.
func (l Level) Valid() bool {
	_, ok := levelSeverity[l]
	return ok
}

// AtLeast reports whether l is at least as severe as min.
func (l Level) AtLeast(min Level) bool {
	return l.Severity() >= min.Severity()
}

// LogEntry is one normalized logcat record.
//
// Timestamp keeps the source-formatted "MM-DD HH:MM:SS.mmm" string; Instant is
// the resolved absolute time under the configured reference year, nil when the
// literal date does not exist in that year. LineNumber is the 1-based position
// within the source file and is the ordering key for context windows.
type LogEntry struct {
	Timestamp  string     `json:"timestamp"`
	Instant    *time.Time `json:"instant,omitempty"`
	PID        int        `json:"pid"`
	TID        int        `json:"tid"`
	Level      Level      `json:"level"`
	Tag        string     `json:"tag"`
	Message    string     `json:"message"`
	RawLine    string     `json:"raw_line"`
	LineNumber int        `json:"line_number"`
	SessionID  string     `json:"session_id,omitempty"`
}
