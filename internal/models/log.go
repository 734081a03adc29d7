package models

// LogEntry is a single agent-streamed log line. Entries live only in the
// per-host ring buffer; they are never persisted.
type LogEntry struct {
	TS      int64  `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}
