package models

import "time"

// MSessionStats is the per-session monitoring snapshot exposed by the push server.
type MSessionStats struct {
	SessionID         string    `json:"session_id"`
	RemoteAddr        string    `json:"remote_addr"`
	CreatedAt         time.Time `json:"created_at"`
	LastActive        time.Time `json:"last_active"`
	RegularSymbols    int       `json:"regular_symbols"`
	TimeSeriesSymbols int       `json:"time_series_symbols"`
	MessagesRead      int64     `json:"messages_read"`
	MessagesWritten   int64     `json:"messages_written"`
	EventsWritten     int64     `json:"events_written"`
	Replaying         bool      `json:"replaying"`
	Cleared           bool      `json:"cleared"`
}
