package store

import "time"

// MessageOutcome is one terminal row in the audit ledger.
type MessageOutcome struct {
	MessageID   string
	DeviceID    string
	To          string
	Kind        string
	Priority    string
	Status      string // sent | failed
	Attempts    int
	LastError   string
	EnqueuedAt  time.Time
	CompletedAt time.Time
}

// ActivityRecord mirrors one health-monitor event for offline analysis.
type ActivityRecord struct {
	DeviceID  string
	EventType string // sent | failed | disconnected | reconnected
	LatencyMs int64
	At        time.Time
}
