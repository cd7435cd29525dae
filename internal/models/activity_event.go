package models

import "time"

// Activity event types written by this subsystem.
const (
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventSessionOrphaned = "session_orphaned"
	EventBioBreakStart   = "bio_break_start"
	EventBioBreakEnd     = "bio_break_end"
)

// ActivityEvent is an immutable, append-only audit record tied to a
// session. Written once, never updated or deleted.
type ActivityEvent struct {
	StudentID string                 `json:"studentId"`
	SessionID string                 `json:"sessionId"`
	EventType string                 `json:"eventType"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
