package models

import "time"

// Ledger event types emitted by the writer.
const (
	EventOverduePenalty = "assignment_overdue_penalty"
	EventSessionReward  = "focus_session_reward"
)

// LedgerEntry is an immutable signed point-value record (reward or
// penalty). The writer enforces at most one entry per
// (referenceId, eventType, time-bucket) key before inserting.
type LedgerEntry struct {
	StudentID   string    `json:"studentId"`
	Amount      int       `json:"amount"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	ReferenceID string    `json:"referenceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LedgerQuery selects existing entries for the dedup check: same
// reference and event type, created within [After, Before).
type LedgerQuery struct {
	ReferenceID string
	EventType   string
	After       time.Time
	Before      time.Time
}

// OverdueAssignment is an assignment past its deadline, as reported by
// the persistence service.
type OverdueAssignment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	Title     string    `json:"title"`
	DueAt     time.Time `json:"dueAt"`
}
