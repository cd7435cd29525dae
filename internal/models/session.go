package models

import "time"

// Device type classifications, best-effort from the user agent.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Session termination reasons.
const (
	EndedByLogout       = "logout"
	EndedByBrowserClose = "browser_close"
	EndedByTimeout      = "timeout"
	EndedByManual       = "manual"
)

// LearningSession represents one continuous tracked engagement period
// for one student. Counters are monotonically non-decreasing while the
// session is open; their sum need not equal wall-clock duration because
// idle and away classification run independently.
type LearningSession struct {
	SessionID          string     `json:"sessionId"`
	StudentID          string     `json:"studentId"`
	DeviceType         string     `json:"deviceType"`
	Browser            string     `json:"browser"`
	StartedAt          time.Time  `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
	EndedBy            *string    `json:"endedBy,omitempty"`
	TotalActiveSeconds int64      `json:"totalActiveSeconds"`
	TotalIdleSeconds   int64      `json:"totalIdleSeconds"`
	TotalAwaySeconds   int64      `json:"totalAwaySeconds"`
}

// CreateSessionRequest is sent to the persistence service when a
// session opens. Counters start at zero on the server side.
type CreateSessionRequest struct {
	StudentID  string    `json:"studentId"`
	DeviceType string    `json:"deviceType"`
	Browser    string    `json:"browser"`
	StartedAt  time.Time `json:"startedAt"`
}

// SessionUpdate is a partial, last-write-wins update keyed by session
// id. Counter fields are absolute values, not increments; nil fields
// are left untouched by the server.
type SessionUpdate struct {
	TotalActiveSeconds *int64     `json:"totalActiveSeconds,omitempty"`
	TotalIdleSeconds   *int64     `json:"totalIdleSeconds,omitempty"`
	TotalAwaySeconds   *int64     `json:"totalAwaySeconds,omitempty"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
	EndedBy            *string    `json:"endedBy,omitempty"`
}

// SessionBreadcrumb is the local recovery record written on session
// creation and cleared on clean termination. A breadcrumb that
// survives a restart marks an orphaned session.
type SessionBreadcrumb struct {
	SessionID  string    `json:"sessionId"`
	StudentID  string    `json:"studentId"`
	StartedAt  time.Time `json:"startedAt"`
	LastSyncAt time.Time `json:"lastSyncAt"`
}
