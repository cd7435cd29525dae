package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brightpath/focus-tracker/internal/models"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*APIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAPIClient(server.URL, "test-key", 5*time.Second, zap.NewNop()), server
}

func TestAPIClient_CreateLearningSession(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody models.CreateSessionRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "session-abc"})
	})

	startedAt := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	sessionID, err := client.CreateLearningSession(context.Background(), models.CreateSessionRequest{
		StudentID:  "student-1",
		DeviceType: models.DeviceDesktop,
		Browser:    "chrome",
		StartedAt:  startedAt,
	})
	if err != nil {
		t.Fatalf("CreateLearningSession() error = %v", err)
	}

	if sessionID != "session-abc" {
		t.Errorf("sessionID = %q, want %q", sessionID, "session-abc")
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/learning-sessions" {
		t.Errorf("request = %s %s, want POST /api/v1/learning-sessions", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.StudentID != "student-1" || gotBody.DeviceType != models.DeviceDesktop {
		t.Errorf("request body = %+v", gotBody)
	}
}

func TestAPIClient_CreateLearningSessionMissingID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	if _, err := client.CreateLearningSession(context.Background(), models.CreateSessionRequest{}); err == nil {
		t.Fatal("CreateLearningSession() error = nil for empty sessionId, want failure")
	}
}

func TestAPIClient_UpdateLearningSession(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	active := int64(300)
	err := client.UpdateLearningSession(context.Background(), "session-1", models.SessionUpdate{
		TotalActiveSeconds: &active,
	})
	if err != nil {
		t.Fatalf("UpdateLearningSession() error = %v", err)
	}

	if gotMethod != http.MethodPatch || gotPath != "/api/v1/learning-sessions/session-1" {
		t.Errorf("request = %s %s, want PATCH /api/v1/learning-sessions/session-1", gotMethod, gotPath)
	}
	if gotBody["totalActiveSeconds"] != float64(300) {
		t.Errorf("body totalActiveSeconds = %v, want 300", gotBody["totalActiveSeconds"])
	}
	// Unset pointer fields must not appear in a partial update.
	if _, present := gotBody["endedAt"]; present {
		t.Error("partial update carried endedAt")
	}
	if _, present := gotBody["totalIdleSeconds"]; present {
		t.Error("partial update carried totalIdleSeconds")
	}
}

func TestAPIClient_QueryLedgerEntries(t *testing.T) {
	var gotQuery map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"reference_id":   r.URL.Query().Get("reference_id"),
			"event_type":     r.URL.Query().Get("event_type"),
			"created_after":  r.URL.Query().Get("created_after"),
			"created_before": r.URL.Query().Get("created_before"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"studentId":"student-1","amount":-5,"eventType":"assignment_overdue_penalty","referenceId":"item-1"}]`))
	})

	after := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	entries, err := client.QueryLedgerEntries(context.Background(), models.LedgerQuery{
		ReferenceID: "item-1",
		EventType:   models.EventOverduePenalty,
		After:       after,
		Before:      after.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("QueryLedgerEntries() error = %v", err)
	}

	if len(entries) != 1 || entries[0].Amount != -5 {
		t.Errorf("entries = %+v, want one -5 entry", entries)
	}
	if gotQuery["reference_id"] != "item-1" || gotQuery["event_type"] != models.EventOverduePenalty {
		t.Errorf("query params = %v", gotQuery)
	}
	if gotQuery["created_after"] != "2024-01-02T00:00:00Z" {
		t.Errorf("created_after = %q, want RFC3339 UTC", gotQuery["created_after"])
	}
	if gotQuery["created_before"] != "2024-01-03T00:00:00Z" {
		t.Errorf("created_before = %q, want RFC3339 UTC", gotQuery["created_before"])
	}
}

func TestAPIClient_ListOverdueAssignments(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/assignments/overdue" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("student_id") != "student-1" {
			t.Errorf("student_id = %q", r.URL.Query().Get("student_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"item-1","studentId":"student-1","title":"Essay","dueAt":"2024-01-01T00:00:00Z"}]`))
	})

	assignments, err := client.ListOverdueAssignments(context.Background(), "student-1")
	if err != nil {
		t.Fatalf("ListOverdueAssignments() error = %v", err)
	}
	if len(assignments) != 1 || assignments[0].ID != "item-1" || assignments[0].Title != "Essay" {
		t.Errorf("assignments = %+v", assignments)
	}
}

func TestAPIClient_InsertActivityEvent(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	})

	err := client.InsertActivityEvent(context.Background(), models.ActivityEvent{
		StudentID: "student-1",
		SessionID: "session-1",
		EventType: models.EventSessionStart,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertActivityEvent() error = %v", err)
	}
	if gotPath != "/api/v1/activity-events" {
		t.Errorf("path = %q, want /api/v1/activity-events", gotPath)
	}
}

func TestAPIClient_ErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		check      func(error) bool
	}{
		{
			name:       "unauthorized",
			statusCode: http.StatusUnauthorized,
			check: func(err error) bool {
				var target *AuthError
				return errors.As(err, &target)
			},
		},
		{
			name:       "forbidden",
			statusCode: http.StatusForbidden,
			check: func(err error) bool {
				var target *AuthError
				return errors.As(err, &target)
			},
		},
		{
			name:       "rate limited",
			statusCode: http.StatusTooManyRequests,
			check: func(err error) bool {
				var target *RateLimitError
				return errors.As(err, &target)
			},
		},
		{
			name:       "bad request",
			statusCode: http.StatusBadRequest,
			check: func(err error) bool {
				var target *BadRequestError
				return errors.As(err, &target)
			},
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			check: func(err error) bool {
				var target *BackendError
				return errors.As(err, &target)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			err := client.HealthCheck(context.Background())
			if err == nil {
				t.Fatalf("HealthCheck() error = nil for status %d", tt.statusCode)
			}
			if !tt.check(err) {
				t.Errorf("error type mismatch for status %d: %v", tt.statusCode, err)
			}
		})
	}
}

func TestAPIClient_HealthCheck(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if gotPath != "/health" {
		t.Errorf("path = %q, want /health", gotPath)
	}
}
