package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"brightpath/focus-tracker/internal/models"

	"go.uber.org/zap"
)

// APIClient talks to the persistence service over JSON/HTTP. It owns
// no retry policy; callers retry via their natural checkpoint cadence.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new persistence service client.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// createSessionResponse is the persistence service's reply to a
// session create.
type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CreateLearningSession opens a session record with zeroed counters
// and returns the server-assigned session id.
func (c *APIClient) CreateLearningSession(ctx context.Context, req models.CreateSessionRequest) (string, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/learning-sessions", req)
	if err != nil {
		return "", err
	}

	var resp createSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse create session response: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session response missing sessionId")
	}
	return resp.SessionID, nil
}

// UpdateLearningSession pushes a partial, last-write-wins update for
// the given session.
func (c *APIClient) UpdateLearningSession(ctx context.Context, sessionID string, update models.SessionUpdate) error {
	path := "/api/v1/learning-sessions/" + url.PathEscape(sessionID)
	_, err := c.doJSON(ctx, http.MethodPatch, path, update)
	return err
}

// InsertActivityEvent appends an activity audit record.
func (c *APIClient) InsertActivityEvent(ctx context.Context, event models.ActivityEvent) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/activity-events", event)
	return err
}

// InsertLedgerEntry appends a point-valued ledger entry. Deduplication
// is the caller's responsibility.
func (c *APIClient) InsertLedgerEntry(ctx context.Context, entry models.LedgerEntry) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/xp-events", entry)
	return err
}

// QueryLedgerEntries returns existing entries matching the reference,
// event type, and created-at range. Used for the dedup check.
func (c *APIClient) QueryLedgerEntries(ctx context.Context, query models.LedgerQuery) ([]models.LedgerEntry, error) {
	params := url.Values{}
	params.Set("reference_id", query.ReferenceID)
	params.Set("event_type", query.EventType)
	params.Set("created_after", query.After.UTC().Format(time.RFC3339))
	params.Set("created_before", query.Before.UTC().Format(time.RFC3339))

	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/xp-events?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var entries []models.LedgerEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse ledger entries: %w", err)
	}
	return entries, nil
}

// ListOverdueAssignments returns the student's assignments past their
// deadline, for the penalty sweep.
func (c *APIClient) ListOverdueAssignments(ctx context.Context, studentID string) ([]models.OverdueAssignment, error) {
	params := url.Values{}
	params.Set("student_id", studentID)

	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/assignments/overdue?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var assignments []models.OverdueAssignment
	if err := json.Unmarshal(body, &assignments); err != nil {
		return nil, fmt.Errorf("failed to parse overdue assignments: %w", err)
	}
	return assignments, nil
}

// HealthCheck checks if the persistence service is reachable.
func (c *APIClient) HealthCheck(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Request failed",
			zap.Error(err),
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", duration),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Request completed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return body, nil
	}

	errMsg := fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
		)
		return nil, &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		c.logger.Warn("Rate limited",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
		)
		return nil, &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusBadRequest:
		c.logger.Error("Invalid request",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
			zap.String("response", string(body)),
		)
		return nil, &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Error("Backend error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
			zap.String("response", string(body)),
		)
		return nil, &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// Error types
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}
