package recorder

import (
	"context"
	"sync"
	"time"

	"brightpath/focus-tracker/internal/models"

	"go.uber.org/zap"
)

// Persistence is the subset of the backend client the recorder needs.
type Persistence interface {
	CreateLearningSession(ctx context.Context, req models.CreateSessionRequest) (string, error)
	UpdateLearningSession(ctx context.Context, sessionID string, update models.SessionUpdate) error
}

// BreadcrumbStore persists the local recovery breadcrumb.
type BreadcrumbStore interface {
	Save(crumb models.SessionBreadcrumb) error
	Get(studentID string) (*models.SessionBreadcrumb, error)
	Touch(studentID string, syncedAt time.Time) error
	Clear(studentID string) error
}

// EventSink receives activity audit events for eventual delivery.
type EventSink interface {
	AddEvent(event models.ActivityEvent)
}

// Config carries the recorder's identity and cadence.
type Config struct {
	StudentID    string
	DeviceType   string
	Browser      string
	SyncInterval time.Duration
}

// SessionRecorder owns the create → checkpoint → terminate lifecycle
// of a learning session. In-memory counters are exclusively owned by
// this instance; persistence calls never block counter accumulation.
type SessionRecorder struct {
	client      Persistence
	breadcrumbs BreadcrumbStore
	events      EventSink
	cfg         Config
	logger      *zap.Logger

	sessionID     string
	startedAt     time.Time
	activeSeconds int64
	idleSeconds   int64
	awaySeconds   int64
	creating      bool
	onBreak       bool
	onSessionEnd  func(models.LearningSession)
	nowFn         func() time.Time
	mu            sync.Mutex

	syncTicker *time.Ticker
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewSessionRecorder creates a new session recorder.
func NewSessionRecorder(
	client Persistence,
	breadcrumbs BreadcrumbStore,
	events EventSink,
	cfg Config,
	logger *zap.Logger,
) *SessionRecorder {
	return &SessionRecorder{
		client:      client,
		breadcrumbs: breadcrumbs,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		nowFn:       time.Now,
		stopChan:    make(chan struct{}),
	}
}

// SetOnSessionEnd registers a hook invoked with the final session
// snapshot after a terminal write. Must be called before Start.
func (sr *SessionRecorder) SetOnSessionEnd(fn func(models.LearningSession)) {
	sr.onSessionEnd = fn
}

// Start begins the periodic checkpoint loop.
func (sr *SessionRecorder) Start() {
	sr.syncTicker = time.NewTicker(sr.cfg.SyncInterval)
	sr.wg.Add(1)
	go sr.syncLoop()

	sr.logger.Info("Session recorder started",
		zap.String("student_id", sr.cfg.StudentID),
		zap.Duration("sync_interval", sr.cfg.SyncInterval),
	)
}

// Stop ends the checkpoint loop and, if a session is still open,
// issues a best-effort terminal flush. This is the analog of the page
// unload handler: the write may not complete, which is why the
// breadcrumb exists.
func (sr *SessionRecorder) Stop() {
	sr.mu.Lock()
	select {
	case <-sr.stopChan:
		// Already stopped
		sr.mu.Unlock()
		return
	default:
		close(sr.stopChan)
	}
	sr.mu.Unlock()

	sr.wg.Wait()
	if sr.syncTicker != nil {
		sr.syncTicker.Stop()
	}

	if err := sr.EndSession(context.Background(), models.EndedByBrowserClose); err != nil {
		sr.logger.Warn("Terminal flush failed", zap.Error(err))
	}

	sr.logger.Info("Session recorder stopped")
}

// CreateSession opens a new learning session. Idempotent against
// concurrent invocation: while a create is in flight or a session is
// already tracked, additional calls are no-ops.
func (sr *SessionRecorder) CreateSession(ctx context.Context) error {
	sr.mu.Lock()
	if sr.sessionID != "" || sr.creating {
		sr.mu.Unlock()
		return nil
	}
	sr.creating = true
	sr.mu.Unlock()

	defer func() {
		sr.mu.Lock()
		sr.creating = false
		sr.mu.Unlock()
	}()

	sr.reconcileOrphan(ctx)

	now := sr.nowFn()
	sessionID, err := sr.client.CreateLearningSession(ctx, models.CreateSessionRequest{
		StudentID:  sr.cfg.StudentID,
		DeviceType: sr.cfg.DeviceType,
		Browser:    sr.cfg.Browser,
		StartedAt:  now,
	})
	if err != nil {
		// Tracking is best-effort telemetry; the caller may retry.
		sr.logger.Error("Failed to create session", zap.Error(err))
		return err
	}

	sr.mu.Lock()
	sr.sessionID = sessionID
	sr.startedAt = now
	sr.activeSeconds = 0
	sr.idleSeconds = 0
	sr.awaySeconds = 0
	sr.mu.Unlock()

	if err := sr.breadcrumbs.Save(models.SessionBreadcrumb{
		SessionID:  sessionID,
		StudentID:  sr.cfg.StudentID,
		StartedAt:  now,
		LastSyncAt: now,
	}); err != nil {
		sr.logger.Warn("Failed to save breadcrumb", zap.Error(err))
	}

	sr.events.AddEvent(models.ActivityEvent{
		StudentID: sr.cfg.StudentID,
		SessionID: sessionID,
		EventType: models.EventSessionStart,
		Metadata: map[string]interface{}{
			"deviceType": sr.cfg.DeviceType,
			"browser":    sr.cfg.Browser,
		},
		CreatedAt: now,
	})

	sr.logger.Info("Session created",
		zap.String("session_id", sessionID),
		zap.String("device_type", sr.cfg.DeviceType),
	)
	return nil
}

// reconcileOrphan closes a session left behind by an abnormal
// termination. The breadcrumb's last sync time stands in for the end
// time; the lost tail of counters is not recoverable.
func (sr *SessionRecorder) reconcileOrphan(ctx context.Context) {
	crumb, err := sr.breadcrumbs.Get(sr.cfg.StudentID)
	if err != nil {
		sr.logger.Warn("Failed to read breadcrumb", zap.Error(err))
		return
	}
	if crumb == nil {
		return
	}

	sr.logger.Warn("Found orphaned session",
		zap.String("session_id", crumb.SessionID),
		zap.Time("last_sync_at", crumb.LastSyncAt),
	)

	endedBy := models.EndedByTimeout
	endedAt := crumb.LastSyncAt
	if err := sr.client.UpdateLearningSession(ctx, crumb.SessionID, models.SessionUpdate{
		EndedAt: &endedAt,
		EndedBy: &endedBy,
	}); err != nil {
		sr.logger.Warn("Failed to close orphaned session", zap.Error(err))
		return
	}

	sr.events.AddEvent(models.ActivityEvent{
		StudentID: crumb.StudentID,
		SessionID: crumb.SessionID,
		EventType: models.EventSessionOrphaned,
		Metadata: map[string]interface{}{
			"lastSyncAt": crumb.LastSyncAt,
		},
		CreatedAt: sr.nowFn(),
	})

	if err := sr.breadcrumbs.Clear(sr.cfg.StudentID); err != nil {
		sr.logger.Warn("Failed to clear breadcrumb", zap.Error(err))
	}
}

// UpdateActiveTime adds active seconds to the in-memory counter.
// No-op without an open session or while a bio break is open.
func (sr *SessionRecorder) UpdateActiveTime(seconds int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.sessionID == "" || sr.onBreak {
		return
	}
	sr.activeSeconds += seconds
}

// UpdateIdleTime adds idle seconds to the in-memory counter. No-op
// without an open session or while a bio break is open.
func (sr *SessionRecorder) UpdateIdleTime(seconds int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.sessionID == "" || sr.onBreak {
		return
	}
	sr.idleSeconds += seconds
}

// UpdateAwayTime adds away seconds to the in-memory counter. No-op
// without an open session.
func (sr *SessionRecorder) UpdateAwayTime(seconds int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.sessionID == "" {
		return
	}
	sr.awaySeconds += seconds
}

// SyncSession checkpoints current counters to the persistence service.
// Idempotent: counters are written as absolute values, so repeating a
// sync with unchanged counters leaves the record identical.
func (sr *SessionRecorder) SyncSession(ctx context.Context) error {
	sr.mu.Lock()
	if sr.sessionID == "" {
		sr.mu.Unlock()
		return nil
	}
	sessionID := sr.sessionID
	active, idle, away := sr.activeSeconds, sr.idleSeconds, sr.awaySeconds
	sr.mu.Unlock()

	if err := sr.client.UpdateLearningSession(ctx, sessionID, models.SessionUpdate{
		TotalActiveSeconds: &active,
		TotalIdleSeconds:   &idle,
		TotalAwaySeconds:   &away,
	}); err != nil {
		// Next checkpoint retries naturally; counters keep accruing.
		sr.logger.Warn("Checkpoint failed", zap.Error(err))
		return err
	}

	if err := sr.breadcrumbs.Touch(sr.cfg.StudentID, sr.nowFn()); err != nil {
		sr.logger.Warn("Failed to touch breadcrumb", zap.Error(err))
	}

	sr.logger.Debug("Session checkpointed",
		zap.String("session_id", sessionID),
		zap.Int64("active", active),
		zap.Int64("idle", idle),
		zap.Int64("away", away),
	)
	return nil
}

// EndSession terminates the open session with the given reason,
// flushing final counters in one update. No-op without a session.
// Local state is reset regardless of the write outcome; the breadcrumb
// is cleared only after a successful terminal write so a failed one
// remains detectable.
func (sr *SessionRecorder) EndSession(ctx context.Context, reason string) error {
	sr.mu.Lock()
	if sr.sessionID == "" {
		sr.mu.Unlock()
		return nil
	}
	sessionID := sr.sessionID
	startedAt := sr.startedAt
	active, idle, away := sr.activeSeconds, sr.idleSeconds, sr.awaySeconds
	sr.sessionID = ""
	sr.activeSeconds = 0
	sr.idleSeconds = 0
	sr.awaySeconds = 0
	sr.onBreak = false
	sr.mu.Unlock()

	now := sr.nowFn()
	updateErr := sr.client.UpdateLearningSession(ctx, sessionID, models.SessionUpdate{
		TotalActiveSeconds: &active,
		TotalIdleSeconds:   &idle,
		TotalAwaySeconds:   &away,
		EndedAt:            &now,
		EndedBy:            &reason,
	})
	if updateErr != nil {
		sr.logger.Error("Failed to write terminal update", zap.Error(updateErr))
	} else {
		if err := sr.breadcrumbs.Clear(sr.cfg.StudentID); err != nil {
			sr.logger.Warn("Failed to clear breadcrumb", zap.Error(err))
		}
	}

	sr.events.AddEvent(models.ActivityEvent{
		StudentID: sr.cfg.StudentID,
		SessionID: sessionID,
		EventType: models.EventSessionEnd,
		Metadata: map[string]interface{}{
			"endedBy":            reason,
			"totalActiveSeconds": active,
			"totalIdleSeconds":   idle,
			"totalAwaySeconds":   away,
		},
		CreatedAt: now,
	})

	sr.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.String("ended_by", reason),
		zap.Int64("active", active),
		zap.Int64("idle", idle),
		zap.Int64("away", away),
	)

	if sr.onSessionEnd != nil {
		sr.onSessionEnd(models.LearningSession{
			SessionID:          sessionID,
			StudentID:          sr.cfg.StudentID,
			DeviceType:         sr.cfg.DeviceType,
			Browser:            sr.cfg.Browser,
			StartedAt:          startedAt,
			EndedAt:            &now,
			EndedBy:            &reason,
			TotalActiveSeconds: active,
			TotalIdleSeconds:   idle,
			TotalAwaySeconds:   away,
		})
	}

	return updateErr
}

// BeginBreak opens a bio break: the pause is audited and active/idle
// accrual is suspended so a sanctioned break cannot trigger idle
// penalties. No-op without a session or when already on break.
func (sr *SessionRecorder) BeginBreak() {
	sr.mu.Lock()
	if sr.sessionID == "" || sr.onBreak {
		sr.mu.Unlock()
		return
	}
	sr.onBreak = true
	sessionID := sr.sessionID
	sr.mu.Unlock()

	sr.events.AddEvent(models.ActivityEvent{
		StudentID: sr.cfg.StudentID,
		SessionID: sessionID,
		EventType: models.EventBioBreakStart,
		CreatedAt: sr.nowFn(),
	})
	sr.logger.Info("Bio break started", zap.String("session_id", sessionID))
}

// EndBreak closes an open bio break.
func (sr *SessionRecorder) EndBreak() {
	sr.mu.Lock()
	if sr.sessionID == "" || !sr.onBreak {
		sr.mu.Unlock()
		return
	}
	sr.onBreak = false
	sessionID := sr.sessionID
	sr.mu.Unlock()

	sr.events.AddEvent(models.ActivityEvent{
		StudentID: sr.cfg.StudentID,
		SessionID: sessionID,
		EventType: models.EventBioBreakEnd,
		CreatedAt: sr.nowFn(),
	})
	sr.logger.Info("Bio break ended", zap.String("session_id", sessionID))
}

// HasSession reports whether a session is currently tracked.
func (sr *SessionRecorder) HasSession() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.sessionID != ""
}

// SessionID returns the current session id, or empty.
func (sr *SessionRecorder) SessionID() string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.sessionID
}

// OnBreak reports whether a bio break is open.
func (sr *SessionRecorder) OnBreak() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.onBreak
}

// Counters returns the current active/idle/away second counters.
func (sr *SessionRecorder) Counters() (active, idle, away int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.activeSeconds, sr.idleSeconds, sr.awaySeconds
}

func (sr *SessionRecorder) syncLoop() {
	defer sr.wg.Done()

	for {
		select {
		case <-sr.syncTicker.C:
			if err := sr.SyncSession(context.Background()); err != nil {
				// Already logged; nothing else to do until next tick.
				continue
			}
		case <-sr.stopChan:
			return
		}
	}
}
