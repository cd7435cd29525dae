package service

import (
	"context"
	"sync"
	"time"

	"brightpath/focus-tracker/internal/collector"
	"brightpath/focus-tracker/internal/ledger"
	"brightpath/focus-tracker/internal/models"
	"brightpath/focus-tracker/internal/platform"
	"brightpath/focus-tracker/internal/queue"
	"brightpath/focus-tracker/internal/recorder"
	"brightpath/focus-tracker/internal/tracker"

	"go.uber.org/zap"
)

// EventWriter delivers activity events to the persistence service.
type EventWriter interface {
	InsertActivityEvent(ctx context.Context, event models.ActivityEvent) error
}

// TrackingService orchestrates all tracking components: it bridges the
// event source into the idle detector and visibility monitor, routes
// elapsed seconds into the session recorder, and delivers collected
// events with queue-backed retry.
type TrackingService struct {
	source          platform.Source
	idleDetector    *tracker.IdleDetector
	visibilityMon   *tracker.VisibilityMonitor
	sessionRecorder *recorder.SessionRecorder
	eventCollector  *collector.EventCollector
	eventWriter     EventWriter
	eventQueue      *queue.EventQueue
	ledgerWriter    *ledger.Writer
	studentID       string
	retryInterval   time.Duration
	logger          *zap.Logger

	stopped  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTrackingService creates a new tracking service.
func NewTrackingService(
	source platform.Source,
	idleDetector *tracker.IdleDetector,
	visibilityMon *tracker.VisibilityMonitor,
	sessionRecorder *recorder.SessionRecorder,
	eventCollector *collector.EventCollector,
	eventWriter EventWriter,
	eventQueue *queue.EventQueue,
	ledgerWriter *ledger.Writer, // Optional: can be nil if sweeping is disabled
	studentID string,
	retryInterval time.Duration,
	logger *zap.Logger,
) *TrackingService {
	ts := &TrackingService{
		source:          source,
		idleDetector:    idleDetector,
		visibilityMon:   visibilityMon,
		sessionRecorder: sessionRecorder,
		eventCollector:  eventCollector,
		eventWriter:     eventWriter,
		eventQueue:      eventQueue,
		ledgerWriter:    ledgerWriter,
		studentID:       studentID,
		retryInterval:   retryInterval,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}

	if ledgerWriter != nil {
		sessionRecorder.SetOnSessionEnd(func(session models.LearningSession) {
			if err := ledgerWriter.RecordSessionReward(context.Background(), session); err != nil {
				logger.Warn("Failed to record session reward", zap.Error(err))
			}
		})
	}

	return ts
}

// Start begins tracking and opens the learning session.
func (ts *TrackingService) Start() error {
	ts.logger.Info("Starting tracking service", zap.String("student_id", ts.studentID))

	ts.eventCollector.Start(ts.onBatchReady)

	if err := ts.idleDetector.Start(tracker.IdleCallbacks{
		OnWarning: ts.onWarning,
		OnIdle:    ts.onIdle,
		OnActive:  ts.onActive,
	}); err != nil {
		ts.eventCollector.Stop()
		return err
	}

	if err := ts.visibilityMon.Start(tracker.VisibilityCallbacks{
		OnHidden:  ts.onHidden,
		OnVisible: ts.onVisible,
	}); err != nil {
		ts.idleDetector.Stop()
		ts.eventCollector.Stop()
		return err
	}

	if err := ts.source.StartInputMonitoring(ts.idleDetector.RecordInput); err != nil {
		ts.visibilityMon.Stop()
		ts.idleDetector.Stop()
		ts.eventCollector.Stop()
		return err
	}
	if err := ts.source.StartVisibilityMonitoring(ts.visibilityMon.HandleEvent); err != nil {
		if stopErr := ts.source.Stop(); stopErr != nil {
			ts.logger.Warn("Event source stop failed", zap.Error(stopErr))
		}
		ts.visibilityMon.Stop()
		ts.idleDetector.Stop()
		ts.eventCollector.Stop()
		return err
	}

	ts.sessionRecorder.Start()
	if ts.ledgerWriter != nil {
		ts.ledgerWriter.Start()
	}

	ts.wg.Add(2)
	go ts.accrualLoop()
	go ts.queueProcessor()

	// Session create is best-effort: a failure degrades to in-memory
	// tracking and the next Start attempt may retry.
	if err := ts.sessionRecorder.CreateSession(context.Background()); err != nil {
		ts.logger.Warn("Session create failed, tracking continues unpersisted", zap.Error(err))
	}

	ts.logger.Info("Tracking service started")
	return nil
}

// Stop stops tracking, ending any open session as a browser close.
// Every listener and timer registered by Start is released here.
func (ts *TrackingService) Stop() {
	ts.logger.Info("Stopping tracking service")

	ts.mu.Lock()
	select {
	case <-ts.stopChan:
		// Already stopped
		ts.mu.Unlock()
		return
	default:
		ts.stopped = true
		close(ts.stopChan)
	}
	ts.mu.Unlock()

	// Sources first so no events arrive during teardown.
	if err := ts.source.Stop(); err != nil {
		ts.logger.Warn("Event source stop failed", zap.Error(err))
	}

	ts.idleDetector.Stop()
	ts.visibilityMon.Stop()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		ts.logger.Warn("Some goroutines did not stop within timeout")
	}

	// Recorder before collector: the terminal session_end event must
	// land in the collector before its final flush.
	ts.sessionRecorder.Stop()
	ts.eventCollector.Stop()

	if ts.ledgerWriter != nil {
		ts.ledgerWriter.Stop()
	}

	ts.logger.Info("Tracking service stopped")
}

// StopSession ends the open session with the given reason without
// stopping the trackers; a new session can be created afterwards.
func (ts *TrackingService) StopSession(reason string) error {
	return ts.sessionRecorder.EndSession(context.Background(), reason)
}

// StartSession opens a new learning session if none is tracked.
func (ts *TrackingService) StartSession() error {
	return ts.sessionRecorder.CreateSession(context.Background())
}

// BeginBreak opens a bio break on the current session.
func (ts *TrackingService) BeginBreak() {
	ts.sessionRecorder.BeginBreak()
}

// EndBreak closes an open bio break.
func (ts *TrackingService) EndBreak() {
	ts.sessionRecorder.EndBreak()
}

// accrualLoop routes each elapsed second into the session counters.
// Idle and away classification are independent, so one second can
// increment both an idle/active counter and the away counter; the
// counter sum deliberately need not equal wall-clock duration.
func (ts *TrackingService) accrualLoop() {
	defer ts.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ts.idleDetector.IsIdle() {
				ts.sessionRecorder.UpdateIdleTime(1)
			} else {
				ts.sessionRecorder.UpdateActiveTime(1)
			}
			if !ts.visibilityMon.IsVisible() {
				ts.sessionRecorder.UpdateAwayTime(1)
			}
		case <-ts.stopChan:
			return
		}
	}
}

// onBatchReady delivers a collected batch, queuing failures locally.
func (ts *TrackingService) onBatchReady(events []models.ActivityEvent) {
	if len(events) == 0 {
		return
	}

	var failed []models.ActivityEvent
	for _, event := range events {
		if err := ts.eventWriter.InsertActivityEvent(context.Background(), event); err != nil {
			failed = append(failed, event)
		}
	}
	if len(failed) == 0 {
		return
	}

	ts.logger.Warn("Failed to send activity events, queuing locally",
		zap.Int("failed_count", len(failed)),
		zap.Int("batch_count", len(events)),
	)
	if err := ts.eventQueue.Enqueue(ts.studentID, failed); err != nil {
		ts.logger.Error("Failed to queue events", zap.Error(err))
	}
}

// queueProcessor retries queued events in the background.
func (ts *TrackingService) queueProcessor() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts.processQueue()
		case <-ts.stopChan:
			// One last attempt before stopping
			ts.processQueue()
			return
		}
	}
}

func (ts *TrackingService) processQueue() {
	pendingCount, err := ts.eventQueue.GetPendingCount(ts.studentID)
	if err != nil {
		ts.logger.Error("Failed to get pending count", zap.Error(err))
		return
	}
	if pendingCount == 0 {
		return
	}

	ts.logger.Debug("Processing queued events",
		zap.Int("pending_count", pendingCount),
	)

	events, ids, err := ts.eventQueue.Dequeue(ts.studentID, 100)
	if err != nil {
		ts.logger.Error("Failed to dequeue events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	var sentIDs, failedIDs []int64
	for i, event := range events {
		if err := ts.eventWriter.InsertActivityEvent(context.Background(), event); err != nil {
			failedIDs = append(failedIDs, ids[i])
			continue
		}
		sentIDs = append(sentIDs, ids[i])
	}

	if len(failedIDs) > 0 {
		if err := ts.eventQueue.IncrementRetry(failedIDs); err != nil {
			ts.logger.Error("Failed to increment retry count", zap.Error(err))
		}
	}
	if len(sentIDs) > 0 {
		if err := ts.eventQueue.Remove(sentIDs); err != nil {
			ts.logger.Error("Failed to remove sent events from queue", zap.Error(err))
		} else {
			ts.logger.Info("Successfully sent queued events",
				zap.Int("event_count", len(sentIDs)),
			)
		}
	}
}

// GetStatus returns the current tracking status.
func (ts *TrackingService) GetStatus() map[string]interface{} {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	active, idle, away := ts.sessionRecorder.Counters()
	pendingCount, _ := ts.eventQueue.GetPendingCount(ts.studentID)

	return map[string]interface{}{
		"student_id":           ts.studentID,
		"session_id":           ts.sessionRecorder.SessionID(),
		"idle_state":           string(ts.idleDetector.State()),
		"is_visible":           ts.visibilityMon.IsVisible(),
		"on_break":             ts.sessionRecorder.OnBreak(),
		"total_active_seconds": active,
		"total_idle_seconds":   idle,
		"total_away_seconds":   away,
		"monitor_away_seconds": ts.visibilityMon.TotalAwaySeconds(),
		"pending_events":       pendingCount,
		"collector_pending":    ts.eventCollector.GetPendingCount(),
	}
}

func (ts *TrackingService) onWarning() {
	ts.logger.Info("Idle warning", zap.String("session_id", ts.sessionRecorder.SessionID()))
}

func (ts *TrackingService) onIdle(idleFor time.Duration) {
	ts.logger.Info("Student idle",
		zap.String("session_id", ts.sessionRecorder.SessionID()),
		zap.Duration("idle_for", idleFor),
	)
}

func (ts *TrackingService) onActive() {
	ts.logger.Info("Student active again", zap.String("session_id", ts.sessionRecorder.SessionID()))
}

func (ts *TrackingService) onHidden() {
	ts.logger.Info("Tab backgrounded", zap.String("session_id", ts.sessionRecorder.SessionID()))
}

func (ts *TrackingService) onVisible(awayFor time.Duration) {
	ts.logger.Info("Tab foregrounded",
		zap.String("session_id", ts.sessionRecorder.SessionID()),
		zap.Duration("away_for", awayFor),
	)
}
