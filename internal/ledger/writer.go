package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brightpath/focus-tracker/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Ledger is the subset of the backend client the writer needs.
type Ledger interface {
	InsertLedgerEntry(ctx context.Context, entry models.LedgerEntry) error
	QueryLedgerEntries(ctx context.Context, query models.LedgerQuery) ([]models.LedgerEntry, error)
}

// OverdueSource supplies the items the periodic sweep examines.
type OverdueSource interface {
	OverdueItems(ctx context.Context) ([]models.OverdueAssignment, error)
}

// Config carries the writer's amounts and cadence.
type Config struct {
	PenaltyAmount          int
	RewardAmount           int
	RewardMinActiveSeconds int64
	SweepInterval          time.Duration
	InitialDelay           time.Duration
}

// Writer converts domain state transitions into point-valued ledger
// entries, deduplicated by a composite key so the same condition is
// never double-charged within one instance.
//
// The check-then-insert sequence has no transactional guard: two
// concurrent instances (tabs) can both pass the server-side query and
// double-insert. That risk is accepted; a duplicate penalty is a point
// value, not currency.
type Writer struct {
	client Ledger
	source OverdueSource
	cfg    Config
	logger *zap.Logger

	processed map[string]bool
	running   bool
	nowFn     func() time.Time
	mu        sync.Mutex

	sweepTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewWriter creates a new ledger writer.
func NewWriter(client Ledger, source OverdueSource, cfg Config, logger *zap.Logger) *Writer {
	return &Writer{
		client:    client,
		source:    source,
		cfg:       cfg,
		logger:    logger,
		processed: make(map[string]bool),
		nowFn:     time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the first sweep after a short initial delay, then on the
// configured interval, so newly elapsed day boundaries are caught
// without the instance staying up continuously.
func (w *Writer) Start() {
	w.sweepTicker = time.NewTicker(w.cfg.SweepInterval)
	w.wg.Add(1)
	go w.sweepLoop()

	w.logger.Info("Ledger writer started",
		zap.Duration("sweep_interval", w.cfg.SweepInterval),
		zap.Int("penalty_amount", w.cfg.PenaltyAmount),
	)
}

// Stop ends the sweep loop.
func (w *Writer) Stop() {
	w.mu.Lock()
	select {
	case <-w.stopChan:
		// Already closed
		w.mu.Unlock()
		return
	default:
		close(w.stopChan)
	}
	w.mu.Unlock()

	w.wg.Wait()
	if w.sweepTicker != nil {
		w.sweepTicker.Stop()
	}
	w.logger.Info("Ledger writer stopped")
}

// Sweep emits at most one penalty entry per (item, daysLate) bucket
// across all given items. Overlapping invocations are rejected: only
// one sweep runs at a time per instance. A failed bucket stays
// unprocessed and is retried on the next sweep; its error is carried
// in the aggregate return.
func (w *Writer) Sweep(ctx context.Context, items []models.OverdueAssignment) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	now := w.nowFn()
	var errs error
	for _, item := range items {
		daysLate := int(now.Sub(item.DueAt).Hours() / 24)
		if daysLate <= 0 {
			continue
		}
		for day := 1; day <= daysLate; day++ {
			if err := w.emitPenalty(ctx, item, day, now); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// emitPenalty inserts the penalty for one day-late bucket unless the
// local set or the server-side range query finds a prior entry.
func (w *Writer) emitPenalty(ctx context.Context, item models.OverdueAssignment, day int, now time.Time) error {
	key := fmt.Sprintf("%s:%d", item.ID, day)

	w.mu.Lock()
	seen := w.processed[key]
	w.mu.Unlock()
	if seen {
		return nil
	}

	bucketStart := item.DueAt.Add(time.Duration(day) * 24 * time.Hour)
	bucketEnd := item.DueAt.Add(time.Duration(day+1) * 24 * time.Hour)

	existing, err := w.client.QueryLedgerEntries(ctx, models.LedgerQuery{
		ReferenceID: item.ID,
		EventType:   models.EventOverduePenalty,
		After:       bucketStart,
		Before:      bucketEnd,
	})
	if err != nil {
		w.logger.Warn("Penalty dedup query failed",
			zap.Error(err),
			zap.String("item_id", item.ID),
			zap.Int("days_late", day),
		)
		return err
	}
	if len(existing) > 0 {
		w.markProcessed(key)
		return nil
	}

	// Catch-up buckets get a created-at inside their own day window so
	// the range query keeps finding them after this instance is gone.
	createdAt := bucketStart
	if now.After(bucketStart) && now.Before(bucketEnd) {
		createdAt = now
	}

	entry := models.LedgerEntry{
		StudentID:   item.StudentID,
		Amount:      w.cfg.PenaltyAmount,
		EventType:   models.EventOverduePenalty,
		Description: fmt.Sprintf("Overdue penalty, day %d: %s", day, item.Title),
		ReferenceID: item.ID,
		CreatedAt:   createdAt,
	}
	if err := w.client.InsertLedgerEntry(ctx, entry); err != nil {
		w.logger.Warn("Failed to insert penalty",
			zap.Error(err),
			zap.String("item_id", item.ID),
			zap.Int("days_late", day),
		)
		return err
	}

	w.markProcessed(key)
	w.logger.Info("Penalty emitted",
		zap.String("item_id", item.ID),
		zap.Int("days_late", day),
		zap.Int("amount", w.cfg.PenaltyAmount),
	)
	return nil
}

// RecordSessionReward awards points for a completed session that met
// the minimum active time, deduplicated by session reference.
func (w *Writer) RecordSessionReward(ctx context.Context, session models.LearningSession) error {
	if session.TotalActiveSeconds < w.cfg.RewardMinActiveSeconds {
		return nil
	}

	key := "reward:" + session.SessionID
	w.mu.Lock()
	seen := w.processed[key]
	w.mu.Unlock()
	if seen {
		return nil
	}

	existing, err := w.client.QueryLedgerEntries(ctx, models.LedgerQuery{
		ReferenceID: session.SessionID,
		EventType:   models.EventSessionReward,
		After:       session.StartedAt,
		Before:      session.StartedAt.Add(48 * time.Hour),
	})
	if err != nil {
		w.logger.Warn("Reward dedup query failed",
			zap.Error(err),
			zap.String("session_id", session.SessionID),
		)
		return err
	}
	if len(existing) > 0 {
		w.markProcessed(key)
		return nil
	}

	entry := models.LedgerEntry{
		StudentID:   session.StudentID,
		Amount:      w.cfg.RewardAmount,
		EventType:   models.EventSessionReward,
		Description: fmt.Sprintf("Focus session reward: %d active seconds", session.TotalActiveSeconds),
		ReferenceID: session.SessionID,
		CreatedAt:   w.nowFn(),
	}
	if err := w.client.InsertLedgerEntry(ctx, entry); err != nil {
		w.logger.Warn("Failed to insert reward",
			zap.Error(err),
			zap.String("session_id", session.SessionID),
		)
		return err
	}

	w.markProcessed(key)
	w.logger.Info("Session reward emitted",
		zap.String("session_id", session.SessionID),
		zap.Int("amount", w.cfg.RewardAmount),
	)
	return nil
}

func (w *Writer) markProcessed(key string) {
	w.mu.Lock()
	w.processed[key] = true
	w.mu.Unlock()
}

func (w *Writer) sweepLoop() {
	defer w.wg.Done()

	// Short startup debounce before the first sweep.
	select {
	case <-time.After(w.cfg.InitialDelay):
		w.runSweep()
	case <-w.stopChan:
		return
	}

	for {
		select {
		case <-w.sweepTicker.C:
			w.runSweep()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Writer) runSweep() {
	if w.source == nil {
		return
	}

	ctx := context.Background()
	items, err := w.source.OverdueItems(ctx)
	if err != nil {
		w.logger.Warn("Failed to load overdue items", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	if err := w.Sweep(ctx, items); err != nil {
		w.logger.Warn("Sweep failed", zap.Error(err))
	}
}
