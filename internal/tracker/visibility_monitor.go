package tracker

import (
	"sync"
	"time"

	"brightpath/focus-tracker/internal/platform"

	"go.uber.org/zap"
)

// VisibilityCallbacks receive committed foreground/background
// transitions. Debounced flicker produces no calls at all.
type VisibilityCallbacks struct {
	OnHidden  func()
	OnVisible func(awayFor time.Duration)
}

// VisibilityMonitor classifies the hosting window/tab as foreground or
// background by merging document-visibility and window-focus signals,
// suppressing transient blur/focus flicker.
//
// A blur is ignored unless the window held focus for at least the
// dwell time beforehand. An accepted blur is committed only after the
// grace window passes without focus returning. A return is counted
// only if the away period exceeded the minimum threshold; briefer
// occlusions restore visibility silently.
type VisibilityMonitor struct {
	focusDwell time.Duration
	blurGrace  time.Duration
	minAway    time.Duration

	docVisible    bool
	winFocused    bool
	visible       bool
	focusGainedAt time.Time
	awaySince     time.Time
	totalAway     time.Duration
	callbacks     VisibilityCallbacks
	nowFn         func() time.Time
	logger        *zap.Logger
	mu            sync.Mutex

	pendingTimer *time.Timer
	pendingGen   int
	stopped      bool
}

// VisibilityConfig carries the monitor's debounce thresholds.
type VisibilityConfig struct {
	FocusDwell time.Duration
	BlurGrace  time.Duration
	MinAway    time.Duration
}

// NewVisibilityMonitor creates a new visibility monitor. The window is
// assumed foregrounded at construction.
func NewVisibilityMonitor(cfg VisibilityConfig, logger *zap.Logger) *VisibilityMonitor {
	return &VisibilityMonitor{
		focusDwell: cfg.FocusDwell,
		blurGrace:  cfg.BlurGrace,
		minAway:    cfg.MinAway,
		docVisible: true,
		winFocused: true,
		visible:    true,
		nowFn:      time.Now,
		logger:     logger,
	}
}

// Start registers the transition callbacks.
func (vm *VisibilityMonitor) Start(callbacks VisibilityCallbacks) error {
	vm.mu.Lock()
	vm.callbacks = callbacks
	vm.focusGainedAt = vm.nowFn()
	vm.stopped = false
	vm.mu.Unlock()

	vm.logger.Info("Visibility monitor started",
		zap.Duration("focus_dwell", vm.focusDwell),
		zap.Duration("blur_grace", vm.blurGrace),
		zap.Duration("min_away", vm.minAway),
	)
	return nil
}

// Stop cancels any pending debounce timer so no callback fires against
// a disposed context.
func (vm *VisibilityMonitor) Stop() {
	vm.mu.Lock()
	vm.stopped = true
	if vm.pendingTimer != nil {
		vm.pendingTimer.Stop()
		vm.pendingTimer = nil
	}
	vm.mu.Unlock()

	vm.logger.Info("Visibility monitor stopped")
}

// IsVisible reports whether the tab is committed as foregrounded:
// document visible and window focused, after debouncing.
func (vm *VisibilityMonitor) IsVisible() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.visible
}

// TotalAwaySeconds returns the accumulated away time across all
// accepted (non-debounced) away intervals.
func (vm *VisibilityMonitor) TotalAwaySeconds() int64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return int64(vm.totalAway.Seconds())
}

// HandleEvent processes a document-visibility or window-focus change.
func (vm *VisibilityMonitor) HandleEvent(event platform.VisibilityEvent) {
	now := event.Timestamp
	if now.IsZero() {
		now = vm.nowFn()
	}

	vm.mu.Lock()
	if vm.stopped {
		vm.mu.Unlock()
		return
	}

	wasForeground := vm.docVisible && vm.winFocused
	switch event.Kind {
	case platform.VisibilityVisible:
		vm.docVisible = true
	case platform.VisibilityHidden:
		vm.docVisible = false
	case platform.VisibilityFocused:
		vm.winFocused = true
	case platform.VisibilityBlurred:
		vm.winFocused = false
	}
	isForeground := vm.docVisible && vm.winFocused

	// Decisions key off the committed visible state, not raw-flag
	// edges: a dwell-rejected blur leaves the raw flags backgrounded,
	// and a document-hidden arriving afterwards must still commit.
	var onVisible func(time.Duration)
	var awayFor time.Duration
	switch {
	case !isForeground:
		vm.handleBlurLocked(event.Kind, now)
	case vm.pendingTimer != nil || !vm.visible:
		onVisible, awayFor = vm.handleReturnLocked(now)
	case !wasForeground:
		// Focus regained while still committed visible (the earlier
		// loss never committed): restart the dwell clock.
		vm.focusGainedAt = now
	}
	vm.mu.Unlock()

	if onVisible != nil {
		onVisible(awayFor)
	}
}

// handleBlurLocked starts the away commit for a foreground loss.
// Caller holds the mutex.
func (vm *VisibilityMonitor) handleBlurLocked(kind platform.VisibilityKind, now time.Time) {
	if !vm.visible || vm.pendingTimer != nil {
		// Already committed away, or a commit is in flight.
		return
	}

	// A click that momentarily shifts OS focus produces a blur right
	// after focus was gained; those never held focus long enough. The
	// dwell filter applies to blur only: a document-hidden is an
	// authoritative tab switch and always proceeds.
	if kind == platform.VisibilityBlurred && now.Sub(vm.focusGainedAt) < vm.focusDwell {
		vm.logger.Debug("Blur ignored, focus dwell too short",
			zap.Duration("dwell", now.Sub(vm.focusGainedAt)),
		)
		return
	}

	vm.pendingGen++
	gen := vm.pendingGen
	vm.pendingTimer = time.AfterFunc(vm.blurGrace, func() {
		vm.commitBlur(gen, now)
	})
}

// handleReturnLocked processes a foreground regain. Caller holds the
// mutex; the returned callback, if any, must be fired after release.
func (vm *VisibilityMonitor) handleReturnLocked(now time.Time) (func(time.Duration), time.Duration) {
	if vm.pendingTimer != nil {
		// Focus came back within the grace window: the away
		// transition is cancelled entirely and nothing fires.
		vm.pendingTimer.Stop()
		vm.pendingTimer = nil
		vm.pendingGen++
		vm.focusGainedAt = now
		return nil, 0
	}

	if vm.visible {
		vm.focusGainedAt = now
		return nil, 0
	}

	awayFor := now.Sub(vm.awaySince)
	vm.visible = true
	vm.focusGainedAt = now

	if awayFor < vm.minAway {
		// Brief occlusion: restore silently, no away time counted.
		vm.logger.Debug("Return below minimum away threshold",
			zap.Duration("away", awayFor),
		)
		return nil, 0
	}

	vm.totalAway += awayFor

	vm.logger.Info("Tab foregrounded",
		zap.Duration("away", awayFor),
		zap.Int64("total_away_seconds", int64(vm.totalAway.Seconds())),
	)
	return vm.callbacks.OnVisible, awayFor
}

// commitBlur finalizes an away transition after the grace window.
func (vm *VisibilityMonitor) commitBlur(gen int, blurAt time.Time) {
	vm.mu.Lock()
	if vm.stopped || vm.pendingTimer == nil || gen != vm.pendingGen {
		vm.mu.Unlock()
		return
	}
	vm.pendingTimer = nil
	vm.visible = false
	// Away time is measured from the blur itself, not from the end of
	// the grace window.
	vm.awaySince = blurAt
	onHidden := vm.callbacks.OnHidden
	vm.mu.Unlock()

	vm.logger.Info("Tab backgrounded", zap.Time("away_since", blurAt))
	if onHidden != nil {
		onHidden()
	}
}
