package tracker

import (
	"sync"
	"time"

	"brightpath/focus-tracker/internal/platform"

	"go.uber.org/zap"
)

// IdleState represents the input-recency classification of the user.
type IdleState string

const (
	StateActive  IdleState = "active"
	StateWarning IdleState = "warning"
	StateIdle    IdleState = "idle"
)

// IdleCallbacks receive state transitions. Each fires exactly once per
// transition, never redundantly for a state the detector is already in.
type IdleCallbacks struct {
	OnWarning func()
	OnIdle    func(idleFor time.Duration)
	OnActive  func()
}

// IdleDetector classifies input recency into active/warning/idle and
// notifies on each transition. It has no I/O; all state is local.
type IdleDetector struct {
	warningThreshold time.Duration
	idleThreshold    time.Duration
	checkInterval    time.Duration
	throttle         map[platform.InputKind]time.Duration
	lastFired        map[platform.InputKind]time.Time
	lastActivity     time.Time
	currentState     IdleState
	idleDuration     time.Duration
	callbacks        IdleCallbacks
	nowFn            func() time.Time
	logger           *zap.Logger
	mu               sync.Mutex

	checkTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// IdleConfig carries the detector thresholds.
type IdleConfig struct {
	WarningThreshold time.Duration
	IdleThreshold    time.Duration
	CheckInterval    time.Duration
	PointerThrottle  time.Duration
	ScrollThrottle   time.Duration
}

// NewIdleDetector creates a new idle detector.
func NewIdleDetector(cfg IdleConfig, logger *zap.Logger) *IdleDetector {
	// High-frequency kinds are throttled; discrete kinds pass through.
	throttle := map[platform.InputKind]time.Duration{
		platform.InputPointerMove: cfg.PointerThrottle,
		platform.InputScroll:      cfg.ScrollThrottle,
		platform.InputWheel:       cfg.ScrollThrottle,
	}

	return &IdleDetector{
		warningThreshold: cfg.WarningThreshold,
		idleThreshold:    cfg.IdleThreshold,
		checkInterval:    cfg.CheckInterval,
		throttle:         throttle,
		lastFired:        make(map[platform.InputKind]time.Time),
		currentState:     StateActive,
		nowFn:            time.Now,
		logger:           logger,
		stopChan:         make(chan struct{}),
	}
}

// Start begins the periodic state check.
func (d *IdleDetector) Start(callbacks IdleCallbacks) error {
	d.mu.Lock()
	d.callbacks = callbacks
	d.lastActivity = d.nowFn()
	d.mu.Unlock()

	d.checkTicker = time.NewTicker(d.checkInterval)
	d.wg.Add(1)
	go d.checkLoop()

	d.logger.Info("Idle detector started",
		zap.Duration("warning_threshold", d.warningThreshold),
		zap.Duration("idle_threshold", d.idleThreshold),
	)
	return nil
}

// Stop stops the periodic check. Safe to call more than once.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopChan:
		// Already closed
		d.mu.Unlock()
		return
	default:
		close(d.stopChan)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if d.checkTicker != nil {
		d.checkTicker.Stop()
	}
	d.logger.Info("Idle detector stopped")
}

// RecordInput resets the activity clock on a qualifying input event.
// High-frequency kinds (pointer move, scroll, wheel) are throttled to
// one accepted event per configured interval; throttled events are
// dropped entirely.
func (d *IdleDetector) RecordInput(event platform.InputEvent) {
	now := event.Timestamp
	if now.IsZero() {
		now = d.nowFn()
	}

	d.mu.Lock()
	if interval, ok := d.throttle[event.Kind]; ok && interval > 0 {
		if last, seen := d.lastFired[event.Kind]; seen && now.Sub(last) < interval {
			d.mu.Unlock()
			return
		}
		d.lastFired[event.Kind] = now
	}
	d.lastActivity = now
	wasIdle := d.currentState != StateActive
	if wasIdle {
		d.currentState = StateActive
	}
	onActive := d.callbacks.OnActive
	d.mu.Unlock()

	// Transition-gated, so OnActive fires once per warning/idle
	// episode rather than once per input event.
	if wasIdle {
		d.logger.Debug("Activity state changed",
			zap.String("new_state", string(StateActive)),
			zap.String("input_kind", string(event.Kind)),
		)
		if onActive != nil {
			onActive()
		}
	}
}

// State returns the current classification.
func (d *IdleDetector) State() IdleState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentState
}

// IsIdle reports whether the user is currently idle.
func (d *IdleDetector) IsIdle() bool {
	return d.State() == StateIdle
}

// IsWarning reports whether the user is in the warning state.
func (d *IdleDetector) IsWarning() bool {
	return d.State() == StateWarning
}

// IdleDuration returns the input gap recorded when the detector last
// entered the idle state.
func (d *IdleDetector) IdleDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleDuration
}

func (d *IdleDetector) checkLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.checkTicker.C:
			d.checkState()
		case <-d.stopChan:
			return
		}
	}
}

func (d *IdleDetector) checkState() {
	select {
	case <-d.stopChan:
		return
	default:
	}

	now := d.nowFn()

	d.mu.Lock()
	elapsed := now.Sub(d.lastActivity)

	var fireWarning, fireIdle bool
	var idleFor time.Duration

	// Warning is evaluated first so the timer path always passes
	// through it, even when both thresholds elapsed between checks.
	if d.currentState == StateActive && elapsed >= d.warningThreshold {
		d.currentState = StateWarning
		fireWarning = true
	}
	if d.currentState != StateIdle && elapsed >= d.idleThreshold {
		d.currentState = StateIdle
		d.idleDuration = elapsed
		idleFor = elapsed
		fireIdle = true
	}
	callbacks := d.callbacks
	d.mu.Unlock()

	if fireWarning {
		d.logger.Info("Activity state changed",
			zap.String("new_state", string(StateWarning)),
			zap.Duration("input_gap", elapsed),
		)
		if callbacks.OnWarning != nil {
			callbacks.OnWarning()
		}
	}
	if fireIdle {
		d.logger.Info("Activity state changed",
			zap.String("new_state", string(StateIdle)),
			zap.Duration("input_gap", elapsed),
		)
		if callbacks.OnIdle != nil {
			callbacks.OnIdle(idleFor)
		}
	}
}
