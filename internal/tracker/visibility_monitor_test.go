package tracker

import (
	"sync"
	"testing"
	"time"

	"brightpath/focus-tracker/internal/platform"

	"go.uber.org/zap"
)

type visibilityCounts struct {
	mu       sync.Mutex
	hiddens  int
	visibles int
	awayFor  time.Duration
}

func (vc *visibilityCounts) callbacks() VisibilityCallbacks {
	return VisibilityCallbacks{
		OnHidden: func() {
			vc.mu.Lock()
			vc.hiddens++
			vc.mu.Unlock()
		},
		OnVisible: func(awayFor time.Duration) {
			vc.mu.Lock()
			vc.visibles++
			vc.awayFor = awayFor
			vc.mu.Unlock()
		},
	}
}

func (vc *visibilityCounts) snapshot() (int, int) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.hiddens, vc.visibles
}

// Dwell and away thresholds compare event timestamps, so they keep
// their production values; only the grace timer runs on the wall
// clock and is shortened to keep the tests fast.
func newTestMonitor(clock *fakeClock, counts *visibilityCounts) *VisibilityMonitor {
	vm := NewVisibilityMonitor(VisibilityConfig{
		FocusDwell: 2 * time.Second,
		BlurGrace:  30 * time.Millisecond,
		MinAway:    1 * time.Second,
	}, zap.NewNop())
	vm.nowFn = clock.Now
	if err := vm.Start(counts.callbacks()); err != nil {
		panic(err)
	}
	return vm
}

func TestVisibilityMonitor_BlurFocusFlickerSuppressed(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	// Focus held well past the dwell minimum, then a click-induced
	// blur/focus pair inside the grace window.
	clock.Advance(5 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: clock.Now()})
	clock.Advance(10 * time.Millisecond)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityFocused, Timestamp: clock.Now()})

	// Give a cancelled grace timer every chance to misfire.
	time.Sleep(100 * time.Millisecond)

	hiddens, visibles := counts.snapshot()
	if hiddens != 0 || visibles != 0 {
		t.Errorf("callbacks = (hidden=%d visible=%d), want (0 0)", hiddens, visibles)
	}
	if !vm.IsVisible() {
		t.Error("IsVisible() = false after suppressed flicker, want true")
	}
	if vm.TotalAwaySeconds() != 0 {
		t.Errorf("TotalAwaySeconds() = %d, want 0", vm.TotalAwaySeconds())
	}
}

func TestVisibilityMonitor_ShortDwellBlurIgnored(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	// Blur 1s after focus: below the 2s dwell, not even scheduled.
	clock.Advance(1 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: clock.Now()})

	time.Sleep(100 * time.Millisecond)

	hiddens, _ := counts.snapshot()
	if hiddens != 0 {
		t.Errorf("onHidden fired %d times for short-dwell blur, want 0", hiddens)
	}
	if !vm.IsVisible() {
		t.Error("IsVisible() = false, want true")
	}
}

func TestVisibilityMonitor_CommittedAwayAndReturn(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	clock.Advance(5 * time.Second)
	blurAt := clock.Now()
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: blurAt})

	// Let the grace window elapse: the away transition commits.
	time.Sleep(100 * time.Millisecond)

	hiddens, _ := counts.snapshot()
	if hiddens != 1 {
		t.Fatalf("onHidden fired %d times after grace elapsed, want 1", hiddens)
	}
	if vm.IsVisible() {
		t.Fatal("IsVisible() = true after committed blur, want false")
	}

	// Return 8 seconds after the blur.
	clock.Advance(8 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityFocused, Timestamp: clock.Now()})

	_, visibles := counts.snapshot()
	if visibles != 1 {
		t.Errorf("onVisible fired %d times, want 1", visibles)
	}
	counts.mu.Lock()
	awayFor := counts.awayFor
	counts.mu.Unlock()
	if awayFor != 8*time.Second {
		t.Errorf("away duration = %v, want 8s", awayFor)
	}
	if vm.TotalAwaySeconds() != 8 {
		t.Errorf("TotalAwaySeconds() = %d, want 8", vm.TotalAwaySeconds())
	}
}

func TestVisibilityMonitor_BriefOcclusionDiscarded(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	clock.Advance(5 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityHidden, Timestamp: clock.Now()})
	time.Sleep(100 * time.Millisecond)

	if vm.IsVisible() {
		t.Fatal("expected committed away state")
	}

	// Return only 600ms after the blur: under the 1s minimum.
	clock.Advance(600 * time.Millisecond)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityVisible, Timestamp: clock.Now()})

	_, visibles := counts.snapshot()
	if visibles != 0 {
		t.Errorf("onVisible fired %d times for brief occlusion, want 0", visibles)
	}
	if vm.TotalAwaySeconds() != 0 {
		t.Errorf("TotalAwaySeconds() = %d, want 0", vm.TotalAwaySeconds())
	}
	if !vm.IsVisible() {
		t.Error("IsVisible() = false after silent restore, want true")
	}
}

func TestVisibilityMonitor_DocumentHiddenWhileFocused(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	// Tab switch: document hidden even though no blur arrived first.
	clock.Advance(10 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityHidden, Timestamp: clock.Now()})
	time.Sleep(100 * time.Millisecond)

	if vm.IsVisible() {
		t.Error("IsVisible() = true with document hidden, want false")
	}

	// Both signals must be foregrounded for visibility: a focus event
	// alone does not restore it while the document stays hidden.
	clock.Advance(5 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: clock.Now()})
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityFocused, Timestamp: clock.Now()})
	if vm.IsVisible() {
		t.Error("IsVisible() = true while document hidden, want false")
	}

	clock.Advance(1 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityVisible, Timestamp: clock.Now()})
	if !vm.IsVisible() {
		t.Error("IsVisible() = false after both signals restored, want true")
	}
}

func TestVisibilityMonitor_HiddenAfterRejectedBlur(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	// Blur 1s after focus gain: rejected for dwell, raw focus flag
	// now backgrounded while the committed state stays visible.
	clock.Advance(1 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: clock.Now()})
	if !vm.IsVisible() {
		t.Fatal("IsVisible() = false after dwell-rejected blur, want true")
	}

	// The tab switch 30s later must still commit the absence.
	clock.Advance(30 * time.Second)
	hiddenAt := clock.Now()
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityHidden, Timestamp: hiddenAt})
	time.Sleep(100 * time.Millisecond)

	hiddens, _ := counts.snapshot()
	if hiddens != 1 {
		t.Fatalf("onHidden fired %d times after tab switch, want 1", hiddens)
	}
	if vm.IsVisible() {
		t.Fatal("IsVisible() = true while the tab is switched away, want false")
	}

	// Return after 10 minutes: both signals restored.
	clock.Advance(10 * time.Minute)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityVisible, Timestamp: clock.Now()})
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityFocused, Timestamp: clock.Now()})

	_, visibles := counts.snapshot()
	if visibles != 1 {
		t.Errorf("onVisible fired %d times, want 1", visibles)
	}
	if !vm.IsVisible() {
		t.Error("IsVisible() = false after return, want true")
	}
	if vm.TotalAwaySeconds() != 600 {
		t.Errorf("TotalAwaySeconds() = %d, want 600", vm.TotalAwaySeconds())
	}
}

func TestVisibilityMonitor_StopCancelsPendingBlur(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	counts := &visibilityCounts{}
	vm := newTestMonitor(clock, counts)

	clock.Advance(5 * time.Second)
	vm.HandleEvent(platform.VisibilityEvent{Kind: platform.VisibilityBlurred, Timestamp: clock.Now()})

	vm.Stop()
	time.Sleep(100 * time.Millisecond)

	hiddens, _ := counts.snapshot()
	if hiddens != 0 {
		t.Errorf("onHidden fired %d times after Stop, want 0", hiddens)
	}
}
