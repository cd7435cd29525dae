package platform

import "time"

// InputKind classifies a qualifying input event.
type InputKind string

const (
	InputPointerMove InputKind = "pointer_move"
	InputPointerDown InputKind = "pointer_down"
	InputKeyDown     InputKind = "key_down"
	InputScroll      InputKind = "scroll"
	InputTouchStart  InputKind = "touch_start"
	InputWheel       InputKind = "wheel"
)

// InputEvent represents a single user input observed by the host.
type InputEvent struct {
	Kind      InputKind
	Timestamp time.Time
}

// VisibilityKind classifies a window/tab visibility change.
type VisibilityKind string

const (
	VisibilityVisible VisibilityKind = "visible"
	VisibilityHidden  VisibilityKind = "hidden"
	VisibilityFocused VisibilityKind = "focused"
	VisibilityBlurred VisibilityKind = "blurred"
)

// VisibilityEvent represents a document-visibility or window-focus
// change observed by the host.
type VisibilityEvent struct {
	Kind      VisibilityKind
	Timestamp time.Time
}

// Source delivers input and visibility events from the hosting
// environment. Callbacks run on the source's delivery goroutine; a
// source stops delivering after Stop returns.
type Source interface {
	// StartInputMonitoring begins delivering input events to the callback.
	StartInputMonitoring(callback func(InputEvent)) error

	// StartVisibilityMonitoring begins delivering visibility events to
	// the callback.
	StartVisibilityMonitoring(callback func(VisibilityEvent)) error

	// Stop stops all delivery and releases resources.
	Stop() error
}
