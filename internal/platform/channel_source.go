package platform

import "sync"

// ChannelSource is a Source fed programmatically by the hosting UI
// layer (or by tests). Events pushed after Stop are dropped.
type ChannelSource struct {
	inputCb      func(InputEvent)
	visibilityCb func(VisibilityEvent)
	mu           sync.RWMutex
}

// NewChannelSource creates a new programmatic event source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{}
}

// StartInputMonitoring registers the input callback.
func (cs *ChannelSource) StartInputMonitoring(callback func(InputEvent)) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.inputCb = callback
	return nil
}

// StartVisibilityMonitoring registers the visibility callback.
func (cs *ChannelSource) StartVisibilityMonitoring(callback func(VisibilityEvent)) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.visibilityCb = callback
	return nil
}

// Stop deregisters both callbacks. Subsequent pushes are dropped.
func (cs *ChannelSource) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.inputCb = nil
	cs.visibilityCb = nil
	return nil
}

// PushInput delivers an input event to the registered callback.
func (cs *ChannelSource) PushInput(event InputEvent) {
	cs.mu.RLock()
	cb := cs.inputCb
	cs.mu.RUnlock()

	if cb != nil {
		cb(event)
	}
}

// PushVisibility delivers a visibility event to the registered callback.
func (cs *ChannelSource) PushVisibility(event VisibilityEvent) {
	cs.mu.RLock()
	cb := cs.visibilityCb
	cs.mu.RUnlock()

	if cb != nil {
		cb(event)
	}
}
