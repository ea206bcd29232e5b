package hub

import (
	"fmt"
	"sync"
)

// The process-wide default hub. Components should receive the *Hub
// handle explicitly at construction; this accessor exists only for
// call sites where threading the handle through is impractical.
var (
	defaultMu  sync.RWMutex
	defaultHub *Hub
)

// SetDefault installs the process-wide hub handle. Calling it a second
// time is a wiring bug and fails fast instead of silently replacing
// the hub other components already hold.
func SetDefault(h *Hub) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultHub != nil {
		return fmt.Errorf("hub: default already set")
	}
	defaultHub = h
	return nil
}

// Default returns the process-wide hub, or ErrNotInitialized if
// SetDefault has not been called yet.
func Default() (*Hub, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()

	if defaultHub == nil {
		return nil, ErrNotInitialized
	}
	return defaultHub, nil
}
