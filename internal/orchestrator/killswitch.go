package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// KillSwitch is the process-wide emergency stop. Active is a single atomic
// load so every lane sees a Set before its next stage-1 check.
type KillSwitch struct {
	active atomic.Bool

	mu     sync.Mutex
	reason string
	since  time.Time
}

// KillSwitchState is a point-in-time view of the switch.
type KillSwitchState struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Active reports whether new pipeline entries are halted.
func (k *KillSwitch) Active() bool {
	return k.active.Load()
}

// Set engages the switch. It returns false if it was already engaged.
func (k *KillSwitch) Set(reason string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.active.CompareAndSwap(false, true) {
		return false
	}
	k.reason = reason
	k.since = time.Now()
	return true
}

// Clear releases the switch. It returns false if it was not engaged.
func (k *KillSwitch) Clear() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.active.CompareAndSwap(true, false) {
		return false
	}
	k.reason = ""
	k.since = time.Time{}
	return true
}

// State returns the current state.
func (k *KillSwitch) State() KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return KillSwitchState{Active: k.active.Load(), Reason: k.reason, Since: k.since}
}
