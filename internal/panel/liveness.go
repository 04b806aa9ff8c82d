// Package panel tracks whether each dashboard panel is receiving fresh data.
package panel

import (
	"time"
)

// State is the liveness state of a panel.
type State int

const (
	// StateUninitialized is the initial state: no data yet, timer running.
	StateUninitialized State = iota
	// StateActive means data arrived within the timeout.
	StateActive
	// StateNoData means the timeout elapsed without an update.
	StateNoData
	// StateStopped is terminal; the panel was unmounted.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateNoData:
		return "no-data"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition computes the next state.
//
// updated reports whether an update just occurred; sinceUpdate is the time
// since the last update (or since creation if there was none). A panel only
// goes to NoData when sinceUpdate is strictly greater than timeout and checks
// are enabled. Stopped never changes.
func Transition(cur State, sinceUpdate time.Duration, updated bool, timeout time.Duration, checkEnabled bool) State {
	if cur == StateStopped {
		return StateStopped
	}
	if updated {
		return StateActive
	}
	if checkEnabled && sinceUpdate > timeout {
		return StateNoData
	}
	return cur
}

// Liveness is the per-panel record. It is not safe for concurrent use;
// Tracker adds locking and the periodic check.
type Liveness struct {
	state           State
	created         time.Time
	lastUpdate      time.Time
	hasReceivedData bool
	timeout         time.Duration
	checkEnabled    bool
}

// NewLiveness creates a record whose timeout clock starts at now.
func NewLiveness(now time.Time, timeout time.Duration, checkEnabled bool) *Liveness {
	return &Liveness{
		state:        StateUninitialized,
		created:      now,
		lastUpdate:   now,
		timeout:      timeout,
		checkEnabled: checkEnabled,
	}
}

// RecordUpdate marks data as received at now.
func (l *Liveness) RecordUpdate(now time.Time) State {
	if l.state == StateStopped {
		return l.state
	}
	l.lastUpdate = now
	l.hasReceivedData = true
	l.state = Transition(l.state, 0, true, l.timeout, l.checkEnabled)
	return l.state
}

// Check evaluates the timeout at now.
func (l *Liveness) Check(now time.Time) State {
	l.state = Transition(l.state, now.Sub(l.lastUpdate), false, l.timeout, l.checkEnabled)
	return l.state
}

// Stop moves the record to the terminal state.
func (l *Liveness) Stop() {
	l.state = StateStopped
}

// Reset returns the record to Uninitialized with the clock restarted at now.
// Used when the inspected page navigates.
func (l *Liveness) Reset(now time.Time) {
	if l.state == StateStopped {
		return
	}
	l.state = StateUninitialized
	l.created = now
	l.lastUpdate = now
	l.hasReceivedData = false
}

// State returns the current state.
func (l *Liveness) State() State { return l.state }

// LastUpdate returns the last update time, or creation time if none.
func (l *Liveness) LastUpdate() time.Time { return l.lastUpdate }

// HasReceivedData reports whether any update was recorded.
func (l *Liveness) HasReceivedData() bool { return l.hasReceivedData }

// Disabled reports whether the panel should render its "no data" look.
// Panels start disabled until their first update.
func (l *Liveness) Disabled() bool {
	return l.state != StateActive
}
