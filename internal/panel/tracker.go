package panel

import (
	"sync"
	"time"

	"github.com/standardbeagle/perfdash/internal/debug"
)

// Policy configures how a panel decides it has gone stale.
type Policy struct {
	// Timeout is how long without an update before the panel shows no data.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval is how often the timeout is evaluated. It is clamped to
	// at most Timeout/2.
	// Default: 2 seconds
	CheckInterval time.Duration

	// CheckDisabled keeps the panel from ever flipping to no data. Meant for
	// panels whose data arrives in rare bursts.
	CheckDisabled bool
}

// DefaultPolicy returns the policy used by most panels.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:       15 * time.Second,
		CheckInterval: 2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 15 * time.Second
	}
	if p.CheckInterval <= 0 {
		p.CheckInterval = 2 * time.Second
	}
	if p.CheckInterval > p.Timeout/2 {
		p.CheckInterval = max(p.Timeout/2, 1)
	}
	return p
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Name   string
	Policy Policy

	// Now is the clock. Default: time.Now
	Now func() time.Time

	// OnStateChange is called after every state change, outside the lock.
	OnStateChange func(name string, from, to State)
}

// Tracker wraps a Liveness with locking and a periodic check goroutine.
type Tracker struct {
	name          string
	policy        Policy
	now           func() time.Time
	onStateChange func(name string, from, to State)

	mu       sync.Mutex
	liveness *Liveness

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates a tracker and starts its check goroutine.
func NewTracker(cfg TrackerConfig) *Tracker {
	policy := cfg.Policy.withDefaults()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	t := &Tracker{
		name:          cfg.Name,
		policy:        policy,
		now:           now,
		onStateChange: cfg.OnStateChange,
		liveness:      NewLiveness(now(), policy.Timeout, !policy.CheckDisabled),
		stopCh:        make(chan struct{}),
	}

	t.wg.Add(1)
	go t.checkLoop()

	debug.Log("panel", "%s mounted (timeout %s, check every %s, check disabled %v)",
		t.name, policy.Timeout, policy.CheckInterval, policy.CheckDisabled)
	return t
}

// Name returns the panel name.
func (t *Tracker) Name() string { return t.name }

// Policy returns the effective policy.
func (t *Tracker) Policy() Policy { return t.policy }

// RecordUpdate marks the panel as having fresh data.
func (t *Tracker) RecordUpdate() State {
	t.mu.Lock()
	from := t.liveness.State()
	to := t.liveness.RecordUpdate(t.now())
	t.mu.Unlock()

	t.notify(from, to)
	return to
}

// Check evaluates the timeout immediately.
func (t *Tracker) Check() State {
	t.mu.Lock()
	from := t.liveness.State()
	to := t.liveness.Check(t.now())
	t.mu.Unlock()

	if from != to && to == StateNoData {
		debug.Log("panel", "%s timed out after %s", t.name, t.policy.Timeout)
	}
	t.notify(from, to)
	return to
}

// Reset restarts the panel as if it had just mounted.
func (t *Tracker) Reset() {
	t.mu.Lock()
	from := t.liveness.State()
	t.liveness.Reset(t.now())
	to := t.liveness.State()
	t.mu.Unlock()

	t.notify(from, to)
}

func (t *Tracker) notify(from, to State) {
	if from != to && t.onStateChange != nil {
		t.onStateChange(t.name, from, to)
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveness.State()
}

// Disabled reports whether the panel should render as no data.
func (t *Tracker) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveness.Disabled()
}

// Snapshot returns a copy of the tracker's visible state.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Name:            t.name,
		State:           t.liveness.State(),
		LastUpdate:      t.liveness.LastUpdate(),
		HasReceivedData: t.liveness.HasReceivedData(),
		Disabled:        t.liveness.Disabled(),
		Timeout:         t.policy.Timeout,
	}
}

// checkLoop periodically checks whether the panel has gone stale.
func (t *Tracker) checkLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.policy.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.Check()
		}
	}
}

// Stop cancels the periodic check. No further transitions occur.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()

	t.mu.Lock()
	from := t.liveness.State()
	t.liveness.Stop()
	t.mu.Unlock()

	t.notify(from, StateStopped)
}

// Status is a point-in-time view of a panel.
type Status struct {
	Name            string        `json:"name"`
	State           State         `json:"state"`
	LastUpdate      time.Time     `json:"last_update"`
	HasReceivedData bool          `json:"has_received_data"`
	Disabled        bool          `json:"disabled"`
	Timeout         time.Duration `json:"timeout"`
}
