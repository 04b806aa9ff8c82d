package panel

import (
	"sort"
	"sync"
	"time"
)

// Definition describes one dashboard panel and the snapshot section it shows.
type Definition struct {
	Name    string
	Section string
	Title   string
}

// Catalog lists every panel the dashboard mounts, in display order.
var Catalog = []Definition{
	{Name: "fps", Section: "fps", Title: "FPS"},
	{Name: "memory", Section: "memory", Title: "Memory"},
	{Name: "network", Section: "network", Title: "Network"},
	{Name: "cpu", Section: "cpu", Title: "CPU"},
	{Name: "dom", Section: "dom", Title: "DOM"},
	{Name: "jsHeap", Section: "memory", Title: "JS Heap"},
	{Name: "layoutShifts", Section: "layoutShifts", Title: "Layout Shifts"},
	{Name: "resourceTiming", Section: "resourceTiming", Title: "Resource Timing"},
	{Name: "firstPaint", Section: "firstPaint", Title: "First Paint"},
	{Name: "pageLoad", Section: "pageLoad", Title: "Page Load"},
	{Name: "longTasks", Section: "longTasks", Title: "Long Tasks"},
	{Name: "userInteraction", Section: "userInteraction", Title: "User Interaction"},
	{Name: "webVitals", Section: "webVitals", Title: "Web Vitals"},
	{Name: "performanceMetrics", Section: "performanceMetrics", Title: "Performance Marks"},
	{Name: "storage", Section: "storage", Title: "Storage"},
	{Name: "cacheUsage", Section: "cacheUsage", Title: "Cache"},
	{Name: "pageErrors", Section: "pageErrors", Title: "Page Errors"},
	{Name: "serverTiming", Section: "serverTiming", Title: "Server Timing"},
	{Name: "websocket", Section: "websocket", Title: "WebSocket"},
	{Name: "apiPerformance", Section: "apiPerformance", Title: "API Performance"},
	{Name: "eventLoopLag", Section: "eventLoopLag", Title: "Event Loop Lag"},
	{Name: "paintTiming", Section: "paintTiming", Title: "Paint Timing"},
	{Name: "navigationTiming", Section: "navigationTiming", Title: "Navigation Timing"},
}

// DefaultPolicies returns the built-in per-panel overrides. Bursty panels
// get a longer timeout so they don't flicker between bursts.
func DefaultPolicies() map[string]Policy {
	bursty := Policy{Timeout: 60 * time.Second, CheckInterval: 5 * time.Second}
	return map[string]Policy{
		"websocket":      bursty,
		"pageErrors":     bursty,
		"apiPerformance": bursty,
	}
}

// BoardConfig configures a Board.
type BoardConfig struct {
	// Panels to mount. Default: Catalog
	Panels []Definition

	// Default applies to panels without an override.
	Default Policy

	// Overrides by panel name. Merged over DefaultPolicies.
	Overrides map[string]Policy

	Now           func() time.Time
	OnStateChange func(name string, from, to State)
}

// Board mounts one Tracker per panel.
type Board struct {
	mu       sync.RWMutex
	defs     []Definition
	trackers map[string]*Tracker
	stopped  bool
}

// NewBoard mounts every configured panel.
func NewBoard(cfg BoardConfig) *Board {
	defs := cfg.Panels
	if len(defs) == 0 {
		defs = Catalog
	}

	policies := DefaultPolicies()
	for name, p := range cfg.Overrides {
		policies[name] = p
	}

	b := &Board{
		defs:     defs,
		trackers: make(map[string]*Tracker, len(defs)),
	}
	for _, def := range defs {
		policy := cfg.Default
		if p, ok := policies[def.Name]; ok {
			policy = p
		}
		b.trackers[def.Name] = NewTracker(TrackerConfig{
			Name:          def.Name,
			Policy:        policy,
			Now:           cfg.Now,
			OnStateChange: cfg.OnStateChange,
		})
	}
	return b
}

// Observe records an update on every panel whose section is present.
func (b *Board) Observe(sections []string) {
	present := make(map[string]bool, len(sections))
	for _, s := range sections {
		present[s] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}
	for _, def := range b.defs {
		if present[def.Section] {
			b.trackers[def.Name].RecordUpdate()
		}
	}
}

// Tracker returns the tracker for a panel.
func (b *Board) Tracker(name string) (*Tracker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.trackers[name]
	return t, ok
}

// Statuses returns every panel's status in display order.
func (b *Board) Statuses() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Status, 0, len(b.defs))
	for _, def := range b.defs {
		out = append(out, b.trackers[def.Name].Snapshot())
	}
	return out
}

// Definitions returns the mounted panels in display order.
func (b *Board) Definitions() []Definition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Definition, len(b.defs))
	copy(out, b.defs)
	return out
}

// Counts returns how many panels are in each state.
func (b *Board) Counts() map[State]int {
	counts := make(map[State]int)
	for _, st := range b.Statuses() {
		counts[st.State]++
	}
	return counts
}

// Names returns mounted panel names sorted alphabetically.
func (b *Board) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.trackers))
	for name := range b.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset restarts every panel, used after the inspected page navigates.
// State-change callbacks run without the board lock held.
func (b *Board) Reset() {
	b.mu.RLock()
	trackers := make([]*Tracker, 0, len(b.defs))
	for _, def := range b.defs {
		trackers = append(trackers, b.trackers[def.Name])
	}
	b.mu.RUnlock()

	for _, t := range trackers {
		t.Reset()
	}
}

// Stop unmounts every panel.
func (b *Board) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	trackers := make([]*Tracker, 0, len(b.trackers))
	for _, t := range b.trackers {
		trackers = append(trackers, t)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range trackers {
		wg.Add(1)
		go func(t *Tracker) {
			defer wg.Done()
			t.Stop()
		}(t)
	}
	wg.Wait()
}
