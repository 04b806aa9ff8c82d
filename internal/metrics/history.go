package metrics

import (
	"sync"
	"time"
)

// DefaultMaxPoints bounds the rolling history.
const DefaultMaxPoints = 60

// Series names understood by History.Series.
const (
	SeriesCPU          = "cpu"
	SeriesMemory       = "memory"
	SeriesNetwork      = "network"
	SeriesFPS          = "fps"
	SeriesEventLoopLag = "eventLoopLag"
	SeriesPaintTiming  = "paintTiming"
	SeriesNavigation   = "navigationTiming"
)

// Point is one value in a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// History keeps the most recent snapshots for one tab. It is safe for
// concurrent use.
type History struct {
	mu        sync.RWMutex
	maxPoints int
	snapshots []*Snapshot
}

// NewHistory creates a history bounded to maxPoints snapshots.
func NewHistory(maxPoints int) *History {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &History{maxPoints: maxPoints}
}

// Add appends a snapshot, dropping the oldest when full.
func (h *History) Add(s *Snapshot) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, s)
	if over := len(h.snapshots) - h.maxPoints; over > 0 {
		copy(h.snapshots, h.snapshots[over:])
		for i := len(h.snapshots) - over; i < len(h.snapshots); i++ {
			h.snapshots[i] = nil
		}
		h.snapshots = h.snapshots[:h.maxPoints]
	}
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snapshots)
}

// Latest returns the newest snapshot, or nil.
func (h *History) Latest() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snapshots) == 0 {
		return nil
	}
	return h.snapshots[len(h.snapshots)-1]
}

// Snapshots returns a copy of the stored snapshots, oldest first.
func (h *History) Snapshots() []*Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Snapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

// Reset drops all history. Used on navigation.
func (h *History) Reset() {
	h.mu.Lock()
	h.snapshots = nil
	h.mu.Unlock()
}

// Series extracts one metric across history. Snapshots lacking the
// section are skipped. Unknown series yield nil.
func (h *History) Series(name string) []Point {
	extract := extractor(name)
	if extract == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Point
	for _, s := range h.snapshots {
		if v, ok := extract(s); ok {
			out = append(out, Point{Time: s.Time(), Value: v})
		}
	}
	return out
}

// Window returns the points of a series no older than d before the newest
// snapshot.
func (h *History) Window(name string, d time.Duration) []Point {
	pts := h.Series(name)
	if len(pts) == 0 {
		return nil
	}
	cutoff := pts[len(pts)-1].Time.Add(-d)
	for i, p := range pts {
		if !p.Time.Before(cutoff) {
			return pts[i:]
		}
	}
	return nil
}

// Average returns the mean of a series, 0 when empty.
func (h *History) Average(name string) float64 {
	pts := h.Series(name)
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(len(pts))
}

func extractor(name string) func(*Snapshot) (float64, bool) {
	switch name {
	case SeriesCPU:
		return func(s *Snapshot) (float64, bool) {
			if s.CPU == nil {
				return 0, false
			}
			return s.CPU.Usage, true
		}
	case SeriesMemory:
		return func(s *Snapshot) (float64, bool) {
			if s.Memory == nil {
				return 0, false
			}
			return s.Memory.UsedJSHeapSize, true
		}
	case SeriesNetwork:
		return func(s *Snapshot) (float64, bool) {
			if s.Network == nil {
				return 0, false
			}
			return float64(s.Network.Requests), true
		}
	case SeriesFPS:
		return func(s *Snapshot) (float64, bool) {
			if s.FPS == nil {
				return 0, false
			}
			return s.FPS.Value, true
		}
	case SeriesEventLoopLag:
		return func(s *Snapshot) (float64, bool) {
			if s.EventLoopLag == nil {
				return 0, false
			}
			return s.EventLoopLag.Lag, true
		}
	case SeriesPaintTiming:
		return func(s *Snapshot) (float64, bool) {
			if s.PaintTiming != nil {
				return s.PaintTiming.FCP, true
			}
			if s.FirstPaint != nil {
				return s.FirstPaint.FCP, true
			}
			return 0, false
		}
	case SeriesNavigation:
		return func(s *Snapshot) (float64, bool) {
			if s.NavigationTiming != nil {
				return s.NavigationTiming.LoadEventEnd, true
			}
			if s.PageLoad != nil {
				return s.PageLoad.WindowLoadTime, true
			}
			return 0, false
		}
	}
	return nil
}

// SeriesNames lists the supported series.
func SeriesNames() []string {
	return []string{
		SeriesCPU, SeriesMemory, SeriesNetwork, SeriesFPS,
		SeriesEventLoopLag, SeriesPaintTiming, SeriesNavigation,
	}
}
