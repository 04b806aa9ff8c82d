// Package metrics models page telemetry snapshots, keeps a rolling history
// of them and exports it.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/standardbeagle/perfdash/internal/debug"
)

// FPS is the frame-rate section.
type FPS struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// Memory is the JS heap section. Sizes are in MB.
type Memory struct {
	UsedJSHeapSize  float64 `json:"usedJSHeapSize"`
	TotalJSHeapSize float64 `json:"totalJSHeapSize"`
	JSHeapSizeLimit float64 `json:"jsHeapSizeLimit"`
	Timestamp       int64   `json:"timestamp"`
}

// Network summarizes request activity.
type Network struct {
	Requests    int     `json:"requests"`
	Transferred float64 `json:"transferred"`
	Timestamp   int64   `json:"timestamp"`
}

// CPU is an estimated usage percentage.
type CPU struct {
	Usage     float64 `json:"usage"`
	Timestamp int64   `json:"timestamp"`
}

// DOM counts document structure.
type DOM struct {
	Elements  int   `json:"elements"`
	Nodes     int   `json:"nodes"`
	Listeners int   `json:"listeners"`
	Timestamp int64 `json:"timestamp"`
}

// LayoutShifts tracks visual stability.
type LayoutShifts struct {
	CumulativeLayoutShift float64 `json:"cumulativeLayoutShift"`
	RecentShifts          int     `json:"recentShifts"`
	Timestamp             int64   `json:"timestamp"`
}

// ResourceTiming summarizes loaded resources.
type ResourceTiming struct {
	ResourceCount int     `json:"resourceCount"`
	TransferSize  float64 `json:"transferSize"`
	Timestamp     int64   `json:"timestamp"`
}

// FirstPaint holds paint milestones in ms since navigation start.
type FirstPaint struct {
	FP        float64 `json:"fp"`
	FCP       float64 `json:"fcp"`
	Timestamp int64   `json:"timestamp"`
}

// PageLoad holds load milestones in ms.
type PageLoad struct {
	DOMLoadTime    float64 `json:"domLoadTime"`
	WindowLoadTime float64 `json:"windowLoadTime"`
	Timestamp      int64   `json:"timestamp"`
}

// LongTasks describes the latest long task.
type LongTasks struct {
	Duration  float64 `json:"duration"`
	StartTime float64 `json:"startTime"`
	Name      string  `json:"name,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// APICall is one intercepted XHR or fetch call.
type APICall struct {
	Type      string  `json:"type"`
	Method    string  `json:"method"`
	URL       string  `json:"url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
	Status    int     `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// PageError is one captured error.
type PageError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// PageErrors counts captured errors.
type PageErrors struct {
	Count        int         `json:"count"`
	RecentErrors []PageError `json:"recentErrors,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}

// CacheUsage summarizes the Cache Storage API.
type CacheUsage struct {
	Size         float64 `json:"size"`
	Hits         int     `json:"hits"`
	Misses       int     `json:"misses"`
	TotalEntries int     `json:"totalEntries"`
	Timestamp    int64   `json:"timestamp"`
}

// HitRate returns hits/(hits+misses) as a percentage, 0 with no lookups.
func (c *CacheUsage) HitRate() float64 {
	if c == nil || c.Hits+c.Misses == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Hits+c.Misses) * 100
}

// WebVitals holds core web vitals.
type WebVitals struct {
	LCP       float64 `json:"lcp"`
	FID       float64 `json:"fid"`
	CLS       float64 `json:"cls"`
	Timestamp int64   `json:"timestamp"`
}

// ServerTimingMetric is one Server-Timing header entry.
type ServerTimingMetric struct {
	Name        string  `json:"name"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description,omitempty"`
}

// ServerTiming holds Server-Timing entries.
type ServerTiming struct {
	Metrics   []ServerTimingMetric `json:"metrics,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// WebSocketConnection is one socket opened by the page.
type WebSocketConnection struct {
	URL      string `json:"url"`
	State    string `json:"state,omitempty"`
	Messages int    `json:"messages"`
	Bytes    int64  `json:"bytes"`
}

// WebSocket summarizes the page's sockets.
type WebSocket struct {
	Connections []WebSocketConnection `json:"connections,omitempty"`
	Timestamp   int64                 `json:"timestamp"`
}

// Storage holds Web Storage sizes in bytes.
type Storage struct {
	LocalStorage   float64 `json:"localStorage"`
	SessionStorage float64 `json:"sessionStorage"`
	IndexedDB      float64 `json:"indexedDB"`
	Timestamp      int64   `json:"timestamp"`
}

// PerformanceMarks counts User Timing entries.
type PerformanceMarks struct {
	MarkCount    int   `json:"markCount"`
	MeasureCount int   `json:"measureCount"`
	Timestamp    int64 `json:"timestamp"`
}

// UserInteraction counts input events.
type UserInteraction struct {
	Clicks     int   `json:"clicks"`
	Scrolls    int   `json:"scrolls"`
	Keypresses int   `json:"keypresses"`
	Timestamp  int64 `json:"timestamp"`
}

// EventLoopLag is the measured main-thread lag in ms.
type EventLoopLag struct {
	Lag       float64 `json:"lag"`
	Timestamp int64   `json:"timestamp"`
}

// UnmarshalJSON accepts both "lag" and the older "value" key.
func (e *EventLoopLag) UnmarshalJSON(data []byte) error {
	var raw struct {
		Lag       *float64 `json:"lag"`
		Value     *float64 `json:"value"`
		Timestamp int64    `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Timestamp = raw.Timestamp
	switch {
	case raw.Lag != nil:
		e.Lag = *raw.Lag
	case raw.Value != nil:
		e.Lag = *raw.Value
	}
	return nil
}

// PaintTiming holds paint entries under either naming scheme.
type PaintTiming struct {
	FP        float64 `json:"fp"`
	FCP       float64 `json:"fcp"`
	Timestamp int64   `json:"timestamp"`
}

// UnmarshalJSON accepts fp/fcp and firstPaint/firstContentfulPaint.
func (p *PaintTiming) UnmarshalJSON(data []byte) error {
	var raw struct {
		FP                   *float64 `json:"fp"`
		FCP                  *float64 `json:"fcp"`
		FirstPaint           *float64 `json:"firstPaint"`
		FirstContentfulPaint *float64 `json:"firstContentfulPaint"`
		Timestamp            int64    `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Timestamp = raw.Timestamp
	p.FP = firstNonNil(raw.FP, raw.FirstPaint)
	p.FCP = firstNonNil(raw.FCP, raw.FirstContentfulPaint)
	return nil
}

func firstNonNil(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// NavigationTiming holds navigation milestones.
type NavigationTiming struct {
	DOMComplete  float64           `json:"domComplete"`
	LoadEventEnd float64           `json:"loadEventEnd"`
	Metrics      []json.RawMessage `json:"metrics,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}

// Snapshot is one consolidated metrics update. Every section is optional.
type Snapshot struct {
	Timestamp int64  `json:"timestamp,omitempty"`
	URL       string `json:"url,omitempty"`

	FPS                *FPS              `json:"fps,omitempty"`
	Memory             *Memory           `json:"memory,omitempty"`
	Network            *Network          `json:"network,omitempty"`
	CPU                *CPU              `json:"cpu,omitempty"`
	DOM                *DOM              `json:"dom,omitempty"`
	LayoutShifts       *LayoutShifts     `json:"layoutShifts,omitempty"`
	ResourceTiming     *ResourceTiming   `json:"resourceTiming,omitempty"`
	FirstPaint         *FirstPaint       `json:"firstPaint,omitempty"`
	PageLoad           *PageLoad         `json:"pageLoad,omitempty"`
	LongTasks          *LongTasks        `json:"longTasks,omitempty"`
	APIPerformance     []APICall         `json:"apiPerformance,omitempty"`
	PageErrors         *PageErrors       `json:"pageErrors,omitempty"`
	CacheUsage         *CacheUsage       `json:"cacheUsage,omitempty"`
	WebVitals          *WebVitals        `json:"webVitals,omitempty"`
	ServerTiming       *ServerTiming     `json:"serverTiming,omitempty"`
	WebSocket          *WebSocket        `json:"websocket,omitempty"`
	Storage            *Storage          `json:"storage,omitempty"`
	PerformanceMetrics *PerformanceMarks `json:"performanceMetrics,omitempty"`
	UserInteraction    *UserInteraction  `json:"userInteraction,omitempty"`
	EventLoopLag       *EventLoopLag     `json:"eventLoopLag,omitempty"`
	PaintTiming        *PaintTiming      `json:"paintTiming,omitempty"`
	NavigationTiming   *NavigationTiming `json:"navigationTiming,omitempty"`
}

// DecodeSnapshot decodes the data payload of a metrics-update. Each section
// is decoded on its own: unknown sections are ignored, and a malformed
// section is logged and left nil without rejecting the rest. When the
// snapshot carries no top-level timestamp, the newest section timestamp is
// used, then now.
func DecodeSnapshot(data []byte, now time.Time) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty payload")
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	var s Snapshot
	for name, raw := range sections {
		decode, ok := sectionDecoders[name]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := decode(&s, raw); err != nil {
			debug.Warn("metrics", "skipping malformed %s section: %v", name, err)
		}
	}

	if s.Timestamp == 0 {
		s.Timestamp = s.newestSectionTimestamp()
	}
	if s.Timestamp == 0 {
		s.Timestamp = now.UnixMilli()
	}
	return &s, nil
}

// decodeSection sets *dst only when raw decodes cleanly.
func decodeSection[T any](raw json.RawMessage, dst **T) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

var sectionDecoders = map[string]func(*Snapshot, json.RawMessage) error{
	"timestamp": func(s *Snapshot, raw json.RawMessage) error {
		var ts int64
		if err := json.Unmarshal(raw, &ts); err != nil {
			return err
		}
		s.Timestamp = ts
		return nil
	},
	"url": func(s *Snapshot, raw json.RawMessage) error {
		var u string
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		s.URL = u
		return nil
	},
	"fps":            func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.FPS) },
	"memory":         func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.Memory) },
	"network":        func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.Network) },
	"cpu":            func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.CPU) },
	"dom":            func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.DOM) },
	"layoutShifts":   func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.LayoutShifts) },
	"resourceTiming": func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.ResourceTiming) },
	"firstPaint":     func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.FirstPaint) },
	"pageLoad":       func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.PageLoad) },
	"longTasks":      func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.LongTasks) },
	"apiPerformance": func(s *Snapshot, raw json.RawMessage) error {
		var calls []APICall
		if err := json.Unmarshal(raw, &calls); err != nil {
			return err
		}
		s.APIPerformance = calls
		return nil
	},
	"pageErrors":         func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.PageErrors) },
	"cacheUsage":         func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.CacheUsage) },
	"webVitals":          func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.WebVitals) },
	"serverTiming":       func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.ServerTiming) },
	"websocket":          func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.WebSocket) },
	"storage":            func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.Storage) },
	"performanceMetrics": func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.PerformanceMetrics) },
	"userInteraction":    func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.UserInteraction) },
	"eventLoopLag":       func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.EventLoopLag) },
	"paintTiming":        func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.PaintTiming) },
	"navigationTiming":   func(s *Snapshot, raw json.RawMessage) error { return decodeSection(raw, &s.NavigationTiming) },
}

func (s *Snapshot) newestSectionTimestamp() int64 {
	var newest int64
	for _, ts := range []int64{
		s.FPS.ts(), s.Memory.ts(), s.Network.ts(), s.CPU.ts(), s.DOM.ts(),
	} {
		if ts > newest {
			newest = ts
		}
	}
	return newest
}

func (f *FPS) ts() int64 {
	if f == nil {
		return 0
	}
	return f.Timestamp
}

func (m *Memory) ts() int64 {
	if m == nil {
		return 0
	}
	return m.Timestamp
}

func (n *Network) ts() int64 {
	if n == nil {
		return 0
	}
	return n.Timestamp
}

func (c *CPU) ts() int64 {
	if c == nil {
		return 0
	}
	return c.Timestamp
}

func (d *DOM) ts() int64 {
	if d == nil {
		return 0
	}
	return d.Timestamp
}

// Time returns the snapshot timestamp.
func (s *Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Sections returns the JSON names of the sections present.
func (s *Snapshot) Sections() []string {
	var out []string
	add := func(present bool, name string) {
		if present {
			out = append(out, name)
		}
	}
	add(s.FPS != nil, "fps")
	add(s.Memory != nil, "memory")
	add(s.Network != nil, "network")
	add(s.CPU != nil, "cpu")
	add(s.DOM != nil, "dom")
	add(s.LayoutShifts != nil, "layoutShifts")
	add(s.ResourceTiming != nil, "resourceTiming")
	add(s.FirstPaint != nil, "firstPaint")
	add(s.PageLoad != nil, "pageLoad")
	add(s.LongTasks != nil, "longTasks")
	add(s.APIPerformance != nil, "apiPerformance")
	add(s.PageErrors != nil, "pageErrors")
	add(s.CacheUsage != nil, "cacheUsage")
	add(s.WebVitals != nil, "webVitals")
	add(s.ServerTiming != nil, "serverTiming")
	add(s.WebSocket != nil, "websocket")
	add(s.Storage != nil, "storage")
	add(s.PerformanceMetrics != nil, "performanceMetrics")
	add(s.UserInteraction != nil, "userInteraction")
	add(s.EventLoopLag != nil, "eventLoopLag")
	add(s.PaintTiming != nil, "paintTiming")
	add(s.NavigationTiming != nil, "navigationTiming")
	return out
}

// The accessors below return zero placeholders for absent sections so
// callers never nil-check.

func (s *Snapshot) FPSOrZero() FPS {
	if s == nil || s.FPS == nil {
		return FPS{}
	}
	return *s.FPS
}

func (s *Snapshot) MemoryOrZero() Memory {
	if s == nil || s.Memory == nil {
		return Memory{}
	}
	return *s.Memory
}

func (s *Snapshot) NetworkOrZero() Network {
	if s == nil || s.Network == nil {
		return Network{}
	}
	return *s.Network
}

func (s *Snapshot) CPUOrZero() CPU {
	if s == nil || s.CPU == nil {
		return CPU{}
	}
	return *s.CPU
}

func (s *Snapshot) DOMOrZero() DOM {
	if s == nil || s.DOM == nil {
		return DOM{}
	}
	return *s.DOM
}

func (s *Snapshot) WebVitalsOrZero() WebVitals {
	if s == nil || s.WebVitals == nil {
		return WebVitals{}
	}
	return *s.WebVitals
}

func (s *Snapshot) StorageOrZero() Storage {
	if s == nil || s.Storage == nil {
		return Storage{}
	}
	return *s.Storage
}

func (s *Snapshot) WebSocketOrZero() WebSocket {
	if s == nil || s.WebSocket == nil {
		return WebSocket{}
	}
	return *s.WebSocket
}

// MessagesAndBytes totals WebSocket traffic across connections.
func (w WebSocket) MessagesAndBytes() (messages int, bytes int64) {
	for _, c := range w.Connections {
		messages += c.Messages
		bytes += c.Bytes
	}
	return messages, bytes
}

// AverageAPIDuration returns the mean duration of the recorded API calls.
func (s *Snapshot) AverageAPIDuration() float64 {
	if s == nil || len(s.APIPerformance) == 0 {
		return 0
	}
	var sum float64
	for _, c := range s.APIPerformance {
		sum += c.Duration
	}
	return sum / float64(len(s.APIPerformance))
}

// AverageServerTiming returns the mean Server-Timing duration.
func (s *Snapshot) AverageServerTiming() float64 {
	if s == nil || s.ServerTiming == nil || len(s.ServerTiming.Metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range s.ServerTiming.Metrics {
		sum += m.Duration
	}
	return sum / float64(len(s.ServerTiming.Metrics))
}
