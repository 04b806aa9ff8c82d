// Package assistant answers plain-language questions about the metrics of
// a watched tab. Questions are matched against an ordered list of patterns;
// unmatched questions can go to an optional LLM fallback.
package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/metrics"
)

// Response types.
const (
	TypeMetrics     = "metrics"
	TypeMessage     = "message"
	TypeDefault     = "default"
	TypeSuggestions = "suggestions"
)

const (
	msgDefault      = "Click the help button to see available options."
	msgHelp         = "I can help you monitor these metrics. Choose a category:"
	msgNoMatch      = "I'm not sure how to answer that. Click the help button to see what I can help with."
	msgCollecting   = "I'm still collecting metrics data. Please try again in a few seconds."
	msgNotAvailable = "I don't have enough data to answer that question right now."
)

// Response is one assistant answer.
type Response struct {
	Type        string   `json:"type"`
	MetricType  string   `json:"metricType,omitempty"`
	Message     string   `json:"message"`
	Data        any      `json:"data,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	FollowUps   []string `json:"followUps,omitempty"`
	IsHelp      bool     `json:"isHelp,omitempty"`
}

// Source provides the metrics the assistant reads. *metrics.History
// satisfies it.
type Source interface {
	Latest() *metrics.Snapshot
	Series(name string) []metrics.Point
	Average(name string) float64
}

// Fallback answers questions no pattern matched.
type Fallback interface {
	Answer(ctx context.Context, question string, latest *metrics.Snapshot) (string, error)
}

type handler func(s *metrics.Snapshot, src Source) Response

type pattern struct {
	re      *regexp.Regexp
	handler handler
}

// Assistant answers questions over a Source.
type Assistant struct {
	src      Source
	fallback Fallback
	patterns []pattern
}

// New creates an assistant. fallback may be nil.
func New(src Source, fallback Fallback) *Assistant {
	return &Assistant{
		src:      src,
		fallback: fallback,
		patterns: defaultPatterns(),
	}
}

// Order matters: the first matching pattern answers.
func defaultPatterns() []pattern {
	return []pattern{
		{regexp.MustCompile(`server.?timing`), serverTiming},
		{regexp.MustCompile(`\bapi\b|xhr|fetch calls?`), apiPerformance},
		{regexp.MustCompile(`websocket|web socket`), webSocket},
		{regexp.MustCompile(`errors?\b|exceptions?`), pageErrors},
		{regexp.MustCompile(`long tasks?|blocking`), longTasks},
		{regexp.MustCompile(`storage|indexeddb|localstorage|sessionstorage`), storage},
		{regexp.MustCompile(`cpu|processor|processing|show.*cpu`), cpu},
		{regexp.MustCompile(`memory|ram|heap|allocated|show.*memory|memory consumption`), memory},
		{regexp.MustCompile(`fps|frame|show.*fps|frames per second|animation`), fps},
		{regexp.MustCompile(`network|show.*network|requests|traffic|bandwidth|data transfer`), network},
		{regexp.MustCompile(`vitals|show.*vitals|show.*web vitals|core vitals|performance score`), webVitals},
		{regexp.MustCompile(`dom|show.*dom|elements|nodes|document`), dom},
		{regexp.MustCompile(`heap|show.*heap|javascript memory|heap size`), jsHeap},
		{regexp.MustCompile(`layout|show.*layout|cls|visual stability`), layoutShifts},
		{regexp.MustCompile(`resource|timing|resources loaded|resource timing`), resourceTiming},
		{regexp.MustCompile(`paint|first paint|fcp|loading visual|paint timing`), paintTiming},
		{regexp.MustCompile(`page load|show.*page|loading time|dom load`), pageLoad},
		{regexp.MustCompile(`interactions|user actions|clicks|scrolls|user interactions`), userInteractions},
		{regexp.MustCompile(`marks|performance marks|timing marks|performance metrics|measures`), performanceMarks},
		{regexp.MustCompile(`cache|cached|browser cache`), cache},
	}
}

// Ask answers question. It never fails: missing data and fallback errors
// become plain messages.
func (a *Assistant) Ask(ctx context.Context, question string) Response {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return Response{Type: TypeDefault, Message: msgDefault}
	}

	latest := a.src.Latest()
	if latest == nil {
		return Response{Type: TypeMessage, Message: msgCollecting}
	}

	for _, p := range a.patterns {
		if !p.re.MatchString(q) {
			continue
		}
		resp := p.handler(latest, a.src)
		if resp.Message == "" {
			return Response{Type: TypeMessage, Message: msgNotAvailable}
		}
		if resp.Type == TypeMetrics {
			resp.FollowUps = followUps[resp.MetricType]
		}
		return resp
	}

	if a.fallback != nil {
		answer, err := a.fallback.Answer(ctx, question, latest)
		if err == nil && strings.TrimSpace(answer) != "" {
			return Response{Type: TypeMessage, Message: answer}
		}
		if err != nil {
			debug.Warn("assistant", "fallback failed: %v", err)
		}
	}
	return Response{Type: TypeMessage, Message: msgNoMatch}
}

// Help lists one suggested question per panel.
func (a *Assistant) Help() Response {
	return Response{
		Type:        TypeSuggestions,
		Message:     msgHelp,
		Suggestions: DefaultQuestions(),
		IsHelp:      true,
	}
}

// DefaultQuestions returns one suggested question per panel.
func DefaultQuestions() []string {
	return []string{
		"What's my current FPS?",
		"Show memory consumption",
		"Show network statistics",
		"What's the CPU usage?",
		"How many DOM elements?",
		"Show JS heap usage",
		"Any layout shifts detected?",
		"Show resource timing",
		"When was first paint?",
		"Show page load times",
		"Any long tasks detected?",
		"Show user interactions",
		"Show web vitals metrics",
		"Show performance metrics",
		"Show storage usage",
		"Show cache usage",
		"Any page errors?",
		"Show server timing",
		"Check websocket status",
		"Show API performance",
	}
}

var followUps = map[string][]string{
	"cpu":              {"Compare with last hour", "Is this CPU usage normal?", "What's causing high CPU?"},
	"memory":           {"Check for memory leaks", "Show memory timeline", "What's using most memory?"},
	"network":          {"Show failed requests", "Bandwidth usage trend", "Largest transfers"},
	"webVitals":        {"Compare to industry standards", "How to improve these metrics?", "Show detailed breakdown"},
	"resourceTiming":   {"Show slowest resources", "Check resource load times", "Which resources are cached?"},
	"paintTiming":      {"Compare paint metrics", "Show paint timeline", "First paint analysis"},
	"userInteractions": {"Show interaction delays", "Most common interactions", "Interaction patterns"},
	"performanceMarks": {"Show all marks", "Custom mark analysis", "Timing breakdown"},
	"cache":            {"Cache hit ratio", "Cache size details", "Cached resources"},
}

func unavailable(what string) Response {
	return Response{Type: TypeMessage, Message: what + " data is not available yet. Still collecting data..."}
}

func metricsResponse(metricType, message string, data any) Response {
	return Response{Type: TypeMetrics, MetricType: metricType, Message: message, Data: data}
}

func bytesf(v float64) string {
	if v < 0 {
		v = 0
	}
	return humanize.IBytes(uint64(v))
}

func cpu(s *metrics.Snapshot, src Source) Response {
	if s.CPU == nil {
		return unavailable("CPU usage")
	}
	history := src.Series(metrics.SeriesCPU)
	if len(history) == 0 {
		return Response{Type: TypeMessage, Message: fmt.Sprintf(
			"Current CPU usage: %.1f%%\nNot enough historical data yet for average.", s.CPU.Usage)}
	}
	avg := src.Average(metrics.SeriesCPU)
	return metricsResponse("cpu", fmt.Sprintf(
		"CPU Metrics:\n• Current Usage: %.1f%%\n• Average Usage: %.1f%%\n• Samples: %d",
		s.CPU.Usage, avg, len(history)),
		map[string]any{"current": s.CPU.Usage, "average": avg, "samples": len(history), "history": history})
}

func memory(s *metrics.Snapshot, _ Source) Response {
	if s.Memory == nil {
		return unavailable("Memory usage")
	}
	return metricsResponse("memory", fmt.Sprintf(
		"Memory usage: %.1f MB used out of %.1f MB.", s.Memory.UsedJSHeapSize, s.Memory.TotalJSHeapSize),
		map[string]float64{"used": s.Memory.UsedJSHeapSize, "total": s.Memory.TotalJSHeapSize})
}

func jsHeap(s *metrics.Snapshot, _ Source) Response {
	if s.Memory == nil {
		return unavailable("JS heap")
	}
	m := s.Memory
	return metricsResponse("jsHeap", fmt.Sprintf(
		"JS Heap Usage:\n• Used: %.1f MB\n• Total: %.1f MB\n• Limit: %.1f MB",
		m.UsedJSHeapSize, m.TotalJSHeapSize, m.JSHeapSizeLimit),
		map[string]float64{"used": m.UsedJSHeapSize, "total": m.TotalJSHeapSize, "limit": m.JSHeapSizeLimit})
}

func fps(s *metrics.Snapshot, src Source) Response {
	if s.FPS == nil {
		return unavailable("FPS")
	}
	avg := src.Average(metrics.SeriesFPS)
	return metricsResponse("fps", fmt.Sprintf("Current FPS: %.1f\nAverage FPS: %.1f", s.FPS.Value, avg),
		map[string]float64{"current": s.FPS.Value, "average": avg})
}

func network(s *metrics.Snapshot, src Source) Response {
	if s.Network == nil {
		return unavailable("Network")
	}
	avg := src.Average(metrics.SeriesNetwork)
	return metricsResponse("network", fmt.Sprintf(
		"Active Requests: %d\nData Transferred: %s\nAvg Requests: %.1f",
		s.Network.Requests, bytesf(s.Network.Transferred), avg),
		map[string]any{"requests": s.Network.Requests, "transferred": s.Network.Transferred, "averageRequests": avg})
}

func webVitals(s *metrics.Snapshot, _ Source) Response {
	if s.WebVitals == nil {
		return unavailable("Web Vitals")
	}
	v := s.WebVitals
	return metricsResponse("webVitals", fmt.Sprintf(
		"Web Vitals:\n- LCP: %gms\n- FID: %gms\n- CLS: %g", v.LCP, v.FID, v.CLS), v)
}

func dom(s *metrics.Snapshot, _ Source) Response {
	if s.DOM == nil {
		return unavailable("DOM metrics")
	}
	d := s.DOM
	return metricsResponse("dom", fmt.Sprintf(
		"DOM Metrics:\n• Total Elements: %d\n• Total Nodes: %d\n• Event Listeners: %d",
		d.Elements, d.Nodes, d.Listeners), d)
}

func layoutShifts(s *metrics.Snapshot, _ Source) Response {
	if s.LayoutShifts == nil {
		return unavailable("Layout shifts")
	}
	l := s.LayoutShifts
	return metricsResponse("layoutShifts", fmt.Sprintf(
		"Layout Stability:\n• CLS Score: %g\n• Recent Shifts: %d", l.CumulativeLayoutShift, l.RecentShifts), l)
}

func resourceTiming(s *metrics.Snapshot, _ Source) Response {
	if s.ResourceTiming == nil {
		return unavailable("Resource timing")
	}
	r := s.ResourceTiming
	if r.ResourceCount == 0 {
		return metricsResponse("resourceTiming", "No resources have been loaded yet.", r)
	}
	return metricsResponse("resourceTiming", fmt.Sprintf(
		"Resource Timing:\n• Total Resources: %d\n• Transferred: %s", r.ResourceCount, bytesf(r.TransferSize)), r)
}

func paintTiming(s *metrics.Snapshot, _ Source) Response {
	var fp, fcp float64
	switch {
	case s.PaintTiming != nil:
		fp, fcp = s.PaintTiming.FP, s.PaintTiming.FCP
	case s.FirstPaint != nil:
		fp, fcp = s.FirstPaint.FP, s.FirstPaint.FCP
	default:
		return unavailable("Paint timing")
	}
	return metricsResponse("paintTiming", fmt.Sprintf(
		"Paint Timing:\n• First Paint: %gms\n• First Contentful Paint: %gms", fp, fcp),
		map[string]float64{"firstPaint": fp, "firstContentfulPaint": fcp})
}

func pageLoad(s *metrics.Snapshot, _ Source) Response {
	if s.PageLoad == nil {
		return unavailable("Page load")
	}
	p := s.PageLoad
	return metricsResponse("pageLoad", fmt.Sprintf(
		"Page Load Times:\n• DOM Load: %gms\n• Window Load: %gms", p.DOMLoadTime, p.WindowLoadTime), p)
}

func longTasks(s *metrics.Snapshot, _ Source) Response {
	if s.LongTasks == nil {
		return unavailable("Long tasks")
	}
	l := s.LongTasks
	name := l.Name
	if name == "" {
		name = "unknown"
	}
	return metricsResponse("longTasks", fmt.Sprintf(
		"Long Tasks:\n• Latest: %s\n• Duration: %.1fms\n• Started At: %.1fms", name, l.Duration, l.StartTime), l)
}

func userInteractions(s *metrics.Snapshot, _ Source) Response {
	if s.UserInteraction == nil {
		return unavailable("User interaction")
	}
	u := s.UserInteraction
	return metricsResponse("userInteractions", fmt.Sprintf(
		"User Interactions:\n• Clicks: %d\n• Scrolls: %d\n• Keypresses: %d", u.Clicks, u.Scrolls, u.Keypresses), u)
}

func storage(s *metrics.Snapshot, _ Source) Response {
	if s.Storage == nil {
		return unavailable("Storage")
	}
	st := s.Storage
	return metricsResponse("storage", fmt.Sprintf(
		"Storage Usage:\n• LocalStorage: %s\n• SessionStorage: %s\n• IndexedDB: %s",
		bytesf(st.LocalStorage), bytesf(st.SessionStorage), bytesf(st.IndexedDB)), st)
}

func performanceMarks(s *metrics.Snapshot, _ Source) Response {
	if s.PerformanceMetrics == nil {
		return unavailable("Performance marks")
	}
	p := s.PerformanceMetrics
	return metricsResponse("performanceMarks", fmt.Sprintf(
		"Performance Marks:\n• Total Marks: %d\n• Total Measures: %d", p.MarkCount, p.MeasureCount), p)
}

func cache(s *metrics.Snapshot, _ Source) Response {
	if s.CacheUsage == nil {
		return unavailable("Cache")
	}
	c := s.CacheUsage
	return metricsResponse("cache", fmt.Sprintf(
		"Cache Info:\n• Cache Size: %s\n• Cached Items: %d\n• Hit Rate: %.1f%%",
		bytesf(c.Size), c.TotalEntries, c.HitRate()), c)
}

func pageErrors(s *metrics.Snapshot, _ Source) Response {
	if s.PageErrors == nil {
		return unavailable("Page error")
	}
	e := s.PageErrors
	if e.Count == 0 {
		return metricsResponse("pageErrors", "No page errors recorded.", e)
	}
	msg := fmt.Sprintf("Page Errors: %d", e.Count)
	if recent := metrics.FormatErrors(e.RecentErrors); recent != "" {
		msg += "\n• Recent: " + recent
	}
	return metricsResponse("pageErrors", msg, e)
}

func serverTiming(s *metrics.Snapshot, _ Source) Response {
	if s.ServerTiming == nil {
		return unavailable("Server timing")
	}
	return metricsResponse("serverTiming", fmt.Sprintf(
		"Server Timing:\n• Entries: %d\n• Average Duration: %.2fms",
		len(s.ServerTiming.Metrics), s.AverageServerTiming()), s.ServerTiming)
}

func webSocket(s *metrics.Snapshot, _ Source) Response {
	if s.WebSocket == nil {
		return unavailable("WebSocket")
	}
	messages, n := s.WebSocket.MessagesAndBytes()
	return metricsResponse("websocket", fmt.Sprintf(
		"WebSocket Status:\n• Connections: %d\n• Messages: %d\n• Data: %s",
		len(s.WebSocket.Connections), messages, humanize.IBytes(uint64(n))), s.WebSocket)
}

func apiPerformance(s *metrics.Snapshot, _ Source) Response {
	if s.APIPerformance == nil {
		return unavailable("API performance")
	}
	calls := s.APIPerformance
	var slowest metrics.APICall
	for _, c := range calls {
		if c.Duration > slowest.Duration {
			slowest = c
		}
	}
	msg := fmt.Sprintf("API Performance:\n• Calls: %d\n• Average Response Time: %.2fms",
		len(calls), s.AverageAPIDuration())
	if slowest.URL != "" {
		msg += fmt.Sprintf("\n• Slowest: %s %s (%.2fms)", slowest.Method, slowest.URL, slowest.Duration)
	}
	return metricsResponse("apiPerformance", msg, calls)
}
