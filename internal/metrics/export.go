package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSVHeader is the column layout of WriteCSV.
var CSVHeader = []string{
	"Timestamp",
	"FPS",
	"Memory Used (MB)",
	"Memory Total (MB)",
	"Network Requests",
	"Network Transfer (KB)",
	"CPU Usage (%)",
	"DOM Elements",
	"DOM Nodes",
	"Event Listeners",
	"First Paint (ms)",
	"First Contentful Paint (ms)",
	"DOM Load Time (ms)",
	"Window Load Time (ms)",
	"Long Tasks Duration (ms)",
	"API Calls Count",
	"API Response Time (ms)",
	"Page Errors Count",
	"Recent Error Types",
	"Cache Size (MB)",
	"Cache Hits",
	"Cache Misses",
	"Cache Hit Rate (%)",
	"Cache Entries",
	"Web Vitals LCP (ms)",
	"Web Vitals FID (ms)",
	"Web Vitals CLS",
	"Server Timing Count",
	"Server Timing Avg Duration (ms)",
	"WebSocket Connections",
	"WebSocket Messages/s",
	"WebSocket Data Transfer (KB)",
	"LocalStorage Usage (KB)",
	"SessionStorage Usage (KB)",
	"IndexedDB Usage (KB)",
	"Performance Marks Count",
	"Performance Measures Count",
	"User Clicks",
	"User Scrolls",
	"User Keypresses",
}

// WriteCSV writes one row per snapshot. Absent sections export as zero.
func WriteCSV(w io.Writer, snapshots []*Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		if err := cw.Write(csvRow(s)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(s *Snapshot) []string {
	fps := s.FPSOrZero()
	mem := s.MemoryOrZero()
	net := s.NetworkOrZero()
	cpu := s.CPUOrZero()
	dom := s.DOMOrZero()
	vitals := s.WebVitalsOrZero()
	storage := s.StorageOrZero()
	ws := s.WebSocketOrZero()
	wsMessages, wsBytes := ws.MessagesAndBytes()

	var fp, fcp float64
	if s.FirstPaint != nil {
		fp, fcp = s.FirstPaint.FP, s.FirstPaint.FCP
	}
	var domLoad, windowLoad float64
	if s.PageLoad != nil {
		domLoad, windowLoad = s.PageLoad.DOMLoadTime, s.PageLoad.WindowLoadTime
	}
	var longTask float64
	if s.LongTasks != nil {
		longTask = s.LongTasks.Duration
	}
	var errCount int
	var errTypes []string
	if s.PageErrors != nil {
		errCount = s.PageErrors.Count
		for _, e := range s.PageErrors.RecentErrors {
			errTypes = append(errTypes, e.Type)
		}
	}
	var cache CacheUsage
	if s.CacheUsage != nil {
		cache = *s.CacheUsage
	}
	var serverTimingCount int
	if s.ServerTiming != nil {
		serverTimingCount = len(s.ServerTiming.Metrics)
	}
	var marks PerformanceMarks
	if s.PerformanceMetrics != nil {
		marks = *s.PerformanceMetrics
	}
	var ui UserInteraction
	if s.UserInteraction != nil {
		ui = *s.UserInteraction
	}

	return []string{
		s.Time().UTC().Format(time.RFC3339Nano),
		num(fps.Value),
		fixed(mem.UsedJSHeapSize),
		fixed(mem.TotalJSHeapSize),
		strconv.Itoa(net.Requests),
		fixed(net.Transferred / 1024),
		fixed(cpu.Usage),
		strconv.Itoa(dom.Elements),
		strconv.Itoa(dom.Nodes),
		strconv.Itoa(dom.Listeners),
		fixed(fp),
		fixed(fcp),
		fixed(domLoad),
		fixed(windowLoad),
		fixed(longTask),
		strconv.Itoa(len(s.APIPerformance)),
		fixed(s.AverageAPIDuration()),
		strconv.Itoa(errCount),
		strings.Join(errTypes, ";"),
		fixed(cache.Size / (1024 * 1024)),
		strconv.Itoa(cache.Hits),
		strconv.Itoa(cache.Misses),
		fixed(cache.HitRate()),
		strconv.Itoa(cache.TotalEntries),
		num(vitals.LCP),
		num(vitals.FID),
		num(vitals.CLS),
		strconv.Itoa(serverTimingCount),
		fixed(s.AverageServerTiming()),
		strconv.Itoa(len(ws.Connections)),
		strconv.Itoa(wsMessages),
		fixed(float64(wsBytes) / 1024),
		fixed(storage.LocalStorage / 1024),
		fixed(storage.SessionStorage / 1024),
		fixed(storage.IndexedDB / 1024),
		strconv.Itoa(marks.MarkCount),
		strconv.Itoa(marks.MeasureCount),
		strconv.Itoa(ui.Clicks),
		strconv.Itoa(ui.Scrolls),
		strconv.Itoa(ui.Keypresses),
	}
}

func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Export is the JSON export document.
type Export struct {
	ExportedAt time.Time   `json:"exportedAt"`
	TabID      int         `json:"tabId,omitempty"`
	Count      int         `json:"count"`
	Snapshots  []*Snapshot `json:"snapshots"`
}

// WriteJSON writes the snapshots as an indented Export document.
func WriteJSON(w io.Writer, tabID int, snapshots []*Snapshot, now time.Time) error {
	if snapshots == nil {
		snapshots = []*Snapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Export{
		ExportedAt: now.UTC(),
		TabID:      tabID,
		Count:      len(snapshots),
		Snapshots:  snapshots,
	}); err != nil {
		return fmt.Errorf("write json export: %w", err)
	}
	return nil
}

// FormatErrors renders errors as "type: message" joined by " | ".
func FormatErrors(errs []PageError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Type+": "+e.Message)
	}
	return strings.Join(parts, " | ")
}
