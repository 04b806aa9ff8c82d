package dashboard

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/panel"
)

var (
	titleColor  = color.New(color.Bold)
	activeColor = color.New(color.FgGreen)
	staleColor  = color.New(color.FgYellow)
	faintColor  = color.New(color.Faint)
	errColor    = color.New(color.FgRed)
	valueColor  = color.New(color.FgCyan)
)

// sparkWidth is the number of points drawn per sparkline.
const sparkWidth = 24

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// panelSeries maps panels to the history series drawn next to them.
var panelSeries = map[string]string{
	"fps":              metrics.SeriesFPS,
	"memory":           metrics.SeriesMemory,
	"network":          metrics.SeriesNetwork,
	"cpu":              metrics.SeriesCPU,
	"eventLoopLag":     metrics.SeriesEventLoopLag,
	"paintTiming":      metrics.SeriesPaintTiming,
	"navigationTiming": metrics.SeriesNavigation,
}

// Frame is everything one dashboard redraw shows.
type Frame struct {
	TabID     int
	PageURL   string
	Connected bool
	Relay     RelayStatus
	Paused    bool
	Latest    *metrics.Snapshot
	APICalls  []metrics.APICall
	Defs      []panel.Definition
	Panels    []panel.Status
	Series    map[string][]metrics.Point
}

// FrameFromSession captures the session's current state.
func FrameFromSession(s *Session, relay RelayStatus) Frame {
	f := Frame{
		TabID:     s.TabID(),
		PageURL:   s.PageURL(),
		Connected: s.Connected(),
		Relay:     relay,
		Latest:    s.History().Latest(),
		APICalls:  s.APICalls(),
		Defs:      s.Board().Definitions(),
		Panels:    s.Board().Statuses(),
		Series:    make(map[string][]metrics.Point, len(panelSeries)),
	}
	for _, series := range panelSeries {
		f.Series[series] = s.History().Series(series)
	}
	return f
}

// Renderer draws frames as text.
type Renderer struct {
	out   io.Writer
	width int

	// ClearScreen emits an ANSI clear before each frame.
	ClearScreen bool
}

// NewRenderer creates a renderer. A width of 0 means detect from the
// terminal on stdout.
func NewRenderer(out io.Writer, width int) *Renderer {
	return &Renderer{out: out, width: width}
}

// TerminalWidth returns the width of the terminal on fd, or 80.
func TerminalWidth(fd int) int {
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func (r *Renderer) lineWidth() int {
	if r.width > 0 {
		return r.width
	}
	if f, ok := r.out.(interface{ Fd() uintptr }); ok {
		return TerminalWidth(int(f.Fd()))
	}
	return 80
}

// Render writes one frame.
func (r *Renderer) Render(f Frame) error {
	var b strings.Builder
	width := r.lineWidth()

	if r.ClearScreen {
		b.WriteString("\033[H\033[2J")
	}

	conn := activeColor.Sprint("connected")
	if !f.Connected {
		conn = errColor.Sprint("disconnected")
	}
	header := fmt.Sprintf("%s  %s  %s  %s", titleColor.Sprint("perfdash"), TabLabel(f.TabID), conn, relayBadge(f.Relay))
	if f.Paused {
		header += "  " + staleColor.Sprint("[paused]")
	}
	b.WriteString(header + "\n")
	if f.PageURL != "" {
		b.WriteString(faintColor.Sprint(truncate(f.PageURL, width)) + "\n")
	}
	b.WriteString(strings.Repeat("─", min(width, 72)) + "\n")

	statuses := make(map[string]panel.Status, len(f.Panels))
	for _, st := range f.Panels {
		statuses[st.Name] = st
	}

	for _, def := range f.Defs {
		st := statuses[def.Name]
		line := fmt.Sprintf("%-18s %s", def.Title, stateBadge(st))
		if st.HasReceivedData && !st.Disabled {
			if summary := Summarize(def.Name, f.Latest, f.APICalls); summary != "" {
				line += "  " + valueColor.Sprint(summary)
			}
			if series, ok := panelSeries[def.Name]; ok {
				if spark := Sparkline(f.Series[series], sparkWidth); spark != "" {
					line += "  " + spark
				}
			}
		}
		b.WriteString(line + "\n")
	}

	_, err := io.WriteString(r.out, b.String())
	return err
}

func relayBadge(s RelayStatus) string {
	badge := s.Badge()
	switch {
	case s.Connected:
		return activeColor.Sprint(badge)
	case s.LastUpdate.IsZero():
		return faintColor.Sprint(badge)
	default:
		return errColor.Sprint(badge)
	}
}

func stateBadge(st panel.Status) string {
	switch {
	case st.Disabled:
		return faintColor.Sprintf("%-8s", "disabled")
	case st.State == panel.StateActive:
		return activeColor.Sprintf("%-8s", "active")
	case st.State == panel.StateNoData:
		return staleColor.Sprintf("%-8s", "no data")
	default:
		return faintColor.Sprintf("%-8s", st.State.String())
	}
}

// Summarize renders the one-line value summary for a panel. It returns ""
// when the snapshot lacks the panel's section.
func Summarize(name string, s *metrics.Snapshot, calls []metrics.APICall) string {
	if s == nil {
		return ""
	}
	switch name {
	case "fps":
		if s.FPS != nil {
			return fmt.Sprintf("%.0f fps", s.FPS.Value)
		}
	case "memory":
		if s.Memory != nil {
			return fmt.Sprintf("%.1f / %.1f MB", s.Memory.UsedJSHeapSize, s.Memory.TotalJSHeapSize)
		}
	case "jsHeap":
		if m := s.Memory; m != nil && m.JSHeapSizeLimit > 0 {
			return fmt.Sprintf("%.1f MB of %.0f MB limit (%.0f%%)", m.UsedJSHeapSize, m.JSHeapSizeLimit, m.UsedJSHeapSize/m.JSHeapSizeLimit*100)
		}
	case "network":
		if s.Network != nil {
			return fmt.Sprintf("%s requests, %s", humanize.Comma(int64(s.Network.Requests)), humanize.IBytes(uint64(s.Network.Transferred)))
		}
	case "cpu":
		if s.CPU != nil {
			return fmt.Sprintf("%.1f%%", s.CPU.Usage)
		}
	case "dom":
		if d := s.DOM; d != nil {
			return fmt.Sprintf("%s elements, %s nodes, %s listeners", humanize.Comma(int64(d.Elements)), humanize.Comma(int64(d.Nodes)), humanize.Comma(int64(d.Listeners)))
		}
	case "layoutShifts":
		if l := s.LayoutShifts; l != nil {
			return fmt.Sprintf("CLS %.3f, %d recent", l.CumulativeLayoutShift, l.RecentShifts)
		}
	case "resourceTiming":
		if rt := s.ResourceTiming; rt != nil {
			return fmt.Sprintf("%d resources, %s", rt.ResourceCount, humanize.IBytes(uint64(rt.TransferSize)))
		}
	case "firstPaint":
		if fp := s.FirstPaint; fp != nil {
			return fmt.Sprintf("FP %s, FCP %s", millis(fp.FP), millis(fp.FCP))
		}
	case "pageLoad":
		if pl := s.PageLoad; pl != nil {
			return fmt.Sprintf("DOM %s, load %s", millis(pl.DOMLoadTime), millis(pl.WindowLoadTime))
		}
	case "longTasks":
		if lt := s.LongTasks; lt != nil {
			out := "last " + millis(lt.Duration)
			if lt.Name != "" {
				out += " (" + lt.Name + ")"
			}
			return out
		}
	case "userInteraction":
		if ui := s.UserInteraction; ui != nil {
			return fmt.Sprintf("%d clicks, %d scrolls, %d keys", ui.Clicks, ui.Scrolls, ui.Keypresses)
		}
	case "webVitals":
		if wv := s.WebVitals; wv != nil {
			return fmt.Sprintf("LCP %s, FID %s, CLS %.3f", millis(wv.LCP), millis(wv.FID), wv.CLS)
		}
	case "performanceMetrics":
		if pm := s.PerformanceMetrics; pm != nil {
			return fmt.Sprintf("%d marks, %d measures", pm.MarkCount, pm.MeasureCount)
		}
	case "storage":
		if st := s.Storage; st != nil {
			return fmt.Sprintf("local %s, session %s, indexedDB %s",
				humanize.IBytes(uint64(st.LocalStorage)), humanize.IBytes(uint64(st.SessionStorage)), humanize.IBytes(uint64(st.IndexedDB)))
		}
	case "cacheUsage":
		if c := s.CacheUsage; c != nil {
			return fmt.Sprintf("%s, %.0f%% hit rate, %d entries", humanize.IBytes(uint64(c.Size)), c.HitRate(), c.TotalEntries)
		}
	case "pageErrors":
		if pe := s.PageErrors; pe != nil {
			out := fmt.Sprintf("%d errors", pe.Count)
			if n := len(pe.RecentErrors); n > 0 {
				last := pe.RecentErrors[n-1]
				out += ", last: " + truncate(last.Type+": "+last.Message, 48)
			}
			return out
		}
	case "serverTiming":
		if st := s.ServerTiming; st != nil {
			return fmt.Sprintf("%d entries, avg %s", len(st.Metrics), millis(s.AverageServerTiming()))
		}
	case "websocket":
		if ws := s.WebSocket; ws != nil {
			msgs, n := ws.MessagesAndBytes()
			return fmt.Sprintf("%d connections, %d messages, %s", len(ws.Connections), msgs, humanize.IBytes(uint64(n)))
		}
	case "apiPerformance":
		if len(calls) == 0 {
			calls = s.APIPerformance
		}
		if len(calls) > 0 {
			var total float64
			for _, c := range calls {
				total += c.Duration
			}
			return fmt.Sprintf("%d calls, avg %s", len(calls), millis(total/float64(len(calls))))
		}
	case "eventLoopLag":
		if el := s.EventLoopLag; el != nil {
			return fmt.Sprintf("lag %.1fms", el.Lag)
		}
	case "paintTiming":
		if pt := s.PaintTiming; pt != nil {
			return fmt.Sprintf("FP %s, FCP %s", millis(pt.FP), millis(pt.FCP))
		}
	case "navigationTiming":
		if nt := s.NavigationTiming; nt != nil {
			return fmt.Sprintf("DOM complete %s, load end %s", millis(nt.DOMComplete), millis(nt.LoadEventEnd))
		}
	}
	return ""
}

// Sparkline draws the last width points scaled between their min and max.
func Sparkline(points []metrics.Point, width int) string {
	if len(points) == 0 || width <= 0 {
		return ""
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}

	var b strings.Builder
	top := len(sparkRunes) - 1
	for _, p := range points {
		idx := 0
		if hi > lo {
			idx = int((p.Value - lo) / (hi - lo) * float64(top))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func millis(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}
