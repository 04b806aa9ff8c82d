package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/perfdash/internal/metrics"
)

// SnapshotInput defines input for the snapshot tool.
type SnapshotInput struct {
	Window string `json:"window,omitempty" jsonschema:"Averaging window for series (e.g. '30s', '1m'). Default: whole history"`
}

// SnapshotOutput defines output for the snapshot tool.
type SnapshotOutput struct {
	TabID      int                `json:"tab_id"`
	URL        string             `json:"url,omitempty"`
	Connected  bool               `json:"connected"`
	HistoryLen int                `json:"history_len"`
	Sections   []string           `json:"sections,omitempty"`
	Snapshot   map[string]any     `json:"snapshot,omitempty"`
	Averages   map[string]float64 `json:"averages,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// PanelsInput defines input for the panels tool.
type PanelsInput struct {
	State string `json:"state,omitempty" jsonschema:"Only list panels in this state: active, no-data, uninitialized, stopped"`
}

// PanelsOutput defines output for the panels tool.
type PanelsOutput struct {
	Panels []PanelEntry   `json:"panels,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
	Count  int            `json:"count"`
}

// PanelEntry represents one panel's liveness.
type PanelEntry struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	State           string `json:"state"`
	HasReceivedData bool   `json:"has_received_data"`
	Disabled        bool   `json:"disabled"`
	LastUpdate      string `json:"last_update,omitempty"`
	TimeoutMs       int64  `json:"timeout_ms"`
}

// ExportInput defines input for the export tool.
type ExportInput struct {
	Format string `json:"format,omitempty" jsonschema:"Export format: csv or json (default: csv)"`
}

// ExportOutput defines output for the export tool.
type ExportOutput struct {
	Format  string `json:"format"`
	Count   int    `json:"count"`
	Content string `json:"content,omitempty"`
}

// RegisterSessionTools adds the snapshot, panels and export tools.
func RegisterSessionTools(server *mcp.Server, pt *PerfTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "snapshot",
		Description: `Latest metrics snapshot for the watched tab.

Returns the most recent snapshot (only the sections the page reported) and
the average of each history series (cpu, memory, network, fps, eventLoopLag,
paintTiming, navigationTiming).

Examples:
  snapshot {}
  snapshot {window: "30s"}

Memory values are in MB; storage and transfer sizes are bytes.`,
	}, pt.handleSnapshot)

	mcp.AddTool(server, &mcp.Tool{
		Name: "panels",
		Description: `Liveness of each dashboard panel.

A panel is active while its section keeps arriving, no-data once it has been
quiet longer than its timeout, and disabled before the first update.

Examples:
  panels {}
  panels {state: "no-data"}`,
	}, pt.handlePanels)

	mcp.AddTool(server, &mcp.Tool{
		Name: "export",
		Description: `Export the metrics history of the watched tab.

Formats:
  csv: One row per snapshot with a fixed header
  json: The snapshots wrapped with tab id and export time

Examples:
  export {format: "csv"}
  export {format: "json"}`,
	}, pt.handleExport)
}

func (pt *PerfTools) handleSnapshot(ctx context.Context, req *mcp.CallToolRequest, input SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	var window time.Duration
	if input.Window != "" {
		d, err := time.ParseDuration(input.Window)
		if err != nil || d <= 0 {
			return errorResult(fmt.Sprintf("invalid window %q (use e.g. '30s', '1m')", input.Window)), SnapshotOutput{}, nil
		}
		window = d
	}

	h := pt.watch.History()
	out := SnapshotOutput{
		TabID:      pt.watch.TabID(),
		URL:        pt.watch.PageURL(),
		Connected:  pt.watch.Connected(),
		HistoryLen: h.Len(),
	}

	latest := h.Latest()
	if latest == nil {
		out.Message = "Collecting metrics... no snapshot received yet."
		return nil, out, nil
	}

	raw, err := json.Marshal(latest)
	if err != nil {
		return errorResult(fmt.Sprintf("encode snapshot: %v", err)), SnapshotOutput{}, nil
	}
	if err := json.Unmarshal(raw, &out.Snapshot); err != nil {
		return errorResult(fmt.Sprintf("encode snapshot: %v", err)), SnapshotOutput{}, nil
	}
	out.Sections = latest.Sections()
	out.Averages = seriesAverages(h, window)
	return nil, out, nil
}

func seriesAverages(h *metrics.History, window time.Duration) map[string]float64 {
	avgs := make(map[string]float64)
	for _, name := range metrics.SeriesNames() {
		if window <= 0 {
			if len(h.Series(name)) > 0 {
				avgs[name] = h.Average(name)
			}
			continue
		}
		points := h.Window(name, window)
		if len(points) == 0 {
			continue
		}
		var sum float64
		for _, p := range points {
			sum += p.Value
		}
		avgs[name] = sum / float64(len(points))
	}
	return avgs
}

func (pt *PerfTools) handlePanels(ctx context.Context, req *mcp.CallToolRequest, input PanelsInput) (*mcp.CallToolResult, PanelsOutput, error) {
	board := pt.watch.Board()

	titles := make(map[string]string)
	for _, def := range board.Definitions() {
		titles[def.Name] = def.Title
	}

	out := PanelsOutput{Counts: make(map[string]int)}
	for _, st := range board.Statuses() {
		state := st.State.String()
		out.Counts[state]++
		if input.State != "" && input.State != state {
			continue
		}
		entry := PanelEntry{
			Name:            st.Name,
			Title:           titles[st.Name],
			State:           state,
			HasReceivedData: st.HasReceivedData,
			Disabled:        st.Disabled,
			TimeoutMs:       st.Timeout.Milliseconds(),
		}
		if !st.LastUpdate.IsZero() {
			entry.LastUpdate = st.LastUpdate.Format(time.RFC3339)
		}
		out.Panels = append(out.Panels, entry)
	}
	out.Count = len(out.Panels)
	return nil, out, nil
}

func (pt *PerfTools) handleExport(ctx context.Context, req *mcp.CallToolRequest, input ExportInput) (*mcp.CallToolResult, ExportOutput, error) {
	format := input.Format
	if format == "" {
		format = "csv"
	}

	snaps := pt.watch.History().Snapshots()
	var buf bytes.Buffer
	switch format {
	case "csv":
		if err := metrics.WriteCSV(&buf, snaps); err != nil {
			return errorResult(fmt.Sprintf("export csv: %v", err)), ExportOutput{}, nil
		}
	case "json":
		if err := metrics.WriteJSON(&buf, pt.watch.TabID(), snaps, pt.now()); err != nil {
			return errorResult(fmt.Sprintf("export json: %v", err)), ExportOutput{}, nil
		}
	default:
		return errorResult(fmt.Sprintf("unknown format %q. Use: csv, json", input.Format)), ExportOutput{}, nil
	}

	return nil, ExportOutput{
		Format:  format,
		Count:   len(snaps),
		Content: buf.String(),
	}, nil
}
