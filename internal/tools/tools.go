// Package tools exposes a watched tab over MCP: its latest snapshot, panel
// liveness, the metrics assistant, exports and stored preferences.
package tools

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/perfdash/internal/assistant"
	"github.com/standardbeagle/perfdash/internal/dashboard"
	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/panel"
	"github.com/standardbeagle/perfdash/internal/store"
)

// Watch is the tab state the tools read. *dashboard.Session implements it.
type Watch interface {
	TabID() int
	PageURL() string
	Connected() bool
	History() *metrics.History
	Board() *panel.Board
	APICalls() []metrics.APICall
}

var _ Watch = (*dashboard.Session)(nil)

// PerfTools holds what the MCP handlers need.
type PerfTools struct {
	watch     Watch
	assistant *assistant.Assistant
	prefs     *store.Store
	relay     *dashboard.StatusFetcher
	now       func() time.Time
}

// Options configures PerfTools.
type Options struct {
	Watch     Watch
	Assistant *assistant.Assistant
	Prefs     *store.Store

	// Relay is optional; without it the relay tool reports unknown.
	Relay *dashboard.StatusFetcher

	Now func() time.Time
}

// NewPerfTools creates the tool set. A nil Assistant is built over the
// watch's history without a fallback.
func NewPerfTools(opts Options) *PerfTools {
	if opts.Assistant == nil && opts.Watch != nil {
		opts.Assistant = assistant.New(opts.Watch.History(), nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PerfTools{
		watch:     opts.Watch,
		assistant: opts.Assistant,
		prefs:     opts.Prefs,
		relay:     opts.Relay,
		now:       opts.Now,
	}
}

// RegisterPerfTools adds every perfdash tool to the server.
func RegisterPerfTools(server *mcp.Server, pt *PerfTools) {
	RegisterSessionTools(server, pt)
	RegisterAskTool(server, pt)
	RegisterStoreTool(server, pt)
	RegisterRelayTool(server, pt)
}

// NewServer creates an MCP server with every perfdash tool registered.
func NewServer(name, version string, pt *PerfTools) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    name,
			Version: version,
		},
		&mcp.ServerOptions{
			Instructions: `Live page performance metrics for one browser tab, streamed through the perfdash relay.

Available tools:
- snapshot: Latest metrics snapshot and series averages
- panels: Liveness of each dashboard panel (active, no data, disabled)
- export: Export the metrics history as CSV or JSON
- ask: Ask a question about the page's performance
- prefs: Read and write stored preferences and saved metrics
- relay: Relay reachability and registered tabs`,
		},
	)
	RegisterPerfTools(server, pt)
	return server
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
