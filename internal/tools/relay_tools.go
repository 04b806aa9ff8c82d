package tools

import (
	"context"
	"fmt"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RelayInput defines input for the relay tool.
type RelayInput struct {
	Action string `json:"action,omitempty" jsonschema:"Action: status (default), cached"`
}

// RelayOutput defines output for the relay tool.
type RelayOutput struct {
	Reachable  bool   `json:"reachable"`
	Badge      string `json:"badge"`
	Version    string `json:"version,omitempty"`
	Uptime     string `json:"uptime,omitempty"`
	PingMs     int64  `json:"ping_ms,omitempty"`
	Tabs       []int  `json:"tabs,omitempty"`
	Registered bool   `json:"registered"`
	Connected  bool   `json:"connected"`
	Message    string `json:"message,omitempty"`
}

// RegisterRelayTool adds the relay tool to the server.
func RegisterRelayTool(server *mcp.Server, pt *PerfTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "relay",
		Description: `Check the perfdash relay.

The relay forwards metrics from the page to this session. It must be running
('perfdash serve') for snapshots to arrive.

Actions:
  status: Probe the relay now
  cached: Return the last probe result without a request

Examples:
  relay {}
  relay {action: "cached"}

registered tells whether the watched tab currently has a dashboard session
registered with the relay.`,
	}, pt.handleRelay)
}

func (pt *PerfTools) handleRelay(ctx context.Context, req *mcp.CallToolRequest, input RelayInput) (*mcp.CallToolResult, RelayOutput, error) {
	if pt.relay == nil {
		return errorResult("relay probe not configured"), RelayOutput{}, nil
	}

	st := pt.relay.Status()
	switch input.Action {
	case "", "status":
		st = pt.relay.Refresh(ctx)
	case "cached":
	default:
		return errorResult(fmt.Sprintf("unknown action %q. Use: status, cached", input.Action)), RelayOutput{}, nil
	}

	out := RelayOutput{
		Reachable: st.Connected,
		Badge:     st.Badge(),
		Version:   st.Version,
		PingMs:    st.PingMs,
		Tabs:      st.Tabs,
	}
	if pt.watch != nil {
		out.Connected = pt.watch.Connected()
		out.Registered = slices.Contains(st.Tabs, pt.watch.TabID())
	}
	if st.Uptime > 0 {
		out.Uptime = st.Uptime.String()
	}
	switch {
	case st.Err != nil:
		out.Message = fmt.Sprintf("relay unreachable: %v", st.Err)
	case !st.Connected:
		out.Message = "relay not probed yet"
	}
	return nil, out, nil
}
