package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/perfdash/internal/assistant"
)

// AskInput defines input for the ask tool.
type AskInput struct {
	Question string `json:"question,omitempty" jsonschema:"Question about the page's performance. Empty or 'help' lists suggested questions"`
}

// AskOutput defines output for the ask tool.
type AskOutput struct {
	Type        string   `json:"type"`
	MetricType  string   `json:"metric_type,omitempty"`
	Message     string   `json:"message"`
	Data        any      `json:"data,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	FollowUps   []string `json:"follow_ups,omitempty"`
}

// RegisterAskTool adds the ask tool to the server.
func RegisterAskTool(server *mcp.Server, pt *PerfTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "ask",
		Description: `Ask a question about the watched page's performance.

Questions are matched against known topics (FPS, memory, CPU, network,
web vitals, layout shifts, long tasks, API calls, errors, storage, cache,
server timing, websockets). Metric answers include follow-up questions.
Unmatched questions go to the LLM fallback when an API key is configured.

Examples:
  ask {question: "What's my current FPS?"}
  ask {question: "Any page errors?"}
  ask {question: "help"}`,
	}, pt.handleAsk)
}

func (pt *PerfTools) handleAsk(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if pt.assistant == nil {
		return errorResult("assistant not configured"), AskOutput{}, nil
	}

	var resp assistant.Response
	switch strings.ToLower(strings.TrimSpace(input.Question)) {
	case "", "help":
		resp = pt.assistant.Help()
	default:
		resp = pt.assistant.Ask(ctx, input.Question)
	}

	return nil, AskOutput{
		Type:        resp.Type,
		MetricType:  resp.MetricType,
		Message:     resp.Message,
		Data:        resp.Data,
		Suggestions: resp.Suggestions,
		FollowUps:   resp.FollowUps,
	}, nil
}
