package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/perfdash/internal/store"
)

// PrefsInput represents input for the prefs tool.
type PrefsInput struct {
	Action   string `json:"action" jsonschema:"Action: get, set, delete, list, get_all, clear, banner, save_metrics, load_metrics"`
	Scope    string `json:"scope,omitempty" jsonschema:"Scope: global, folder, page (default: global)"`
	ScopeKey string `json:"scope_key,omitempty" jsonschema:"URL or path the scope applies to (defaults to the watched page)"`
	Key      string `json:"key,omitempty" jsonschema:"Key (required for get, set, delete)"`
	Value    any    `json:"value,omitempty" jsonschema:"Value to store (required for set)"`
}

// PrefsOutput represents output from the prefs tool.
type PrefsOutput struct {
	Success  bool                         `json:"success"`
	Scope    string                       `json:"scope,omitempty"`
	ScopeKey string                       `json:"scope_key,omitempty"`
	Entry    *PrefsEntryOutput            `json:"entry,omitempty"`
	Entries  map[string]*PrefsEntryOutput `json:"entries,omitempty"`
	Keys     []string                     `json:"keys,omitempty"`
	Count    int                          `json:"count,omitempty"`
	SavedAt  string                       `json:"saved_at,omitempty"`
	Message  string                       `json:"message,omitempty"`
}

// PrefsEntryOutput represents a single stored entry.
type PrefsEntryOutput struct {
	Value     any    `json:"value"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RegisterStoreTool registers the prefs MCP tool with the server.
func RegisterStoreTool(server *mcp.Server, pt *PerfTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "prefs",
		Description: `Persistent dashboard preferences and saved metrics.

Actions:
  get: Retrieve a value by key
  set: Store a value by key
  delete: Remove a value by key
  list: List all keys in a scope
  get_all: Get all key-value pairs in a scope
  clear: Clear all values in a scope
  banner: Show the on-page banner preferences
  save_metrics: Save the current history for the watched page
  load_metrics: Show what was saved for the watched page

Scopes:
  global: Shared across all pages
  folder: Per URL path prefix (scope_key: URL or path, default: watched page)
  page: Per page URL (scope_key: URL, default: watched page)

Examples:
  prefs {action: "set", key: "theme", value: "dark"}
  prefs {action: "get", key: "theme"}
  prefs {action: "list", scope: "page"}
  prefs {action: "save_metrics"}
  prefs {action: "load_metrics", scope_key: "https://app.test/home"}`,
	}, pt.makePrefsHandler())
}

func (pt *PerfTools) makePrefsHandler() func(context.Context, *mcp.CallToolRequest, PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
		if pt.prefs == nil {
			return errorResult("preferences store not configured"), PrefsOutput{}, nil
		}

		switch input.Action {
		case "get":
			return pt.handlePrefsGet(input)
		case "set":
			return pt.handlePrefsSet(input)
		case "delete":
			return pt.handlePrefsDelete(input)
		case "list":
			return pt.handlePrefsList(input)
		case "get_all":
			return pt.handlePrefsGetAll(input)
		case "clear":
			return pt.handlePrefsClear(input)
		case "banner":
			return pt.handlePrefsBanner()
		case "save_metrics":
			return pt.handleSaveMetrics(input)
		case "load_metrics":
			return pt.handleLoadMetrics(input)
		default:
			return errorResult(fmt.Sprintf("unknown action %q. Use: get, set, delete, list, get_all, clear, banner, save_metrics, load_metrics", input.Action)), PrefsOutput{}, nil
		}
	}
}

// resolveScope fills in the scope and derives its key from scope_key or
// the watched page.
func (pt *PerfTools) resolveScope(input PrefsInput) (scope, scopeKey string, err error) {
	scope = input.Scope
	if scope == "" {
		scope = store.ScopeGlobal
	}
	switch scope {
	case store.ScopeGlobal:
		return scope, "", nil
	case store.ScopeFolder, store.ScopePage:
		source := input.ScopeKey
		if source == "" && pt.watch != nil {
			source = pt.watch.PageURL()
		}
		if source == "" {
			return "", "", fmt.Errorf("scope_key required for %s scope until the page reports its URL", scope)
		}
		return scope, store.ScopeKey(scope, source), nil
	}
	return "", "", store.ErrInvalidScope
}

func (pt *PerfTools) pageURL(input PrefsInput) string {
	if input.ScopeKey != "" {
		return input.ScopeKey
	}
	if pt.watch != nil {
		return pt.watch.PageURL()
	}
	return ""
}

func entryOutput(e *store.Entry) *PrefsEntryOutput {
	var v any
	if err := json.Unmarshal(e.Value, &v); err != nil {
		v = string(e.Value)
	}
	return &PrefsEntryOutput{
		Value:     v,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}

func (pt *PerfTools) handlePrefsGet(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	if input.Key == "" {
		return errorResult("key required"), PrefsOutput{}, nil
	}
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	entry, err := pt.prefs.Get(scope, scopeKey, input.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, PrefsOutput{
			Scope:    scope,
			ScopeKey: scopeKey,
			Message:  fmt.Sprintf("key %q not found", input.Key),
		}, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("prefs get: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    scope,
		ScopeKey: scopeKey,
		Entry:    entryOutput(entry),
	}, nil
}

func (pt *PerfTools) handlePrefsSet(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	if input.Key == "" {
		return errorResult("key required"), PrefsOutput{}, nil
	}
	if input.Value == nil {
		return errorResult("value required"), PrefsOutput{}, nil
	}
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	if err := pt.prefs.Set(scope, scopeKey, input.Key, input.Value); err != nil {
		return errorResult(fmt.Sprintf("prefs set: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    scope,
		ScopeKey: scopeKey,
		Message:  fmt.Sprintf("stored %q", input.Key),
	}, nil
}

func (pt *PerfTools) handlePrefsDelete(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	if input.Key == "" {
		return errorResult("key required"), PrefsOutput{}, nil
	}
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	err = pt.prefs.Delete(scope, scopeKey, input.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, PrefsOutput{Scope: scope, ScopeKey: scopeKey, Message: fmt.Sprintf("key %q not found", input.Key)}, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("prefs delete: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    scope,
		ScopeKey: scopeKey,
		Message:  fmt.Sprintf("deleted %q", input.Key),
	}, nil
}

func (pt *PerfTools) handlePrefsList(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	keys, err := pt.prefs.List(scope, scopeKey)
	if err != nil {
		return errorResult(fmt.Sprintf("prefs list: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    scope,
		ScopeKey: scopeKey,
		Keys:     keys,
		Count:    len(keys),
	}, nil
}

func (pt *PerfTools) handlePrefsGetAll(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	all, err := pt.prefs.GetAll(scope, scopeKey)
	if err != nil {
		return errorResult(fmt.Sprintf("prefs get_all: %v", err)), PrefsOutput{}, nil
	}

	entries := make(map[string]*PrefsEntryOutput, len(all))
	for k, e := range all {
		entries[k] = entryOutput(e)
	}
	return nil, PrefsOutput{
		Success:  true,
		Scope:    scope,
		ScopeKey: scopeKey,
		Entries:  entries,
		Count:    len(entries),
	}, nil
}

func (pt *PerfTools) handlePrefsClear(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	scope, scopeKey, err := pt.resolveScope(input)
	if err != nil {
		return errorResult(err.Error()), PrefsOutput{}, nil
	}

	if err := pt.prefs.Clear(scope, scopeKey); err != nil {
		return errorResult(fmt.Sprintf("prefs clear: %v", err)), PrefsOutput{}, nil
	}
	return nil, PrefsOutput{Success: true, Scope: scope, ScopeKey: scopeKey, Message: "scope cleared"}, nil
}

func (pt *PerfTools) handlePrefsBanner() (*mcp.CallToolResult, PrefsOutput, error) {
	banner, err := pt.prefs.Banner()
	if err != nil {
		return errorResult(fmt.Sprintf("prefs banner: %v", err)), PrefsOutput{}, nil
	}
	return nil, PrefsOutput{
		Success: true,
		Scope:   store.ScopeGlobal,
		Entry: &PrefsEntryOutput{Value: map[string]any{
			"pinned":   banner.Pinned,
			"position": banner.Position,
			"visible":  banner.Visible,
		}},
	}, nil
}

func (pt *PerfTools) handleSaveMetrics(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	pageURL := pt.pageURL(input)
	if pageURL == "" {
		return errorResult("no page URL yet; pass scope_key"), PrefsOutput{}, nil
	}
	if pt.watch == nil {
		return errorResult("no watched tab"), PrefsOutput{}, nil
	}

	snaps := pt.watch.History().Snapshots()
	if len(snaps) == 0 {
		return errorResult("no snapshots to save yet"), PrefsOutput{}, nil
	}
	if err := pt.prefs.SaveMetrics(pageURL, snaps); err != nil {
		return errorResult(fmt.Sprintf("save metrics: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    store.ScopePage,
		ScopeKey: store.NormalizeURL(pageURL),
		Count:    len(snaps),
		Message:  fmt.Sprintf("saved %d snapshots", len(snaps)),
	}, nil
}

func (pt *PerfTools) handleLoadMetrics(input PrefsInput) (*mcp.CallToolResult, PrefsOutput, error) {
	pageURL := pt.pageURL(input)
	if pageURL == "" {
		return errorResult("no page URL yet; pass scope_key"), PrefsOutput{}, nil
	}

	saved, err := pt.prefs.LoadMetrics(pageURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, PrefsOutput{
			Scope:    store.ScopePage,
			ScopeKey: store.NormalizeURL(pageURL),
			Message:  "no metrics saved for this page",
		}, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("load metrics: %v", err)), PrefsOutput{}, nil
	}

	return nil, PrefsOutput{
		Success:  true,
		Scope:    store.ScopePage,
		ScopeKey: saved.URL,
		Count:    len(saved.Snapshots),
		SavedAt:  saved.SavedAt.Format(time.RFC3339),
	}, nil
}
