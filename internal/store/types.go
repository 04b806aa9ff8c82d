// Package store persists dashboard preferences and saved metrics as JSON
// files, in three scopes: global, folder (URL path prefix) and page
// (specific URL).
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scopes.
const (
	ScopeGlobal = "global"
	ScopeFolder = "folder"
	ScopePage   = "page"
)

const fileVersion = 1

// Entry is one stored value. Values are kept as raw JSON and decoded on
// demand.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the entry value into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	return nil
}

// scopeFile is the on-disk layout of one scope.
type scopeFile struct {
	Version   int               `json:"version"`
	Scope     string            `json:"scope"`
	ScopeKey  string            `json:"scope_key,omitempty"`
	Entries   map[string]*Entry `json:"entries"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func newScopeFile(scope, scopeKey string) *scopeFile {
	return &scopeFile{
		Version:  fileVersion,
		Scope:    scope,
		ScopeKey: scopeKey,
		Entries:  make(map[string]*Entry),
	}
}
