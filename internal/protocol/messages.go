// Package protocol defines the messages exchanged between page collectors,
// the background relay and dashboard sessions.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Message types.
const (
	TypeInit                 = "init"
	TypeDeactivate           = "deactivate"
	TypeReload               = "reload"
	TypeMetricsUpdate        = "metrics-update"
	TypeAPIPerformanceUpdate = "api-performance-update"
	TypeToggleBanner         = "toggle-banner"
	TypeAck                  = "ack"
)

// PortDevtools is the channel name a dashboard session must declare.
const PortDevtools = "devtools"

// Ack statuses returned to content senders.
const (
	StatusForwarded    = "forwarded"
	StatusNoConnection = "no_connection"
)

// Handshake is sent by a dashboard session right after it connects.
type Handshake struct {
	Type          string `json:"type"`
	TabID         int    `json:"tabId"`
	ShouldRefresh bool   `json:"shouldRefresh"`
}

// Deactivate tells a collector to stop sending.
type Deactivate struct {
	Type string `json:"type"`
}

// Reload asks the tab to reload itself.
type Reload struct {
	Type        string `json:"type"`
	BypassCache bool   `json:"bypassCache"`
}

// ToggleBanner shows or hides the on-page banner.
type ToggleBanner struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// Ack answers a content message.
type Ack struct {
	Type   string `json:"type,omitempty"`
	Status string `json:"status"`
}

// Envelope is a typed message whose payload is kept raw.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PeekType returns the "type" discriminator without decoding the payload.
// It returns "" for invalid JSON or a missing type.
func PeekType(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, "type").String()
}

// DecodeHandshake decodes an init message.
func DecodeHandshake(raw []byte) (Handshake, error) {
	var hs Handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		return hs, fmt.Errorf("decode handshake: %w", err)
	}
	if hs.Type != TypeInit {
		return hs, fmt.Errorf("decode handshake: unexpected type %q", hs.Type)
	}
	return hs, nil
}

// DecodeEnvelope decodes a typed message, leaving the payload raw.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// DecodeToggleBanner decodes a toggle-banner message.
func DecodeToggleBanner(raw []byte) (ToggleBanner, error) {
	var tb ToggleBanner
	if err := json.Unmarshal(raw, &tb); err != nil {
		return tb, fmt.Errorf("decode toggle-banner: %w", err)
	}
	return tb, nil
}

// Encode marshals v, panicking only on programmer error (unmarshalable types).
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return data
}

// NewHandshake builds an init message.
func NewHandshake(tabID int, shouldRefresh bool) []byte {
	return Encode(Handshake{Type: TypeInit, TabID: tabID, ShouldRefresh: shouldRefresh})
}

// NewDeactivate builds a deactivate message.
func NewDeactivate() []byte {
	return Encode(Deactivate{Type: TypeDeactivate})
}

// NewReload builds a reload message.
func NewReload(bypassCache bool) []byte {
	return Encode(Reload{Type: TypeReload, BypassCache: bypassCache})
}

// NewToggleBanner builds a toggle-banner message.
func NewToggleBanner(visible bool) []byte {
	return Encode(ToggleBanner{Type: TypeToggleBanner, Visible: visible})
}

// NewAck builds an ack frame for a content channel.
func NewAck(status string) []byte {
	return Encode(Ack{Type: TypeAck, Status: status})
}
