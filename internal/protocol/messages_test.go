package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"init", `{"type":"init","tabId":1}`, TypeInit},
		{"metrics", `{"data":{"fps":{"value":60}},"type":"metrics-update"}`, TypeMetricsUpdate},
		{"missing type", `{"tabId":1}`, ""},
		{"invalid json", `{"type":`, ""},
		{"not an object", `[1,2]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeekType([]byte(tt.raw)))
		})
	}
}

func TestDecodeHandshake(t *testing.T) {
	hs, err := DecodeHandshake(NewHandshake(42, true))
	require.NoError(t, err)
	assert.Equal(t, 42, hs.TabID)
	assert.True(t, hs.ShouldRefresh)

	_, err = DecodeHandshake([]byte(`{"type":"deactivate"}`))
	assert.Error(t, err)

	_, err = DecodeHandshake([]byte(`nope`))
	assert.Error(t, err)
}

func TestDecodeEnvelopeKeepsPayloadRaw(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"metrics-update","data":{"fps":{"value":58}}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMetricsUpdate, env.Type)
	assert.JSONEq(t, `{"fps":{"value":58}}`, string(env.Data))
}

func TestBuilders(t *testing.T) {
	assert.JSONEq(t, `{"type":"deactivate"}`, string(NewDeactivate()))
	assert.JSONEq(t, `{"type":"reload","bypassCache":true}`, string(NewReload(true)))
	assert.JSONEq(t, `{"type":"ack","status":"no_connection"}`, string(NewAck(StatusNoConnection)))

	tb, err := DecodeToggleBanner(NewToggleBanner(false))
	require.NoError(t, err)
	assert.Equal(t, TypeToggleBanner, tb.Type)
	assert.False(t, tb.Visible)
}
