package relay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAutoStartConfig(t *testing.T) {
	config := DefaultAutoStartConfig()

	assert.Equal(t, "127.0.0.1:9229", config.Addr)
	assert.NotZero(t, config.StartTimeout)
	assert.NotZero(t, config.RetryInterval)
	assert.NotZero(t, config.MaxRetries)
}

func TestAddrFromURL(t *testing.T) {
	addr, err := AddrFromURL("ws://127.0.0.1:9300")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9300", addr)

	_, err = AddrFromURL("not a url")
	assert.Error(t, err)
}

func TestIsRunning(t *testing.T) {
	r := startRelay(t)
	addr := strings.TrimPrefix(r.ts.URL, "http://")

	assert.True(t, IsRunning(context.Background(), addr))
	assert.False(t, IsRunning(context.Background(), "127.0.0.1:1"))
}

func TestEnsureRunningAlreadyUp(t *testing.T) {
	var spawned atomic.Bool
	started, err := EnsureRunning(context.Background(), AutoStartConfig{
		Probe: func(context.Context, string) bool { return true },
		Spawn: func(string, string) error { spawned.Store(true); return nil },
	})
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, spawned.Load())
}

func TestEnsureRunningSpawnsAndWaits(t *testing.T) {
	var probes atomic.Int32
	var gotPath, gotAddr string
	started, err := EnsureRunning(context.Background(), AutoStartConfig{
		Addr:          "127.0.0.1:9333",
		RelayPath:     "/opt/perfdash",
		RetryInterval: time.Millisecond,
		Probe: func(context.Context, string) bool {
			return probes.Add(1) >= 3
		},
		Spawn: func(path, addr string) error {
			gotPath, gotAddr = path, addr
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "/opt/perfdash", gotPath)
	assert.Equal(t, "127.0.0.1:9333", gotAddr)
	assert.Equal(t, int32(3), probes.Load())
}

func TestEnsureRunningGivesUp(t *testing.T) {
	started, err := EnsureRunning(context.Background(), AutoStartConfig{
		RelayPath:     "/opt/perfdash",
		RetryInterval: time.Millisecond,
		MaxRetries:    3,
		Probe:         func(context.Context, string) bool { return false },
		Spawn:         func(string, string) error { return nil },
	})
	assert.True(t, started)
	assert.ErrorIs(t, err, ErrStartTimeout)
}

func TestEnsureRunningSpawnError(t *testing.T) {
	boom := errors.New("no such binary")
	started, err := EnsureRunning(context.Background(), AutoStartConfig{
		RelayPath: "/opt/perfdash",
		Probe:     func(context.Context, string) bool { return false },
		Spawn:     func(string, string) error { return boom },
	})
	assert.False(t, started)
	assert.ErrorIs(t, err, boom)
}
