package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/standardbeagle/perfdash/internal/debug"
)

// ErrStartTimeout is returned when a spawned relay never answers.
var ErrStartTimeout = errors.New("relay did not come up in time")

// AutoStartConfig configures starting a background relay when none answers.
type AutoStartConfig struct {
	// Addr is the host:port the relay listens on.
	Addr string

	// RelayPath is the perfdash binary. Default: os.Executable()
	RelayPath string

	StartTimeout  time.Duration
	RetryInterval time.Duration
	MaxRetries    int

	// Probe reports whether a relay answers at addr. Default: IsRunning
	Probe func(ctx context.Context, addr string) bool

	// Spawn starts the relay process. Default: RelayPath serve --addr Addr,
	// detached from the caller's session.
	Spawn func(path, addr string) error
}

// DefaultAutoStartConfig returns the default autostart configuration.
func DefaultAutoStartConfig() AutoStartConfig {
	return AutoStartConfig{
		Addr:          DefaultConfig().Addr,
		StartTimeout:  5 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    50,
	}
}

// AddrFromURL extracts host:port from a relay URL.
func AddrFromURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url %q has no host", relayURL)
	}
	return u.Host, nil
}

// IsRunning reports whether a relay answers its status endpoint at addr.
func IsRunning(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureRunning starts a relay unless one already answers at cfg.Addr, then
// waits for it. It reports whether a relay was started.
func EnsureRunning(ctx context.Context, cfg AutoStartConfig) (bool, error) {
	def := DefaultAutoStartConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Probe == nil {
		cfg.Probe = IsRunning
	}
	if cfg.Spawn == nil {
		cfg.Spawn = spawnRelay
	}

	if cfg.Probe(ctx, cfg.Addr) {
		return false, nil
	}

	path := cfg.RelayPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return false, fmt.Errorf("locate perfdash binary: %w", err)
		}
		path = exe
	}

	debug.Info("relay", "no relay at %s, starting %s", cfg.Addr, path)
	if err := cfg.Spawn(path, cfg.Addr); err != nil {
		return false, fmt.Errorf("start relay: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(cfg.RetryInterval)
	defer ticker.Stop()

	for i := 0; i < cfg.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return true, fmt.Errorf("%w: %v", ErrStartTimeout, ctx.Err())
		case <-ticker.C:
		}
		if cfg.Probe(ctx, cfg.Addr) {
			debug.Info("relay", "relay up at %s", cfg.Addr)
			return true, nil
		}
	}
	return true, ErrStartTimeout
}

func spawnRelay(path, addr string) error {
	cmd := exec.Command(path, "serve", "--addr", addr)
	cmd.SysProcAttr = detachedProcAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
