package main

import (
	"context"
	"fmt"

	"github.com/standardbeagle/perfdash/internal/assistant"
	"github.com/standardbeagle/perfdash/internal/config"
	"github.com/standardbeagle/perfdash/internal/dashboard"
	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/panel"
	"github.com/standardbeagle/perfdash/internal/relay"
	"github.com/standardbeagle/perfdash/internal/store"
)

func panelPolicy(pc *config.PanelConfig) panel.Policy {
	return panel.Policy{
		Timeout:       config.Millis(pc.Timeout),
		CheckInterval: config.Millis(pc.CheckInterval),
		CheckDisabled: pc.CheckDisabled,
	}
}

// newBoard mounts the panel catalog with the configured liveness policies.
func newBoard(c *config.Config, onChange func(name string, from, to panel.State)) *panel.Board {
	overrides := make(map[string]panel.Policy, len(c.Panels))
	for name, pc := range c.Panels {
		if pc == nil {
			continue
		}
		p := panelPolicy(pc)
		if p.Timeout <= 0 {
			p.Timeout = config.Millis(c.PanelDefaults.Timeout)
		}
		if p.CheckInterval <= 0 {
			p.CheckInterval = config.Millis(c.PanelDefaults.CheckInterval)
		}
		overrides[name] = p
	}
	return panel.NewBoard(panel.BoardConfig{
		Default:       panelPolicy(c.PanelDefaults),
		Overrides:     overrides,
		OnStateChange: onChange,
	})
}

// newSession builds a dashboard session for tab from the config.
func newSession(c *config.Config, tab int, sc dashboard.SessionConfig) *dashboard.Session {
	sc.RelayURL = c.Dashboard.RelayURL
	sc.TabID = tab
	sc.RefreshOnConnect = c.Dashboard.RefreshOnConnect
	sc.ReconnectDelay = config.Millis(c.Dashboard.ReconnectDelay)
	if sc.History == nil {
		sc.History = metrics.NewHistory(c.Dashboard.HistoryPoints)
	}
	if sc.Board == nil {
		sc.Board = newBoard(c, func(name string, from, to panel.State) {
			debug.Log("panel", "tab %d: %s %s -> %s", tab, name, from, to)
		})
	}
	return dashboard.NewSession(sc)
}

// newAssistant answers from history, with the Claude fallback when an API
// key is configured.
func newAssistant(c *config.Config, history *metrics.History) *assistant.Assistant {
	var fallback assistant.Fallback
	if c.Assistant.Fallback && c.AnthropicKey != "" {
		f, err := assistant.NewClaudeFallback(assistant.ClaudeConfig{
			APIKey:    c.AnthropicKey,
			Model:     c.Assistant.Model,
			MaxTokens: c.Assistant.MaxTokens,
		})
		if err != nil {
			debug.Warn("assistant", "fallback disabled: %v", err)
		} else {
			fallback = f
		}
	}
	return assistant.New(history, fallback)
}

func openStore() (*store.Store, error) {
	dir, err := store.DefaultDir()
	if err != nil {
		return nil, fmt.Errorf("preferences store: %w", err)
	}
	return store.New(dir), nil
}

// ensureRelay starts a background relay for the configured URL when none
// answers.
func ensureRelay(ctx context.Context, c *config.Config) error {
	addr, err := relay.AddrFromURL(c.Dashboard.RelayURL)
	if err != nil {
		return err
	}
	started, err := relay.EnsureRunning(ctx, relay.AutoStartConfig{Addr: addr})
	if err != nil {
		return err
	}
	if started {
		debug.Info("relay", "started background relay on %s", addr)
	}
	return nil
}
