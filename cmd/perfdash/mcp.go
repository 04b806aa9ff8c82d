package main

import (
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/config"
	"github.com/standardbeagle/perfdash/internal/dashboard"
	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/relay"
	"github.com/standardbeagle/perfdash/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve a tab's metrics to an MCP client over stdio",
	Long: `Serve a tab's metrics to an MCP client over stdio.

Keeps a dashboard session for the tab connected to the relay and exposes it
through the snapshot, panels, export, ask, prefs and relay tools.

Example MCP client configuration:
  {"command": "perfdash", "args": ["mcp", "--tab", "42"]}`,
	Run: runMCP,
}

var (
	mcpTab       int
	mcpAutoStart bool
)

func init() {
	mcpCmd.Flags().IntVar(&mcpTab, "tab", 0, "Browser tab id to serve")
	mcpCmd.Flags().BoolVar(&mcpAutoStart, "autostart", true, "Start a background relay if none is running")
	mcpCmd.MarkFlagRequired("tab")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	// stdout carries the protocol.
	debug.SetOutput(os.Stderr)

	if mcpAutoStart {
		if err := ensureRelay(ctx, cfg); err != nil {
			debug.Warn("mcp", "relay autostart: %v", err)
		}
	}

	prefs, err := openStore()
	if err != nil {
		debug.Warn("mcp", "%v", err)
	}

	sess := newSession(cfg, mcpTab, dashboard.SessionConfig{})
	defer sess.Board().Stop()

	fetcher, err := dashboard.NewStatusFetcher(cfg.Dashboard.RelayURL, config.Millis(cfg.Dashboard.StatusInterval), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid relay URL: %v\n", err)
		os.Exit(1)
	}
	fetcher.Start(ctx)
	defer fetcher.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	server := tools.NewServer("perfdash", relay.Version, tools.NewPerfTools(tools.Options{
		Watch:     sess,
		Assistant: newAssistant(cfg, sess.History()),
		Prefs:     prefs,
		Relay:     fetcher,
	}))

	debug.Info("mcp", "serving tab %d over stdio (relay %s)", mcpTab, cfg.Dashboard.RelayURL)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		debug.Error("mcp", "server error: %v", err)
	}

	cancel()
	<-done
}
