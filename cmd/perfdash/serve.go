package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/config"
	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay between page collectors and dashboards",
	Long: `Run the relay between page collectors and dashboards.

Endpoints:
  GET    /connect?name=devtools   Dashboard WebSocket (sends init first)
  GET    /content?tab=<id>        Collector WebSocket, each message is acked
  POST   /message?tab=<id>        One-shot collector message, JSON ack
  DELETE /tabs/{id}               Tab closed
  GET    /status                  Registry status
  GET    /metrics                 Prometheus metrics

Examples:
  perfdash serve
  perfdash serve --addr 127.0.0.1:9300`,
	Run: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:9229)")
	rootCmd.AddCommand(serveCmd)
}

func relayConfig(c *config.Config) relay.Config {
	rc := relay.DefaultConfig()
	rc.Addr = c.Relay.Listen
	rc.SendQueue = c.Relay.SendQueue
	rc.WriteTimeout = config.Millis(c.Relay.WriteTimeout)
	rc.PingInterval = config.Millis(c.Relay.PingInterval)
	if serveAddr != "" {
		rc.Addr = serveAddr
	}
	return rc
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	srv := relay.New(relayConfig(cfg))
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start relay: %v\n", err)
		os.Exit(1)
	}
	debug.Info("serve", "relay %s listening on %s", relay.Version, srv.Addr())

	<-ctx.Done()
	debug.Info("serve", "shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Relay shutdown: %v\n", err)
		os.Exit(1)
	}
}
