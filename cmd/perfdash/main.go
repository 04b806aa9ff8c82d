// Command perfdash relays live page performance metrics from browser tabs
// to terminal dashboards and MCP clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/config"
	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/relay"
)

var (
	flagDebug    bool
	flagLogLevel string
	flagLogFile  string
	flagConfig   string
	flagRelayURL string

	// cfg is loaded once by the root command's pre-run.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "perfdash",
	Short: "Live page performance dashboard",
	Long: `perfdash streams performance metrics collected inside browser tabs to
terminal dashboards and MCP clients.

'perfdash serve' runs the relay the page collectors connect to. 'perfdash
watch --tab N' opens a dashboard for one tab, 'perfdash mcp --tab N' exposes
the same tab to an MCP client over stdio.

Configuration is read from .perfdash.kdl (searched upward from the working
directory) and .env; flags override both.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("perfdash %s", relay.Version)
		if relay.GitCommit != "" {
			fmt.Printf(" (%s)", relay.GitCommit)
		}
		fmt.Println()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&flagLogFile, "log-file", "", "Also write logs to this file in the user cache dir")
	pf.StringVar(&flagConfig, "config", "", "Config file (default: .perfdash.kdl searched upward)")
	pf.StringVar(&flagRelayURL, "relay", "", "Relay URL for dashboard commands (default from config)")

	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if flagDebug {
		debug.Enable()
	}
	if flagLogLevel != "" {
		if err := debug.SetLevel(flagLogLevel); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if flagLogFile != "" {
		if err := debug.SetLogFile(flagLogFile); err != nil {
			return err
		}
	}

	loaded, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagRelayURL != "" {
		loaded.Dashboard.RelayURL = flagRelayURL
	}
	cfg = loaded
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadPath(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(cwd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		debug.Close()
		os.Exit(1)
	}
}
