package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the perfdash configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a documented default .perfdash.kdl",
	Args:  cobra.MaximumNArgs(1),
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run:   runConfigShow,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	path := filepath.Join(dir, config.ConfigFileName)

	if _, err := os.Stat(path); err == nil && !configInitForce {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	source := config.FindConfigFile(".")
	if flagConfig != "" {
		source = flagConfig
	}
	if source == "" {
		source = "(defaults)"
	}
	fmt.Printf("config:          %s\n", source)
	fmt.Printf("relay listen:    %s\n", cfg.Relay.Listen)
	fmt.Printf("relay url:       %s\n", cfg.Dashboard.RelayURL)
	fmt.Printf("history points:  %d\n", cfg.Dashboard.HistoryPoints)
	fmt.Printf("panel timeout:   %s\n", config.Millis(cfg.PanelDefaults.Timeout))
	fmt.Printf("panel overrides: %d\n", len(cfg.Panels))
	fmt.Printf("llm fallback:    %t (api key set: %t)\n", cfg.Assistant.Fallback, cfg.AnthropicKey != "")
}
