package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/dashboard"
	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a tab's metrics as CSV or JSON",
	Long: `Export a tab's metrics as CSV or JSON.

Connects to the relay, collects snapshots for the tab until --samples have
arrived or --timeout elapses, then writes them. With --saved, exports the
snapshots saved for a page instead (see 's' in 'perfdash watch').

Examples:
  perfdash export --tab 42 > metrics.csv
  perfdash export --tab 42 --format json --samples 30 --out metrics.json
  perfdash export --saved https://localhost:3000/checkout`,
	Run: runExport,
}

var (
	exportTab     int
	exportFormat  string
	exportSamples int
	exportTimeout time.Duration
	exportOut     string
	exportSaved   string
)

func init() {
	f := exportCmd.Flags()
	f.IntVar(&exportTab, "tab", 0, "Browser tab id")
	f.StringVar(&exportFormat, "format", "csv", "Output format: csv or json")
	f.IntVar(&exportSamples, "samples", 10, "Snapshots to collect before writing")
	f.DurationVar(&exportTimeout, "timeout", 30*time.Second, "Stop collecting after this long")
	f.StringVar(&exportOut, "out", "", "Output file (default: stdout)")
	f.StringVar(&exportSaved, "saved", "", "Export metrics saved for this page URL instead of collecting")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	if exportFormat != "csv" && exportFormat != "json" {
		fmt.Fprintf(os.Stderr, "Unknown format %q (use csv or json)\n", exportFormat)
		os.Exit(1)
	}

	var (
		snaps []*metrics.Snapshot
		err   error
	)
	if exportSaved != "" {
		snaps, err = loadSaved(exportSaved)
	} else {
		if !cmd.Flags().Changed("tab") {
			fmt.Fprintln(os.Stderr, "Error: --tab or --saved required")
			os.Exit(1)
		}
		snaps, err = collect(exportTab, exportSamples, exportTimeout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	out := io.Writer(os.Stdout)
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", exportOut, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := writeExport(out, exportFormat, exportTab, snaps, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, "Wrote %d snapshots to %s\n", len(snaps), exportOut)
	}
}

func writeExport(w io.Writer, format string, tab int, snaps []*metrics.Snapshot, now time.Time) error {
	switch format {
	case "csv":
		return metrics.WriteCSV(w, snaps)
	case "json":
		return metrics.WriteJSON(w, tab, snaps, now)
	}
	return fmt.Errorf("unknown format %q", format)
}

func loadSaved(pageURL string) ([]*metrics.Snapshot, error) {
	prefs, err := openStore()
	if err != nil {
		return nil, err
	}
	saved, err := prefs.LoadMetrics(pageURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no metrics saved for %s", store.NormalizeURL(pageURL))
	}
	if err != nil {
		return nil, err
	}
	return saved.Snapshots, nil
}

// collect runs a session until samples snapshots arrive or timeout elapses.
func collect(tab, samples int, timeout time.Duration) ([]*metrics.Snapshot, error) {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	enough := make(chan struct{})
	var count int
	sess := newSession(cfg, tab, dashboard.SessionConfig{
		History: metrics.NewHistory(max(samples, cfg.Dashboard.HistoryPoints)),
		OnSnapshot: func(*metrics.Snapshot) {
			count++
			if count == samples {
				close(enough)
			}
		},
	})
	defer sess.Board().Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	select {
	case <-enough:
	case <-ctx.Done():
	}
	cancel()
	<-done

	snaps := sess.History().Snapshots()
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshots received for tab %d within %s", tab, timeout)
	}
	return snaps, nil
}
