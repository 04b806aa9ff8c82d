package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/assistant"
	"github.com/standardbeagle/perfdash/internal/config"
	"github.com/standardbeagle/perfdash/internal/dashboard"
	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a live dashboard for one tab",
	Long: `Open a live dashboard for one tab.

The dashboard redraws every interval. Type a command or a question and press
Enter:

  <Enter>   Pause or resume redrawing
  b         Toggle the on-page banner
  s         Save the current history for this page
  e         Export the history to a CSV file in the working directory
  ?         List suggested questions
  q         Quit
  anything else is asked to the metrics assistant

Examples:
  perfdash watch --tab 42
  perfdash watch --tab 42 --interval 500ms`,
	Run: runWatch,
}

var (
	watchTab       int
	watchInterval  time.Duration
	watchAutoStart bool
)

func init() {
	watchCmd.Flags().IntVar(&watchTab, "tab", 0, "Browser tab id to watch")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Redraw interval")
	watchCmd.Flags().BoolVar(&watchAutoStart, "autostart", false, "Start a background relay if none is running")
	watchCmd.MarkFlagRequired("tab")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	// Logs would tear the dashboard; keep them in the log file only.
	debug.SetOutput(io.Discard)

	if watchAutoStart {
		if err := ensureRelay(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Relay autostart failed: %v\n", err)
			os.Exit(1)
		}
	}

	prefs, err := openStore()
	if err != nil {
		debug.Warn("watch", "%v", err)
	}

	sess := newSession(cfg, watchTab, dashboard.SessionConfig{})
	defer sess.Board().Stop()

	fetcher, err := dashboard.NewStatusFetcher(cfg.Dashboard.RelayURL, config.Millis(cfg.Dashboard.StatusInterval), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid relay URL: %v\n", err)
		os.Exit(1)
	}
	fetcher.Start(ctx)
	defer fetcher.Stop()

	screen := dashboard.NewScreen(os.Stdout)
	renderer := dashboard.NewRenderer(screen, dashboard.TerminalWidth(int(os.Stdout.Fd())))
	renderer.ClearScreen = true

	w := &watcher{
		session:   sess,
		assistant: newAssistant(cfg, sess.History()),
		prefs:     prefs,
		fetcher:   fetcher,
		screen:    screen,
		renderer:  renderer,
		exportDir: ".",
		now:       time.Now,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	w.redraw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.redraw()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if w.handle(ctx, line) {
				return
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// watcher drives one interactive dashboard.
type watcher struct {
	session   *dashboard.Session
	assistant *assistant.Assistant
	prefs     *store.Store
	fetcher   *dashboard.StatusFetcher
	screen    *dashboard.Screen
	renderer  *dashboard.Renderer
	exportDir string
	now       func() time.Time
}

func (w *watcher) redraw() {
	var relayStatus dashboard.RelayStatus
	if w.fetcher != nil {
		relayStatus = w.fetcher.Status()
	}
	frame := dashboard.FrameFromSession(w.session, relayStatus)
	frame.Paused = w.screen.Paused()
	if err := w.renderer.Render(frame); err != nil {
		debug.Warn("watch", "render: %v", err)
	}
}

// hold keeps msg on screen until Enter.
func (w *watcher) hold(msg string) {
	if err := w.screen.Hold(msg); err != nil {
		debug.Warn("watch", "write: %v", err)
	}
}

// handle runs one input line and reports whether to quit.
func (w *watcher) handle(ctx context.Context, line string) bool {
	cmd := strings.TrimSpace(line)
	switch strings.ToLower(cmd) {
	case "q", "quit", "exit":
		return true
	case "":
		if w.screen.Resume() {
			w.redraw()
		} else if err := w.screen.Pause(); err != nil {
			debug.Warn("watch", "write: %v", err)
		}
	case "b":
		w.hold(w.toggleBanner())
	case "s":
		w.hold(w.saveMetrics())
	case "e":
		w.hold(w.exportCSV())
	case "?", "help":
		w.hold(formatResponse(w.assistant.Help()))
	default:
		w.hold(formatResponse(w.assistant.Ask(ctx, cmd)))
	}
	return false
}

func (w *watcher) toggleBanner() string {
	visible := true
	if w.prefs != nil {
		if prefs, err := w.prefs.Banner(); err == nil {
			visible = prefs.Visible
		}
	}
	visible = !visible

	if err := w.session.SetBannerVisible(visible); err != nil {
		return fmt.Sprintf("Banner not changed: %v", err)
	}
	if w.prefs != nil {
		if err := w.prefs.SetBannerVisible(visible); err != nil {
			debug.Warn("watch", "save banner preference: %v", err)
		}
	}
	if visible {
		return "Banner shown."
	}
	return "Banner hidden."
}

func (w *watcher) saveMetrics() string {
	if w.prefs == nil {
		return "Preferences store unavailable."
	}
	pageURL := w.session.PageURL()
	snaps := w.session.History().Snapshots()
	if pageURL == "" || len(snaps) == 0 {
		return "Nothing to save yet."
	}
	if err := w.prefs.SaveMetrics(pageURL, snaps); err != nil {
		return fmt.Sprintf("Save failed: %v", err)
	}
	return fmt.Sprintf("Saved %d snapshots for %s.", len(snaps), store.NormalizeURL(pageURL))
}

func (w *watcher) exportCSV() string {
	snaps := w.session.History().Snapshots()
	if len(snaps) == 0 {
		return "Nothing to export yet."
	}
	name := fmt.Sprintf("perfdash-tab-%d-%s.csv", w.session.TabID(), w.now().Format("20060102-150405"))
	path := filepath.Join(w.exportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Sprintf("Export failed: %v", err)
	}
	err = errors.Join(metrics.WriteCSV(f, snaps), f.Close())
	if err != nil {
		return fmt.Sprintf("Export failed: %v", err)
	}
	return fmt.Sprintf("Exported %d snapshots to %s.", len(snaps), path)
}

func formatResponse(resp assistant.Response) string {
	var b strings.Builder
	b.WriteString(resp.Message)
	for _, s := range resp.Suggestions {
		b.WriteString("\n  - " + s)
	}
	if len(resp.FollowUps) > 0 {
		b.WriteString("\n\nYou might also ask:")
		for _, f := range resp.FollowUps {
			b.WriteString("\n  - " + f)
		}
	}
	return b.String()
}
