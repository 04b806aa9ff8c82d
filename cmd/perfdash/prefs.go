package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/perfdash/internal/store"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write stored dashboard preferences",
	Long: `Read and write stored dashboard preferences.

Preferences live in three scopes: global, folder (a URL path prefix) and page
(a specific URL). Values are JSON; anything that isn't valid JSON is stored as
a string.

Examples:
  perfdash prefs list
  perfdash prefs get banner
  perfdash prefs set theme dark
  perfdash prefs set --scope page --url https://localhost:3000/cart budget '{"lcp":2500}'
  perfdash prefs delete theme`,
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored value",
	Args:  cobra.ExactArgs(1),
	Run:   runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value",
	Args:  cobra.ExactArgs(2),
	Run:   runPrefsSet,
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys",
	Run:   runPrefsList,
}

var prefsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a stored value",
	Args:  cobra.ExactArgs(1),
	Run:   runPrefsDelete,
}

var (
	prefsScope string
	prefsURL   string
)

func init() {
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsDeleteCmd)

	prefsCmd.PersistentFlags().StringVar(&prefsScope, "scope", store.ScopeGlobal, "Scope: global, folder, page")
	prefsCmd.PersistentFlags().StringVar(&prefsURL, "url", "", "Page URL the folder or page scope applies to")

	rootCmd.AddCommand(prefsCmd)
}

func prefsTarget() (*store.Store, string, error) {
	s, err := openStore()
	if err != nil {
		return nil, "", err
	}
	if prefsScope != store.ScopeGlobal && prefsURL == "" {
		return nil, "", fmt.Errorf("--url required for %s scope", prefsScope)
	}
	return s, store.ScopeKey(prefsScope, prefsURL), nil
}

// parseValue decodes raw as JSON, falling back to the plain string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func runPrefsGet(cmd *cobra.Command, args []string) {
	s, scopeKey, err := prefsTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	entry, err := s.Get(prefsScope, scopeKey, args[0])
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Key %q not found\n", args[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %q: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Println(string(entry.Value))
}

func runPrefsSet(cmd *cobra.Command, args []string) {
	s, scopeKey, err := prefsTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := s.Set(prefsScope, scopeKey, args[0], parseValue(args[1])); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store %q: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Printf("Stored %s\n", args[0])
}

func runPrefsList(cmd *cobra.Command, args []string) {
	s, scopeKey, err := prefsTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	entries, err := s.GetAll(prefsScope, scopeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list: %v\n", err)
		os.Exit(1)
	}
	keys, _ := s.List(prefsScope, scopeKey)
	if len(keys) == 0 {
		fmt.Println("No stored preferences")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	for _, k := range keys {
		e := entries[k]
		value := string(e.Value)
		if len(value) > 60 {
			value = value[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", k, value, time.Since(e.UpdatedAt).Round(time.Second).String()+" ago")
	}
	w.Flush()
}

func runPrefsDelete(cmd *cobra.Command, args []string) {
	s, scopeKey, err := prefsTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	err = s.Delete(prefsScope, scopeKey, args[0])
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Key %q not found\n", args[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to delete %q: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", args[0])
}
