package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/wssh/internal/config"
	"github.com/pseudocoder/wssh/internal/form"
	"github.com/pseudocoder/wssh/internal/storage"
)

// storeFlags registers the flags shared by the commands that read the
// field store.
func storeFlags(fs *flag.FlagSet) (configPath, storePath *string) {
	configPath = fs.String("config", "", "Path to config file (default: ~/.wssh/config.toml)")
	storePath = fs.String("store", "", "Path to the field and history store (default: ~/.wssh/wssh.db)")
	return configPath, storePath
}

// openStoreForCommand resolves the store path (flag, then config file, then
// default) and opens it. Nothing is created when no store exists yet.
func openStoreForCommand(configPath, storePath string) (*storage.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		cfg.Store = storePath
	}
	cfg.ApplyDefaults()

	if _, err := os.Stat(cfg.Store); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return storage.NewSQLiteStore(cfg.Store)
}

func runFieldsList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fields list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, storePath := storeFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh fields list [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, err := openStoreForCommand(*configPath, *storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(stdout, "No remembered fields.")
		return 0
	}
	defer store.Close()

	fields, err := store.Fields()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read fields: %v\n", err)
		return 1
	}
	if len(fields) == 0 {
		fmt.Fprintln(stdout, "No remembered fields.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE\tUPDATED")
	for _, f := range fields {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Value, f.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return 0
}

func runFieldsClear(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fields clear", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, storePath := storeFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh fields clear [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, err := openStoreForCommand(*configPath, *storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(stdout, "Nothing to clear.")
		return 0
	}
	defer store.Close()

	for _, name := range form.PersistedFields {
		if err := store.RemoveItem(name); err != nil {
			fmt.Fprintf(stderr, "Error: failed to clear %s: %v\n", name, err)
			return 1
		}
	}
	fmt.Fprintln(stdout, "Remembered fields cleared.")
	return 0
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, storePath := storeFlags(fs)
	limit := fs.Int("limit", 10, "Number of sessions to show")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh history [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, err := openStoreForCommand(*configPath, *storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(stdout, "No sessions yet.")
		return 0
	}
	defer store.Close()

	sessions, err := store.ListSessions(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read history: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions yet.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSESSION\tDURATION\tREASON")
	for _, s := range sessions {
		duration := "open"
		if !s.Open() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.StartedAt.Local().Format(time.DateTime), s.Title, duration, s.Reason)
	}
	w.Flush()
	return 0
}
