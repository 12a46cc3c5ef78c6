package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tdzsx789/xufei-agent/server/internal/store"
)

var errUsage = errors.New("usage")

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	handled, err := runCLI(context.Background(), args, dbPath, os.Stdout)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
	return handled
}

func runCLI(ctx context.Context, args []string, dbPath string, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "xufei-server %s\n", Version)
		return true, nil
	case "status":
		return true, withStore(dbPath, func(st *store.Store) error { return cliStatus(ctx, st, dbPath, out) })
	case "uploads":
		return true, withStore(dbPath, func(st *store.Store) error { return cliUploads(ctx, st, out) })
	case "settings":
		return true, withStore(dbPath, func(st *store.Store) error { return cliSettings(ctx, st, args[1:], out) })
	case "backup":
		return true, withStore(dbPath, func(st *store.Store) error { return cliBackup(ctx, st, args[1:], out) })
	default:
		return false, nil
	}
}

func withStore(dbPath string, fn func(*store.Store) error) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func cliStatus(ctx context.Context, st *store.Store, dbPath string, out io.Writer) error {
	n, err := st.UploadCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database: %s\n", dbPath)
	fmt.Fprintf(out, "Uploads: %d\n", n)
	fmt.Fprintf(out, "Version: %s\n", Version)
	return nil
}

func cliUploads(ctx context.Context, st *store.Store, out io.Writer) error {
	uploads, err := st.RecentUploads(ctx, recentUploadsLimit)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		fmt.Fprintln(out, "No uploads recorded.")
		return nil
	}
	for _, u := range uploads {
		fmt.Fprintf(out, "  %s  %-40s %8d  %s\n",
			u.UploadedAt.Local().Format(time.DateTime), u.FileName, u.SizeBytes, u.ContentType)
	}
	return nil
}

func cliSettings(ctx context.Context, st *store.Store, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "list" {
		settings, err := st.AllSettings(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		if err := st.SetSetting(ctx, key, value); err != nil {
			return err
		}
		fmt.Fprintf(out, "Set %s = %s\n", key, value)
		return nil
	}

	return fmt.Errorf("%w: xufei-server settings [list|set <key> <value>]", errUsage)
}

func cliBackup(ctx context.Context, st *store.Store, args []string, out io.Writer) error {
	outPath := defaultBackupPath
	if len(args) > 0 {
		outPath = args[0]
	}
	if err := st.Backup(ctx, outPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(out, "Database backed up to %s\n", outPath)
	return nil
}
