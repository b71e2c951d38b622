package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/runkv"
	"github.com/animus-labs/runkv/config"
	"github.com/animus-labs/runkv/internal/platform/env"
	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/runtree"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		profilePath = flag.String("profile", env.String("RUNKV_PROFILE", ""), "YAML profile path (default: environment only)")
		experiment  = flag.String("experiment", env.String("RUNKV_EXPERIMENT", runkv.DefaultExperiment), "experiment holding the dictionary")
		name        = flag.String("name", env.String("RUNKV_DICT", runkv.DefaultName), "dictionary name")
		unfinished  = flag.Bool("unfinished", false, "include entries whose runs never finished")
		dryRun      = flag.Bool("dry-run", false, "rm-tree: collect run ids without deleting")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	command := args[0]
	if commandArgs(command) != len(args)-1 {
		usage()
		os.Exit(2)
	}

	profile, err := loadProfile(*profilePath)
	if err != nil {
		logger.Error("invalid profile", "error", err)
		os.Exit(2)
	}
	client, closeClient, err := config.Open(ctx, profile)
	if err != nil {
		logger.Error("open tracking backend", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeClient() }()

	switch command {
	case "keys":
		err = listKeys(ctx, client, logger, *experiment, *name, *unfinished)
	case "get":
		err = printEntry(ctx, client, logger, *experiment, *name, *unfinished, args[1])
	case "del":
		err = deleteEntry(ctx, client, logger, *experiment, *name, *unfinished, args[1])
	case "rm-tree":
		err = removeTree(ctx, client, logger, args[1], *dryRun)
	default:
		logger.Error("unknown command", "command", command)
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func commandArgs(command string) int {
	switch command {
	case "keys":
		return 0
	default:
		return 1
	}
}

func loadProfile(path string) (config.Profile, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func openDict(ctx context.Context, client runstore.Client, logger *slog.Logger, experiment, name string, unfinished, readOnly bool) (*runkv.Dict, error) {
	return runkv.New(ctx, runkv.Config{
		Client:            client,
		Experiment:        experiment,
		Name:              name,
		IncludeUnfinished: unfinished,
		ReadOnly:          readOnly,
		Log:               logger,
	})
}

func listKeys(ctx context.Context, client runstore.Client, logger *slog.Logger, experiment, name string, unfinished bool) error {
	d, err := openDict(ctx, client, logger, experiment, name, unfinished, true)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func printEntry(ctx context.Context, client runstore.Client, logger *slog.Logger, experiment, name string, unfinished bool, key string) error {
	d, err := openDict(ctx, client, logger, experiment, name, unfinished, true)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	value, err := d.Get(ctx, key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func deleteEntry(ctx context.Context, client runstore.Client, logger *slog.Logger, experiment, name string, unfinished bool, key string) error {
	d, err := openDict(ctx, client, logger, experiment, name, unfinished, false)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	if err := d.Delete(ctx, key); err != nil {
		return err
	}
	logger.Info("entry deleted", "name", name, "key", key)
	return nil
}

func removeTree(ctx context.Context, client runstore.Client, logger *slog.Logger, runID string, dryRun bool) error {
	collected, deleted, err := runtree.DeleteTree(ctx, client, runID, runtree.DeleteOptions{
		DryRun: dryRun,
		Log:    logger,
	})
	if err != nil {
		return err
	}
	for _, id := range collected {
		fmt.Println(id)
	}
	logger.Info("run tree processed", "root", runID, "collected", len(collected), "deleted", len(deleted), "dry_run", dryRun)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: runkv [flags] <command> [args]

Commands:
  keys              list dictionary keys
  get <key>         print an entry value as JSON
  del <key>         delete a dictionary entry
  rm-tree <run-id>  delete a run and all its descendants

Flags:
`)
	flag.PrintDefaults()
}
