package runtree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/runkv/runstore"
)

// DeleteOptions controls DeleteTree.
type DeleteOptions struct {
	// ParentTag overrides DefaultParentTag.
	ParentTag string

	// ExperimentIDs restricts the child search. Empty means the root
	// run's experiment.
	ExperimentIDs []string

	// DryRun collects the tree without deleting anything.
	DryRun bool

	Log *slog.Logger
}

// DeleteTree deletes a run and all its descendants, children before
// parents. Runs that are no longer active are skipped with a log line.
// It returns the collected ids and the ids actually deleted.
func DeleteTree(ctx context.Context, client runstore.Client, runID string, opts DeleteOptions) (collected, deleted []string, err error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	root, err := client.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	tree, err := Children(ctx, client, []runstore.Run{root}, Options{
		ParentTag:     opts.ParentTag,
		ExperimentIDs: opts.ExperimentIDs,
		Log:           opts.Log,
	})
	if err != nil {
		return nil, nil, err
	}
	collected = FlattenIDs(tree, FlattenOptions{})

	if opts.DryRun {
		log.Info("dry run, nothing deleted", "collected", len(collected))
		return collected, nil, nil
	}

	for _, id := range collected {
		_, err := client.GetRun(ctx, id)
		if errors.Is(err, runstore.ErrDeleted) || errors.Is(err, runstore.ErrNotFound) {
			log.Warn("skipping run that is not active", "run_id", id, "error", err)
			continue
		}
		if err != nil {
			return collected, deleted, fmt.Errorf("get run %s: %w", id, err)
		}
		if err := client.DeleteRun(ctx, id); err != nil {
			return collected, deleted, fmt.Errorf("delete run %s: %w", id, err)
		}
		deleted = append(deleted, id)
	}
	return collected, deleted, nil
}
