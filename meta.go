package runkv

import (
	"context"

	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/stage"
)

// Meta bundles a value with extra run metadata to attach on write.
// Set detects Meta (and *Meta) by type assertion; the wrapped Value is
// what gets serialized and returned by Get.
type Meta struct {
	Value   any
	Tags    map[string]string
	Params  map[string]string
	Metrics map[string]float64

	// Status is the terminal status stamped on the entry run.
	// Defaults to FINISHED.
	Status runstore.RunStatus

	// Update reuses the existing run for the key and merges metadata
	// on top of prior metadata instead of replacing the run.
	Update bool
}

// EntryLogger is invoked after every successful write to attach extra
// logging to the entry's run.
type EntryLogger interface {
	LogEntry(ctx context.Context, client runstore.Client, manager *stage.Manager, run runstore.Run, key string, value any) error
}

// EntryLoggerFunc adapts a plain function to EntryLogger.
type EntryLoggerFunc func(ctx context.Context, client runstore.Client, manager *stage.Manager, run runstore.Run, key string, value any) error

func (f EntryLoggerFunc) LogEntry(ctx context.Context, client runstore.Client, manager *stage.Manager, run runstore.Run, key string, value any) error {
	return f(ctx, client, manager, run, key, value)
}
