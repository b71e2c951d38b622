package runkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/stage"
)

// SyncMode controls how much state is refreshed from the backend per
// operation.
type SyncMode string

const (
	// SyncNone answers key enumeration from the last-known local key
	// set and never revalidates cached values.
	SyncNone SyncMode = "none"

	// SyncKeys refreshes the key set from the backend before key
	// enumeration. Cached values are served as-is. The default.
	SyncKeys SyncMode = "keys"

	// SyncFull additionally compares the cached write timestamp
	// against the backend on every cached Get and re-downloads when
	// the backend is newer.
	SyncFull SyncMode = "full"
)

const (
	DefaultExperiment = "default"
	DefaultName       = "default"
	DefaultTagPrefix  = "_runkv"
)

type Config struct {
	// Client is the run store backend. Required.
	Client runstore.Client

	// Manager handles artifact transport. When nil a private manager
	// over a fresh temporary scratch directory is created.
	Manager *stage.Manager

	// Experiment is the backend experiment name, created if absent.
	Experiment string

	// Name partitions runs sharing an experiment into logically
	// separate dictionaries.
	Name string

	// TagPrefix namespaces the reserved entry tags.
	TagPrefix string

	// ExtraTags are applied to every entry run on write.
	ExtraTags map[string]string

	// Serializer turns values into payload bytes. Nil means
	// JSONSerializer; NopSerializer stores metadata only.
	Serializer Serializer

	// EntryLogger is invoked after every successful write.
	EntryLogger EntryLogger

	// Sync defaults to SyncKeys.
	Sync SyncMode

	// NoCache disables the local value cache.
	NoCache bool

	// EagerCache fills the value cache at construction instead of
	// lazily on Get.
	EagerCache bool

	// ReadOnly rejects Set and Delete without touching the backend.
	ReadOnly bool

	// IncludeUnfinished lifts the default restriction of key
	// discovery to FINISHED runs.
	IncludeUnfinished bool

	// Default, when set, is invoked instead of failing a Get on a
	// missing key.
	Default func(ctx context.Context, key string) (any, error)

	// MaxEntries caps the key count; writes beyond it fail with
	// ErrCapacity. Defaults to runstore.MaxSearchResults, which is
	// also the hard upper bound.
	MaxEntries int

	Log *slog.Logger
}

func (c Config) validate() error {
	if c.Client == nil {
		return errors.New("run store client is required")
	}
	switch c.Sync {
	case "", SyncNone, SyncKeys, SyncFull:
	default:
		return fmt.Errorf("unknown sync mode %q", c.Sync)
	}
	if c.MaxEntries > runstore.MaxSearchResults {
		return fmt.Errorf("max entries %d exceeds search limit %d", c.MaxEntries, runstore.MaxSearchResults)
	}
	return nil
}
