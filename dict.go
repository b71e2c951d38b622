// Package runkv exposes a key to value mapping whose storage is a
// named partition of a run-tracking backend. Every entry is one run
// carrying reserved tags for identity and ordering plus one payload
// artifact; the dictionary layers caching, staleness control, and a
// capacity guard on top.
package runkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/stage"
)

const (
	classValue  = "runkv.dict"
	payloadBase = "value"

	suffixClass      = "_class"
	suffixName       = "_name"
	suffixKey        = "_key"
	suffixTimestamp  = "_timestamp"
	suffixItemSource = "_item_source"
)

type cacheEntry struct {
	value any
	ts    int64
}

// Dict is a remote-backed dictionary. It is not safe for concurrent
// use; see the sync modes for cross-instance visibility.
type Dict struct {
	client            runstore.Client
	manager           *stage.Manager
	ownManager        bool
	experiment        string
	expID             string
	name              string
	prefix            string
	extraTags         map[string]string
	ser               Serializer
	entryLog          EntryLogger
	sync              SyncMode
	noCache           bool
	readOnly          bool
	includeUnfinished bool
	defaultFn         func(context.Context, string) (any, error)
	maxEntries        int
	log               *slog.Logger

	keys  map[string]bool
	cache map[string]cacheEntry
}

// New resolves the experiment, loads the current key set, and
// optionally fills the value cache.
func New(ctx context.Context, cfg Config) (*Dict, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Dict{
		client:            cfg.Client,
		manager:           cfg.Manager,
		experiment:        cfg.Experiment,
		name:              cfg.Name,
		prefix:            cfg.TagPrefix,
		extraTags:         cfg.ExtraTags,
		ser:               cfg.Serializer,
		entryLog:          cfg.EntryLogger,
		sync:              cfg.Sync,
		noCache:           cfg.NoCache,
		readOnly:          cfg.ReadOnly,
		includeUnfinished: cfg.IncludeUnfinished,
		defaultFn:         cfg.Default,
		maxEntries:        cfg.MaxEntries,
		log:               cfg.Log,
		keys:              map[string]bool{},
		cache:             map[string]cacheEntry{},
	}
	if d.experiment == "" {
		d.experiment = DefaultExperiment
	}
	if d.name == "" {
		d.name = DefaultName
	}
	if d.prefix == "" {
		d.prefix = DefaultTagPrefix
	}
	if d.ser == nil {
		d.ser = JSONSerializer{}
	}
	if d.sync == "" {
		d.sync = SyncKeys
	}
	if d.maxEntries <= 0 {
		d.maxEntries = runstore.MaxSearchResults
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.manager == nil {
		m, err := stage.NewManager(cfg.Client, stage.WithLogger(d.log))
		if err != nil {
			return nil, err
		}
		d.manager = m
		d.ownManager = true
	}

	expID, err := d.client.GetOrCreateExperiment(ctx, d.experiment)
	if err != nil {
		return nil, fmt.Errorf("resolve experiment %q: %w", d.experiment, err)
	}
	d.expID = expID

	if err := d.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if cfg.EagerCache && !d.noCache {
		if err := d.FillCache(ctx); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Close releases the private artifact manager's scratch directory. A
// caller-supplied manager is left alone.
func (d *Dict) Close() error {
	if d.ownManager {
		return d.manager.Cleanup()
	}
	return nil
}

// Name returns the dictionary name.
func (d *Dict) Name() string { return d.name }

// ExperimentID returns the resolved backend experiment id.
func (d *Dict) ExperimentID() string { return d.expID }

func (d *Dict) tag(suffix string) string {
	return d.prefix + "." + suffix
}

func (d *Dict) baseFilter() runstore.Filter {
	return runstore.Filter{
		Tags: map[string]string{
			d.tag(suffixClass): classValue,
			d.tag(suffixName):  d.name,
		},
		OnlyFinished: !d.includeUnfinished,
	}
}

// readKeyFilter restricts to runs the dictionary considers live.
func (d *Dict) readKeyFilter(key string) runstore.Filter {
	f := d.baseFilter()
	f.Tags[d.tag(suffixKey)] = key
	return f
}

// writeKeyFilter sees every active run for the key regardless of
// status, so replace and delete also clear half-written entries.
func (d *Dict) writeKeyFilter(key string) runstore.Filter {
	f := d.baseFilter()
	f.Tags[d.tag(suffixKey)] = key
	f.OnlyFinished = false
	return f
}

func (d *Dict) refreshKeys(ctx context.Context) error {
	runs, err := d.client.SearchRuns(ctx, d.expID, d.baseFilter(), runstore.MaxSearchResults)
	if err != nil {
		return fmt.Errorf("refresh keys: %w", err)
	}
	keys := make(map[string]bool, len(runs))
	for _, run := range runs {
		if key, ok := run.Tags[d.tag(suffixKey)]; ok {
			keys[key] = true
		}
	}
	for key := range d.cache {
		if !keys[key] {
			delete(d.cache, key)
		}
	}
	d.keys = keys
	return nil
}

// liveRun resolves the unique live run for a key.
func (d *Dict) liveRun(ctx context.Context, key string) (runstore.Run, error) {
	runs, err := d.client.SearchRuns(ctx, d.expID, d.readKeyFilter(key), runstore.MaxSearchResults)
	if err != nil {
		return runstore.Run{}, fmt.Errorf("resolve key %q: %w", key, err)
	}
	if len(runs) == 0 {
		return runstore.Run{}, fmt.Errorf("key %q: %w", key, ErrKeyNotFound)
	}
	if len(runs) > 1 {
		return runstore.Run{}, fmt.Errorf("key %q has %d live runs: %w", key, len(runs), ErrKeyConflict)
	}
	return runs[0], nil
}

func (d *Dict) entryTimestamp(run runstore.Run) int64 {
	ts, err := strconv.ParseInt(run.Tags[d.tag(suffixTimestamp)], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// Get returns the value for key. Cache hits return immediately except
// under SyncFull, where the backend timestamp decides whether the
// cached value is stale.
func (d *Dict) Get(ctx context.Context, key string) (any, error) {
	if !d.noCache {
		if entry, ok := d.cache[key]; ok {
			if d.sync != SyncFull {
				return entry.value, nil
			}
			run, err := d.liveRun(ctx, key)
			if errors.Is(err, ErrKeyNotFound) {
				delete(d.cache, key)
				delete(d.keys, key)
				return d.missing(ctx, key, err)
			}
			if err != nil {
				return nil, err
			}
			if d.entryTimestamp(run) <= entry.ts {
				return entry.value, nil
			}
			return d.fetch(ctx, run, key)
		}
	}
	run, err := d.liveRun(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return d.missing(ctx, key, err)
	}
	if err != nil {
		return nil, err
	}
	return d.fetch(ctx, run, key)
}

func (d *Dict) missing(ctx context.Context, key string, err error) (any, error) {
	if d.defaultFn != nil {
		return d.defaultFn(ctx, key)
	}
	return nil, err
}

// fetch downloads and deserializes the payload of an entry run and
// settles the key set and cache.
func (d *Dict) fetch(ctx context.Context, run runstore.Run, key string) (any, error) {
	var value any
	if ext := d.ser.Ext(); ext != "" {
		var raw []byte
		err := d.manager.WithArtifact(ctx, payloadBase+"."+ext, func(r *stage.Resource) error {
			data, err := os.ReadFile(r.Path())
			if err != nil {
				return err
			}
			raw = data
			return nil
		}, stage.WithSourceRun(run.ID), stage.WithSkipLog(true))
		if err != nil {
			return nil, fmt.Errorf("fetch key %q: %w", key, err)
		}
		value, err = d.ser.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", key, err)
		}
	}
	d.keys[key] = true
	if !d.noCache {
		d.cache[key] = cacheEntry{value: value, ts: d.entryTimestamp(run)}
	}
	return value, nil
}

// Set writes a value under key. Values wrapped in Meta attach extra
// metadata; Meta.Update merges onto the existing run instead of
// replacing it.
func (d *Dict) Set(ctx context.Context, key string, value any) error {
	if d.readOnly {
		return ErrReadOnly
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	var m Meta
	switch v := value.(type) {
	case Meta:
		m = v
	case *Meta:
		if v != nil {
			m = *v
		}
	default:
		m = Meta{Value: value}
	}

	if d.sync != SyncNone {
		if err := d.refreshKeys(ctx); err != nil {
			return err
		}
	}
	if len(d.keys) >= d.maxEntries {
		return fmt.Errorf("%d entries: %w", len(d.keys), ErrCapacity)
	}

	existing, err := d.client.SearchRuns(ctx, d.expID, d.writeKeyFilter(key), runstore.MaxSearchResults)
	if err != nil {
		return fmt.Errorf("resolve key %q: %w", key, err)
	}

	now := time.Now().UnixMilli()
	var run runstore.Run
	created := false
	if m.Update && len(existing) > 0 {
		if len(existing) > 1 {
			return fmt.Errorf("key %q has %d live runs: %w", key, len(existing), ErrKeyConflict)
		}
		run = existing[0]
	} else {
		for _, r := range existing {
			if err := d.client.DeleteRun(ctx, r.ID); err != nil {
				return fmt.Errorf("replace key %q: %w", key, err)
			}
		}
		run, err = d.client.CreateRun(ctx, d.expID, d.entryTags(key, m, now))
		if err != nil {
			return fmt.Errorf("create entry run: %w", err)
		}
		created = true
	}

	if err := d.writeEntry(ctx, run, key, m, now, created); err != nil {
		if created {
			if derr := d.client.DeleteRun(ctx, run.ID); derr != nil {
				d.log.Warn("delete partial entry run",
					"run_id", run.ID, "key", key, "error", derr)
			}
		}
		return err
	}

	d.keys[key] = true
	if !d.noCache {
		d.cache[key] = cacheEntry{value: m.Value, ts: now}
	}
	return nil
}

// entryTags builds the full tag set for an entry run. Reserved tags
// are applied last so neither extra nor meta tags can shadow them.
func (d *Dict) entryTags(key string, m Meta, ts int64) map[string]string {
	tags := make(map[string]string, len(d.extraTags)+len(m.Tags)+7)
	for k, v := range d.extraTags {
		tags[k] = v
	}
	for k, v := range m.Tags {
		tags[k] = v
	}
	tags[d.tag(suffixClass)] = classValue
	tags[d.tag(suffixName)] = d.name
	tags[d.tag(suffixKey)] = key
	tags[d.tag(suffixTimestamp)] = strconv.FormatInt(ts, 10)
	tags[d.tag(suffixItemSource)] = itemSource()
	tags[runstore.TagRunName] = key
	tags[runstore.TagUser] = currentUser()
	return tags
}

func (d *Dict) writeEntry(ctx context.Context, run runstore.Run, key string, m Meta, ts int64, created bool) error {
	if !created {
		for k, v := range d.entryTags(key, m, ts) {
			if err := d.client.SetTag(ctx, run.ID, k, v); err != nil {
				return fmt.Errorf("set tag %q: %w", k, err)
			}
		}
	}
	for k, v := range m.Params {
		if err := d.client.LogParam(ctx, run.ID, k, v); err != nil {
			return fmt.Errorf("log param %q: %w", k, err)
		}
	}
	for k, v := range m.Metrics {
		if err := d.client.LogMetric(ctx, run.ID, k, v, 0); err != nil {
			return fmt.Errorf("log metric %q: %w", k, err)
		}
	}
	status := m.Status
	if status == "" {
		status = runstore.StatusFinished
	}
	if err := d.client.SetTerminated(ctx, run.ID, status); err != nil {
		return fmt.Errorf("terminate entry run: %w", err)
	}

	if ext := d.ser.Ext(); ext != "" {
		raw, err := d.ser.Encode(m.Value)
		if err != nil {
			return fmt.Errorf("encode key %q: %w", key, err)
		}
		err = d.manager.WithArtifact(ctx, payloadBase+"."+ext, func(r *stage.Resource) error {
			return os.WriteFile(r.Path(), raw, 0o644)
		}, stage.WithDestinationRun(run.ID))
		if err != nil {
			return fmt.Errorf("upload key %q: %w", key, err)
		}
	}

	if d.entryLog != nil {
		if err := d.entryLog.LogEntry(ctx, d.client, d.manager, run, key, m.Value); err != nil {
			return fmt.Errorf("entry logger: %w", err)
		}
	}
	return nil
}

// Delete removes the backing run(s) for key.
func (d *Dict) Delete(ctx context.Context, key string) error {
	if d.readOnly {
		return ErrReadOnly
	}
	runs, err := d.client.SearchRuns(ctx, d.expID, d.writeKeyFilter(key), runstore.MaxSearchResults)
	if err != nil {
		return fmt.Errorf("resolve key %q: %w", key, err)
	}
	if len(runs) == 0 {
		delete(d.keys, key)
		delete(d.cache, key)
		return fmt.Errorf("key %q: %w", key, ErrKeyNotFound)
	}
	for _, run := range runs {
		if err := d.client.DeleteRun(ctx, run.ID); err != nil {
			return fmt.Errorf("delete key %q: %w", key, err)
		}
	}
	delete(d.keys, key)
	delete(d.cache, key)
	return nil
}

// Refresh reloads the key set from the backend regardless of sync
// mode and prunes cached values for vanished keys.
func (d *Dict) Refresh(ctx context.Context) error {
	return d.refreshKeys(ctx)
}

// Keys returns the sorted key set, refreshed from the backend under
// SyncKeys and SyncFull.
func (d *Dict) Keys(ctx context.Context) ([]string, error) {
	if d.sync != SyncNone {
		if err := d.refreshKeys(ctx); err != nil {
			return nil, err
		}
	}
	keys := make([]string, 0, len(d.keys))
	for key := range d.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Dict) Len(ctx context.Context) (int, error) {
	if d.sync != SyncNone {
		if err := d.refreshKeys(ctx); err != nil {
			return 0, err
		}
	}
	return len(d.keys), nil
}

func (d *Dict) Contains(ctx context.Context, key string) (bool, error) {
	if d.sync != SyncNone {
		if err := d.refreshKeys(ctx); err != nil {
			return false, err
		}
	}
	return d.keys[key], nil
}

// Each invokes fn for every entry in sorted key order and stops on the
// first error.
func (d *Dict) Each(ctx context.Context, fn func(key string, value any) error) error {
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, err := d.Get(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLogging re-invokes an entry logger against every existing
// entry's run without altering payloads. A nil logger falls back to
// the configured one.
func (d *Dict) ApplyLogging(ctx context.Context, logger EntryLogger) error {
	if logger == nil {
		logger = d.entryLog
	}
	if logger == nil {
		return errors.New("entry logger is required")
	}
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		run, err := d.liveRun(ctx, key)
		if err != nil {
			return err
		}
		var value any
		if entry, ok := d.cache[key]; ok && !d.noCache {
			value = entry.value
		} else {
			value, err = d.fetch(ctx, run, key)
			if err != nil {
				return err
			}
		}
		if err := logger.LogEntry(ctx, d.client, d.manager, run, key, value); err != nil {
			return fmt.Errorf("log entry %q: %w", key, err)
		}
	}
	return nil
}

type fillOptions struct {
	progress  func(done, total int, key string)
	dropEmpty bool
}

type FillOption func(*fillOptions)

// WithProgress reports each filled key.
func WithProgress(fn func(done, total int, key string)) FillOption {
	return func(o *fillOptions) { o.progress = fn }
}

// WithDropEmpty deletes entries whose payload deserializes to nil.
func WithDropEmpty() FillOption {
	return func(o *fillOptions) { o.dropEmpty = true }
}

// FillCache populates the value cache for every key not already
// cached.
func (d *Dict) FillCache(ctx context.Context, opts ...FillOption) error {
	if d.noCache {
		return errors.New("cache is disabled")
	}
	var o fillOptions
	for _, opt := range opts {
		opt(&o)
	}
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for i, key := range keys {
		value, cached := any(nil), false
		if entry, ok := d.cache[key]; ok {
			value, cached = entry.value, true
		}
		if !cached {
			run, err := d.liveRun(ctx, key)
			if err != nil {
				return err
			}
			value, err = d.fetch(ctx, run, key)
			if err != nil {
				return err
			}
		}
		if o.dropEmpty && value == nil && d.ser.Ext() != "" {
			if err := d.Delete(ctx, key); err != nil {
				return err
			}
		}
		if o.progress != nil {
			o.progress(i+1, len(keys), key)
		}
	}
	return nil
}

// SearchValues is not implemented: values are opaque payloads and a
// scan would download every entry.
func (d *Dict) SearchValues(ctx context.Context, pattern string) ([]string, error) {
	return nil, fmt.Errorf("search by value: %w", ErrNotImplemented)
}

func itemSource() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}
