package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/runkv/internal/platform/env"
	"github.com/animus-labs/runkv/objectstore"
	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/runstore/local"
	"github.com/animus-labs/runkv/runstore/postgres"
	"github.com/animus-labs/runkv/runstore/rest"
)

var noClose = func() error { return nil }

// Open builds the run store client selected by the profile's tracking
// URI: file paths open the local store, postgres URLs the SQL store,
// http(s) URLs the REST client. The returned closer releases backend
// handles and is always non-nil on success.
func Open(ctx context.Context, p Profile) (runstore.Client, func() error, error) {
	uri, err := ResolveTrackingURI(p.TrackingURI)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://"):
		return openPostgres(ctx, p, uri)
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		client, err := openREST(ctx, p, uri)
		if err != nil {
			return nil, nil, err
		}
		return client, noClose, nil
	default:
		root := strings.TrimPrefix(strings.TrimPrefix(uri, "file://"), "file:")
		if root == "" {
			root = "./runs"
		}
		store, err := local.Open(root)
		if err != nil {
			return nil, nil, err
		}
		return store, noClose, nil
	}
}

func openPostgres(ctx context.Context, p Profile, url string) (runstore.Client, func() error, error) {
	artifacts, err := artifactStore(p)
	if err != nil {
		return nil, nil, err
	}
	if artifacts == nil {
		return nil, nil, fmt.Errorf("postgres backend needs an artifact store: set artifact_dir or the s3 endpoint")
	}
	cfg := p.Postgres
	cfg.URL = url
	fillPoolDefaults(&cfg)
	db, err := postgres.OpenDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.New(db, artifacts)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, db.Close, nil
}

func openREST(ctx context.Context, p Profile, base string) (runstore.Client, error) {
	artifacts, err := artifactStore(p)
	if err != nil {
		return nil, err
	}
	timeout, err := env.Duration("RUNKV_TRACKING_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return rest.New(ctx, rest.Config{
		BaseURL:   base,
		Artifacts: artifacts,
		Auth:      p.Auth,
		Timeout:   timeout,
	})
}

// artifactStore picks the artifact byte transport: a local directory
// when ArtifactDir is set, the S3 endpoint when one is configured,
// nil when the profile names neither.
func artifactStore(p Profile) (objectstore.Store, error) {
	if p.ArtifactDir != "" {
		return objectstore.NewFSStore(p.ArtifactDir)
	}
	if strings.TrimSpace(p.Store.Endpoint) != "" {
		return objectstore.NewMinioStore(p.Store)
	}
	return nil, nil
}

func fillPoolDefaults(cfg *postgres.Config) {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	if cfg.MaxOpenConns < 1 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns < 1 {
		cfg.MaxIdleConns = 5
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 5 * time.Minute
	}
}
