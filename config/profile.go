// Package config loads backend profiles and opens run store clients
// from them. A profile names the tracking backend by URI and carries
// the credentials the chosen backend needs; RUNKV_* environment
// variables override values from profile files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/runkv/internal/platform/env"
	"github.com/animus-labs/runkv/objectstore"
	"github.com/animus-labs/runkv/runstore/postgres"
	"github.com/animus-labs/runkv/runstore/rest"
)

// Profile describes one tracking backend.
type Profile struct {
	// TrackingURI selects the backend. Shorthands are resolved by
	// ResolveTrackingURI; the scheme picks the client in Open.
	TrackingURI string `json:"tracking_uri" yaml:"tracking_uri"`

	// ArtifactDir, when set, stores artifact bytes under a local
	// directory instead of the S3 endpoint.
	ArtifactDir string `json:"artifact_dir,omitempty" yaml:"artifact_dir,omitempty"`

	// Store is the S3-compatible artifact endpoint for remote backends.
	Store objectstore.Config `json:"store,omitempty" yaml:"store,omitempty"`

	// Postgres carries connection settings for postgres tracking URIs.
	// The database URL itself comes from TrackingURI.
	Postgres postgres.Config `json:"postgres,omitempty" yaml:"postgres,omitempty"`

	// Auth enables OAuth2 client credentials against HTTP backends.
	Auth rest.AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// Load reads a YAML profile. Values from RUNKV_* environment variables
// override the file.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if err := applyEnv(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// FromEnv builds a profile from RUNKV_* variables alone. Unset
// variables fall back to a local file backend with no artifact
// endpoint.
func FromEnv() (Profile, error) {
	p := Profile{
		TrackingURI: env.String("RUNKV_TRACKING_URI", "file"),
		ArtifactDir: env.String("RUNKV_ARTIFACT_DIR", ""),
	}
	if _, ok := os.LookupEnv("RUNKV_S3_ENDPOINT"); ok {
		store, err := objectstore.ConfigFromEnv()
		if err != nil {
			return Profile{}, err
		}
		p.Store = store
	}
	pg, err := postgres.ConfigFromEnv()
	if err != nil {
		return Profile{}, err
	}
	p.Postgres = pg
	p.Auth = rest.AuthConfig{
		IssuerURL:    env.String("RUNKV_AUTH_ISSUER_URL", ""),
		ClientID:     env.String("RUNKV_AUTH_CLIENT_ID", ""),
		ClientSecret: env.String("RUNKV_AUTH_CLIENT_SECRET", ""),
		Scopes:       env.StringSlice("RUNKV_AUTH_SCOPES", nil),
	}
	if err := p.Auth.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func applyEnv(p *Profile) error {
	override := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	override("RUNKV_TRACKING_URI", &p.TrackingURI)
	override("RUNKV_ARTIFACT_DIR", &p.ArtifactDir)
	override("RUNKV_S3_ENDPOINT", &p.Store.Endpoint)
	override("RUNKV_S3_ACCESS_KEY", &p.Store.AccessKey)
	override("RUNKV_S3_SECRET_KEY", &p.Store.SecretKey)
	override("RUNKV_S3_REGION", &p.Store.Region)
	override("RUNKV_S3_BUCKET", &p.Store.Bucket)
	if _, ok := os.LookupEnv("RUNKV_S3_USE_SSL"); ok {
		useSSL, err := env.Bool("RUNKV_S3_USE_SSL", false)
		if err != nil {
			return err
		}
		p.Store.UseSSL = useSSL
	}
	override("RUNKV_DATABASE_URL", &p.Postgres.URL)
	override("RUNKV_AUTH_ISSUER_URL", &p.Auth.IssuerURL)
	override("RUNKV_AUTH_CLIENT_ID", &p.Auth.ClientID)
	override("RUNKV_AUTH_CLIENT_SECRET", &p.Auth.ClientSecret)
	if _, ok := os.LookupEnv("RUNKV_AUTH_SCOPES"); ok {
		p.Auth.Scopes = env.StringSlice("RUNKV_AUTH_SCOPES", nil)
	}
	return nil
}

// ResolveTrackingURI expands the supported shorthands:
//
//	""            -> file:./runs
//	"file"        -> file:./runs
//	"localhost"   -> http://localhost:5000
//	"localhost-N" -> http://localhost:<5000+N>
//
// Every other value passes through unchanged.
func ResolveTrackingURI(uri string) (string, error) {
	t := strings.TrimSpace(uri)
	switch {
	case t == "" || t == "file":
		return "file:./runs", nil
	case t == "localhost":
		return "http://localhost:5000", nil
	case strings.HasPrefix(t, "localhost-"):
		n, err := strconv.Atoi(strings.TrimPrefix(t, "localhost-"))
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid tracking uri shorthand %q", uri)
		}
		return fmt.Sprintf("http://localhost:%d", 5000+n), nil
	default:
		return t, nil
	}
}
