package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveTrackingURI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "file:./runs"},
		{"file", "file:./runs"},
		{"localhost", "http://localhost:5000"},
		{"localhost-2", "http://localhost:5002"},
		{"localhost-10", "http://localhost:5010"},
		{"http://tracking.internal:8080", "http://tracking.internal:8080"},
		{"postgres://runkv@db:5432/runkv", "postgres://runkv@db:5432/runkv"},
		{"./local/runs", "./local/runs"},
	}
	for _, tc := range cases {
		got, err := ResolveTrackingURI(tc.in)
		if err != nil {
			t.Fatalf("ResolveTrackingURI(%q) err=%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveTrackingURI(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := ResolveTrackingURI("localhost-abc"); err == nil {
		t.Fatal("ResolveTrackingURI(localhost-abc) must fail")
	}
}

func TestLoad_Profile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := `tracking_uri: http://tracking.internal:8080
store:
  endpoint: minio.internal:9000
  access_key: runkv
  secret_key: sekrit
  bucket: artifacts
auth:
  issuer_url: https://issuer.internal
  client_id: runkv-cli
  client_secret: s3cret
  scopes: [tracking.read, tracking.write]
postgres:
  url: postgres://runkv@db:5432/runkv
  max_open_conns: 4
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if p.TrackingURI != "http://tracking.internal:8080" {
		t.Fatalf("TrackingURI=%q", p.TrackingURI)
	}
	if p.Store.Endpoint != "minio.internal:9000" || p.Store.SecretKey != "sekrit" {
		t.Fatalf("Store=%+v", p.Store)
	}
	if p.Auth.ClientID != "runkv-cli" || len(p.Auth.Scopes) != 2 {
		t.Fatalf("Auth=%+v", p.Auth)
	}
	if p.Postgres.URL != "postgres://runkv@db:5432/runkv" || p.Postgres.MaxOpenConns != 4 {
		t.Fatalf("Postgres=%+v", p.Postgres)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := "tracking_uri: file\nstore:\n  endpoint: minio.internal:9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	t.Setenv("RUNKV_TRACKING_URI", "localhost-3")
	t.Setenv("RUNKV_S3_ENDPOINT", "minio.override:9000")
	t.Setenv("RUNKV_S3_USE_SSL", "true")

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if p.TrackingURI != "localhost-3" {
		t.Fatalf("TrackingURI=%q, want env override", p.TrackingURI)
	}
	if p.Store.Endpoint != "minio.override:9000" || !p.Store.UseSSL {
		t.Fatalf("Store=%+v, want env overrides", p.Store)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() on a missing file must fail")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"RUNKV_TRACKING_URI", "RUNKV_ARTIFACT_DIR", "RUNKV_S3_ENDPOINT",
		"RUNKV_AUTH_ISSUER_URL", "RUNKV_DATABASE_URL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err=%v", err)
	}
	if p.TrackingURI != "file" {
		t.Fatalf("TrackingURI=%q, want file", p.TrackingURI)
	}
	if p.Store.Endpoint != "" {
		t.Fatalf("Store=%+v, want no endpoint without RUNKV_S3_ENDPOINT", p.Store)
	}
	if p.Auth.Enabled() {
		t.Fatalf("Auth=%+v, want disabled", p.Auth)
	}
	if p.Postgres.PingTimeout != 2*time.Second {
		t.Fatalf("Postgres=%+v, want default pool settings", p.Postgres)
	}
}

func TestFromEnv_AuthNeedsCredentials(t *testing.T) {
	t.Setenv("RUNKV_AUTH_ISSUER_URL", "https://issuer.internal")
	t.Setenv("RUNKV_AUTH_CLIENT_ID", "")
	os.Unsetenv("RUNKV_AUTH_CLIENT_ID")

	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() with issuer but no client id must fail")
	}
}

func TestOpen_LocalStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "runs")
	client, closer, err := Open(context.Background(), Profile{TrackingURI: root})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer closer()

	ctx := context.Background()
	exp, err := client.GetOrCreateExperiment(ctx, "config_test")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}
	if exp == "" {
		t.Fatal("empty experiment id")
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("store root not created: %v", err)
	}
}

func TestOpen_FileScheme(t *testing.T) {
	dir := t.TempDir()
	client, closer, err := Open(context.Background(), Profile{TrackingURI: "file:" + dir})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer closer()
	if client == nil {
		t.Fatal("nil client")
	}
}

func TestOpen_PostgresNeedsArtifactStore(t *testing.T) {
	_, _, err := Open(context.Background(), Profile{TrackingURI: "postgres://runkv@db:5432/runkv"})
	if err == nil {
		t.Fatal("Open() postgres without artifact store must fail")
	}
}

func TestOpen_RESTMetadataOnly(t *testing.T) {
	client, closer, err := Open(context.Background(), Profile{TrackingURI: "http://tracking.internal:8080"})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer closer()
	if client == nil {
		t.Fatal("nil client")
	}
}
