// Package rest implements runstore.Client against a remote tracking
// server speaking the MLflow-compatible REST protocol under
// /api/2.0/mlflow. Run metadata travels over HTTP; artifact bytes go
// straight to the configured object store under the run's key prefix,
// never through the tracking server.
package rest

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/runkv/internal/platform/env"
	"github.com/animus-labs/runkv/objectstore"
)

// AuthConfig enables the OAuth2 client-credentials flow. The token
// endpoint is discovered from the issuer's OIDC metadata. A zero
// value disables authentication.
type AuthConfig struct {
	IssuerURL    string   `json:"issuer_url" yaml:"issuer_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}

func (a AuthConfig) Enabled() bool {
	return strings.TrimSpace(a.IssuerURL) != ""
}

func (a AuthConfig) Validate() error {
	if !a.Enabled() {
		return nil
	}
	if strings.TrimSpace(a.ClientID) == "" {
		return errors.New("auth client id is required")
	}
	if strings.TrimSpace(a.ClientSecret) == "" {
		return errors.New("auth client secret is required")
	}
	return nil
}

type Config struct {
	// BaseURL is the tracking server root, e.g. http://localhost:5000.
	BaseURL string
	// Artifacts stores run artifact bytes. Required for the artifact
	// transport methods; metadata-only use may leave it nil.
	Artifacts objectstore.Store
	Auth      AuthConfig
	Timeout   time.Duration
	// RequestID is sent as X-Request-Id on every call so server logs
	// can be correlated with one client. Generated when empty.
	RequestID string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("RUNKV_TRACKING_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("RUNKV_TRACKING_URL", "http://localhost:5000"),
		Auth: AuthConfig{
			IssuerURL:    env.String("RUNKV_AUTH_ISSUER_URL", ""),
			ClientID:     env.String("RUNKV_AUTH_CLIENT_ID", ""),
			ClientSecret: env.String("RUNKV_AUTH_CLIENT_SECRET", ""),
			Scopes:       env.StringSlice("RUNKV_AUTH_SCOPES", nil),
		},
		Timeout:   timeout,
		RequestID: env.String("RUNKV_REQUEST_ID", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return errors.New("base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return errors.New("base url must be http or https")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	return c.Auth.Validate()
}
