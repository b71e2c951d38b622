package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/runkv/internal/platform/env"
)

// Config describes an S3-compatible endpoint holding one artifact
// bucket.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Region    string `json:"region" yaml:"region"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
	Bucket    string `json:"bucket" yaml:"bucket"`
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RUNKV_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("RUNKV_S3_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("RUNKV_S3_ACCESS_KEY", "runkv"),
		SecretKey: env.String("RUNKV_S3_SECRET_KEY", "runkvminio"),
		Region:    env.String("RUNKV_S3_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("RUNKV_S3_BUCKET", "artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
