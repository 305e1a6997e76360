package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketDatasets string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("OBJECTSTORE_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("OBJECTSTORE_ACCESS_KEY", "verdict"),
		SecretKey:      env.String("OBJECTSTORE_SECRET_KEY", "verdictminio"),
		Region:         env.String("OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketDatasets: env.String("OBJECTSTORE_BUCKET_DATASETS", "datasets"),
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
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketDatasets) == "" {
		return errors.New("datasets bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
