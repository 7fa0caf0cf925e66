package gcs

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/gobeaver/resourcekit"
)

// Options is the storage record configuration of a GCS storage.
type Options struct {
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	CredentialsFile string        `mapstructure:"credentialsFile"`
	Endpoint        string        `mapstructure:"endpoint"`
	URLExpiry       time.Duration `mapstructure:"urlExpiry"`
}

func init() {
	resourcekit.RegisterDriver("gcs", NewDriver)
}

// NewDriver builds a resourcekit driver from a storage record configuration.
// Without a credentials file the application default credentials are used.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs storage needs a bucket", resourcekit.ErrInvalidArgument)
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	client, err := storage.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return resourcekit.NewBackendDriver(New(client, opts.Bucket,
		WithPrefix(opts.Prefix),
		WithURLExpiry(opts.URLExpiry),
	), cfg.BackendOptions()...), nil
}
