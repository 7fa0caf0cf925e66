package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gobeaver/resourcekit"
)

// Options is the storage record configuration of an S3 storage.
type Options struct {
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	Prefix          string        `mapstructure:"prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"accessKeyId"`
	SecretAccessKey string        `mapstructure:"secretAccessKey"`
	ForcePathStyle  bool          `mapstructure:"forcePathStyle"`
	URLExpiry       time.Duration `mapstructure:"urlExpiry"`
}

func init() {
	resourcekit.RegisterDriver("s3", NewDriver)
}

// NewDriver builds a resourcekit driver from a storage record configuration.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 storage needs a bucket", resourcekit.ErrInvalidArgument)
	}
	client, err := createS3Client(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return resourcekit.NewBackendDriver(New(client, opts.Bucket,
		WithPrefix(opts.Prefix),
		WithURLExpiry(opts.URLExpiry),
	), cfg.BackendOptions()...), nil
}

func createS3Client(opts Options) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, err
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}
