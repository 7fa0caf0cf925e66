package azure

import (
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/gobeaver/resourcekit"
)

// DriverType is the storage record driver name of Azure Blob storages.
const DriverType = "azure"

// Options is the storage record configuration of an Azure Blob storage.
type Options struct {
	AccountName string        `mapstructure:"accountName"`
	AccountKey  string        `mapstructure:"accountKey"`
	Container   string        `mapstructure:"container"`
	Prefix      string        `mapstructure:"prefix"`
	Endpoint    string        `mapstructure:"endpoint"`
	URLExpiry   time.Duration `mapstructure:"urlExpiry"`
}

func init() {
	resourcekit.RegisterDriver(DriverType, NewDriver)
}

// NewDriver builds a resourcekit driver from a storage record configuration.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.AccountName == "" || opts.AccountKey == "" {
		return nil, fmt.Errorf("%w: azure account name and key are required", resourcekit.ErrInvalidArgument)
	}
	if opts.Container == "" {
		return nil, fmt.Errorf("%w: azure container name is required", resourcekit.ErrInvalidArgument)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
	if opts.Endpoint != "" {
		serviceURL = opts.Endpoint
	}

	cred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return resourcekit.NewBackendDriver(New(client, opts.Container,
		WithPrefix(opts.Prefix),
		WithSharedKey(cred),
		WithURLExpiry(opts.URLExpiry),
	), cfg.BackendOptions()...), nil
}
