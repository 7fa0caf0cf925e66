package sftp

import (
	"context"
	"fmt"
	"os"

	"github.com/gobeaver/resourcekit"
)

// DriverType is the storage record driver name of SFTP storages.
const DriverType = "sftp"

// Options is the storage record configuration of an SFTP storage.
type Options struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// PrivateKey is a path to a PEM encoded key file.
	PrivateKey string `mapstructure:"privateKey"`
	HostKey    string `mapstructure:"hostKey"`
	BasePath   string `mapstructure:"basePath"`
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
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: SFTP host is required", resourcekit.ErrInvalidArgument)
	}

	sftpConfig := Config{
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Password: opts.Password,
		HostKey:  opts.HostKey,
		BasePath: opts.BasePath,
	}
	if opts.PrivateKey != "" {
		keyData, err := os.ReadFile(opts.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		sftpConfig.PrivateKey = keyData
	}

	a, err := New(context.Background(), sftpConfig)
	if err != nil {
		return nil, err
	}
	return resourcekit.NewBackendDriver(a, cfg.BackendOptions()...), nil
}
