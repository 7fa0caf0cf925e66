package local

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobeaver/resourcekit"
)

// Options is the storage record configuration of a local storage.
type Options struct {
	BasePath      string `mapstructure:"basePath"`
	PathType      string `mapstructure:"pathType"`
	CaseSensitive *bool  `mapstructure:"caseSensitive"`
	BaseURI       string `mapstructure:"baseUri"`
	ReadOnly      bool   `mapstructure:"readOnly"`
}

// resolveBasePath turns the configured base path into a directory on disk.
// Relative base paths are resolved against the public path.
func (o Options) resolveBasePath(publicPath string) (string, error) {
	if o.BasePath == "" {
		return "", fmt.Errorf("%w: local storage needs a basePath", resourcekit.ErrInvalidArgument)
	}
	switch o.PathType {
	case "", "relative":
		return filepath.Join(publicPath, filepath.FromSlash(o.BasePath)), nil
	case "absolute":
		return filepath.Clean(o.BasePath), nil
	}
	return "", fmt.Errorf("%w: unknown pathType %q", resourcekit.ErrInvalidArgument, o.PathType)
}

// NewDriver builds a resourcekit driver from a storage record configuration.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	root, err := opts.resolveBasePath(cfg.PublicPath)
	if err != nil {
		return nil, err
	}

	var adapterOpts []AdapterOption
	if opts.BaseURI != "" {
		adapterOpts = append(adapterOpts, WithBaseURI(opts.BaseURI))
	} else if opts.PathType != "absolute" {
		adapterOpts = append(adapterOpts, WithBaseURI("/"+strings.Trim(filepath.ToSlash(opts.BasePath), "/")))
	}
	a, err := New(root, adapterOpts...)
	if err != nil {
		return nil, err
	}

	caseSensitive := true
	if opts.CaseSensitive != nil {
		caseSensitive = *opts.CaseSensitive
	}
	var b resourcekit.Backend = a
	if opts.ReadOnly {
		b = resourcekit.NewReadOnly(a)
	}
	return resourcekit.NewBackendDriver(b, cfg.BackendOptions(resourcekit.WithCaseSensitive(caseSensitive))...), nil
}

func init() {
	resourcekit.RegisterDriver(resourcekit.LocalDriverType, NewDriver)
}
