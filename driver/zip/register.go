package zip

import (
	"fmt"
	"path/filepath"

	"github.com/gobeaver/resourcekit"
)

// Options is the storage record configuration of a ZIP storage.
type Options struct {
	// Archive is the path of the ZIP file. Relative paths are resolved
	// against the public path.
	Archive string `mapstructure:"archive"`
}

// NewDriver builds a read-only resourcekit driver over a ZIP archive.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Archive == "" {
		return nil, fmt.Errorf("%w: zip storage needs an archive path", resourcekit.ErrInvalidArgument)
	}
	archive := opts.Archive
	if !filepath.IsAbs(archive) {
		archive = filepath.Join(cfg.PublicPath, filepath.FromSlash(archive))
	}
	a, err := Open(archive)
	if err != nil {
		return nil, err
	}
	return resourcekit.NewBackendDriver(a, cfg.BackendOptions()...), nil
}

func init() {
	resourcekit.RegisterDriver("zip", NewDriver)
}
