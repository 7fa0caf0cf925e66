package memory

import (
	"sync"

	"github.com/gobeaver/resourcekit"
)

// DriverType is the storage record driver name of memory storages.
const DriverType = "memory"

// Options is the storage record configuration of a memory storage.
type Options struct {
	// Name shares one adapter between all storages configured with it
	// within the process. Without a name every storage gets its own.
	Name          string `mapstructure:"name"`
	MaxSize       int64  `mapstructure:"maxSize"`
	CaseSensitive *bool  `mapstructure:"caseSensitive"`
}

var (
	sharedMu sync.Mutex
	shared   = make(map[string]*Adapter)
)

// Shared returns the process wide adapter registered under name, creating
// it on first use.
func Shared(name string, cfg ...Config) *Adapter {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	a, ok := shared[name]
	if !ok {
		a = New(cfg...)
		shared[name] = a
	}
	return a
}

// NewDriver builds a resourcekit driver from a storage record configuration.
func NewDriver(cfg resourcekit.DriverConfig) (resourcekit.Driver, error) {
	var opts Options
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	var a *Adapter
	if opts.Name != "" {
		a = Shared(opts.Name, Config{MaxSize: opts.MaxSize})
	} else {
		a = New(Config{MaxSize: opts.MaxSize})
	}
	caseSensitive := true
	if opts.CaseSensitive != nil {
		caseSensitive = *opts.CaseSensitive
	}
	return resourcekit.NewBackendDriver(a, cfg.BackendOptions(resourcekit.WithCaseSensitive(caseSensitive))...), nil
}

func init() {
	resourcekit.RegisterDriver(DriverType, NewDriver)
}
