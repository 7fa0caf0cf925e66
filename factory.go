package resourcekit

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// DriverConfig is handed to a DriverFactory when a storage record is
// turned into a Storage.
type DriverConfig struct {
	StorageUID int
	// Options is the backend specific configuration of the record.
	Options map[string]any
	// PublicPath is the application's public directory. Local drivers
	// resolve relative base paths against it.
	PublicPath string
	// ASCIIFileNames transliterates sanitized file names to ASCII.
	ASCIIFileNames bool
	// TempDir holds local processing copies; empty uses os.TempDir.
	TempDir string
}

// BackendOptions returns the NewBackendDriver options every driver built
// from this configuration shares.
func (c DriverConfig) BackendOptions(extra ...BackendDriverOption) []BackendDriverOption {
	return append([]BackendDriverOption{
		WithUTF8FileNames(!c.ASCIIFileNames),
		WithTempDir(c.TempDir),
	}, extra...)
}

// Decode copies the options into out, a pointer to a struct tagged with
// `mapstructure`. String values are converted to the field types.
func (c DriverConfig) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.Options); err != nil {
		return fmt.Errorf("%w: storage %d options: %w", ErrInvalidArgument, c.StorageUID, err)
	}
	return nil
}

// DriverFactory creates a Driver for one storage record
type DriverFactory func(cfg DriverConfig) (Driver, error)

var (
	driverFactories = make(map[string]DriverFactory)
	factoryMutex    sync.RWMutex
)

// driverKey normalizes a driver type string; type strings are case
// insensitive.
func driverKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterDriver registers a driver factory under a type string. Driver
// packages call it from init.
func RegisterDriver(name string, factory DriverFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[driverKey(name)] = factory
}

// IsDriverRegistered reports whether a factory exists for name.
func IsDriverRegistered(name string) bool {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()
	_, ok := driverFactories[driverKey(name)]
	return ok
}

// Drivers returns the registered type strings in sorted order.
func Drivers() []string {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()
	names := make([]string, 0, len(driverFactories))
	for name := range driverFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver creates a driver instance of the given type
func NewDriver(name string, cfg DriverConfig) (Driver, error) {
	factoryMutex.RLock()
	factory, exists := driverFactories[driverKey(name)]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: driver %q not registered", ErrNotSupported, name)
	}

	return factory(cfg)
}
