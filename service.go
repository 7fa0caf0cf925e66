package resourcekit

import (
	"fmt"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
)

// Global instance
var (
	defaultService *Service
	defaultOnce    sync.Once
	defaultErr     error
)

// Service holds the process wide pieces every repository shares: the
// configuration, the record store, the file index, the event dispatcher
// and the offline registry. Repositories are cheap and handed out per
// request so each carries its own subject.
type Service struct {
	config  *Config
	records RecordStore
	events  *Dispatcher
	opts    []StorageOption

	systemOnce sync.Once
	system     *Repository
	systemErr  error
}

// Builder provides a way to create Service instances with custom env prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder reading variables named prefix+NAME.
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

func (b *Builder) load() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init initializes the global Service using the builder's prefix
func (b *Builder) Init(opts ...StorageOption) error {
	cfg, err := b.load()
	if err != nil {
		return err
	}
	return Init(cfg, opts...)
}

// New creates a Service using the builder's prefix
func (b *Builder) New(records RecordStore, opts ...StorageOption) (*Service, error) {
	cfg, err := b.load()
	if err != nil {
		return nil, err
	}
	return NewService(cfg, records, opts...)
}

// NewService creates a Service. A nil records store keeps records in
// memory. opts apply to every repository; a subject passed here is the
// default for repositories created without one.
func NewService(cfg *Config, records RecordStore, opts ...StorageOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if records == nil {
		records = NewMemoryRecordStore()
	}

	st, err := newStorageSettings(append([]StorageOption{WithConfig(cfg)}, opts...))
	if err != nil {
		return nil, err
	}
	if st.events == nil {
		st.events = NewDispatcher()
	}
	shared := append(append([]StorageOption{}, opts...),
		WithConfig(st.config),
		WithIndex(st.index),
		WithDispatcher(st.events),
		WithOfflineRegistry(st.offline),
		WithExtensionPolicy(st.extensions),
	)
	return &Service{
		config:  st.config,
		records: records,
		events:  st.events,
		opts:    shared,
	}, nil
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *Config { return s.config }

// Dispatcher returns the event dispatcher shared by all repositories.
func (s *Service) Dispatcher() *Dispatcher { return s.events }

// Repository returns a new repository evaluating permissions for subj.
// A nil subject keeps the service default.
func (s *Service) Repository(subj Subject) (*Repository, error) {
	opts := append([]StorageOption{}, s.opts...)
	if subj != nil {
		opts = append(opts, WithSubject(subj))
	}
	return NewRepository(s.records, opts...)
}

// System returns the service's long lived repository that never evaluates
// permissions.
func (s *Service) System() (*Repository, error) {
	s.systemOnce.Do(func() {
		opts := append(append([]StorageOption{}, s.opts...), WithSubject(nil))
		s.system, s.systemErr = NewRepository(s.records, opts...)
	})
	return s.system, s.systemErr
}

// Init initializes the global Service. Without a config one is loaded
// from the environment.
func Init(cfg *Config, opts ...StorageOption) error {
	defaultOnce.Do(func() {
		if cfg == nil {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}
		defaultService, defaultErr = NewService(cfg, nil, opts...)
	})
	return defaultErr
}

// Default returns the global Service, initializing it from the
// environment if needed.
func Default() (*Service, error) {
	if err := Init(nil); err != nil {
		return nil, err
	}
	return defaultService, nil
}

// NewFromEnv creates a Service from environment variables.
func NewFromEnv(records RecordStore, opts ...StorageOption) (*Service, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return NewService(cfg, records, opts...)
}

// Reset clears the global instance (for testing)
func Reset() {
	defaultService = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}
