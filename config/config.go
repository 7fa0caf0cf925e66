// Package config loads storage definitions from a file and opens the
// record store and file index they describe.
//
// A definition file looks like:
//
//	index:
//	  type: badger
//	  badger:
//	    path: /var/lib/resourcekit/index
//	storages:
//	  - uid: 1
//	    name: fileadmin
//	    driver: local
//	    isDefault: true
//	    isWritable: true
//	    isOnline: true
//	    configuration:
//	      basePath: fileadmin/
//	      pathType: relative
//
// Environment variables prefixed with RESOURCEKIT_ override scalar keys,
// for example RESOURCEKIT_INDEX_TYPE=memory.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/gobeaver/resourcekit"
	"github.com/gobeaver/resourcekit/index/badger"
)

const (
	IndexMemory = "memory"
	IndexBadger = "badger"
)

// Config is the content of a storage definition file.
type Config struct {
	Index    IndexConfig                 `mapstructure:"index"`
	Storages []resourcekit.StorageRecord `mapstructure:"storages" validate:"dive"`
}

// IndexConfig selects where the file index and records are kept.
type IndexConfig struct {
	Type string `mapstructure:"type" validate:"oneof=memory badger"`
	// Badger holds badger.Config keys when Type is badger.
	Badger map[string]any `mapstructure:"badger"`
}

// Load reads the definition file at path. A missing file is not an error
// and yields the defaults. An empty path looks for resourcekit.{yaml,json,toml}
// in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESOURCEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("index.type", IndexMemory)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("resourcekit")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values.
func ApplyDefaults(cfg *Config) {
	if cfg.Index.Type == "" {
		cfg.Index.Type = IndexMemory
	}
	cfg.Index.Type = strings.ToLower(cfg.Index.Type)
}

// Stores is what a Config opens: the record store and the file index.
type Stores struct {
	Records resourcekit.RecordStore
	Index   resourcekit.Index
	closer  io.Closer
}

// Close releases the underlying database, if any.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// RepositoryOptions returns the storage options that wire the index into a
// repository.
func (s *Stores) RepositoryOptions() []resourcekit.StorageOption {
	return []resourcekit.StorageOption{resourcekit.WithIndex(s.Index)}
}

// Open opens the configured stores. Storage definitions seed the record
// store; a persistent store that already holds records keeps them.
func (c *Config) Open(ctx context.Context) (*Stores, error) {
	switch c.Index.Type {
	case IndexMemory:
		return &Stores{
			Records: resourcekit.NewMemoryRecordStore(c.Storages...),
			Index:   resourcekit.NewMemoryIndex(),
		}, nil

	case IndexBadger:
		var badgerCfg badger.Config
		if err := mapstructure.Decode(c.Index.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("%w: badger index config: %v", resourcekit.ErrInvalidArgument, err)
		}
		store, err := badger.Open(ctx, badgerCfg)
		if err != nil {
			return nil, err
		}
		records := store.Records()
		if err := seed(ctx, records, c.Storages); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &Stores{Records: records, Index: store.Index(), closer: store}, nil
	}
	return nil, fmt.Errorf("%w: unknown index type %q", resourcekit.ErrInvalidArgument, c.Index.Type)
}

func seed(ctx context.Context, store resourcekit.RecordStore, records []resourcekit.StorageRecord) error {
	existing, err := store.All(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if len(records) > 0 {
			clog.FromContext(ctx).Debugf("record store holds %d storages, ignoring %d file definitions", len(existing), len(records))
		}
		return nil
	}
	for _, rec := range records {
		if _, err := store.Create(ctx, rec); err != nil {
			return fmt.Errorf("seeding storage %q: %w", rec.Name, err)
		}
	}
	return nil
}
