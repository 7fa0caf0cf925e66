// Package badger persists the file index and the storage records in an
// embedded BadgerDB database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/gobeaver/resourcekit"
)

// sequenceBandwidth is how many uids a sequence leases at once. Leased but
// unused uids are lost on close.
const sequenceBandwidth = 64

// Config configures a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps everything in memory; used by tests.
	InMemory bool `mapstructure:"inMemory"`

	// BlockCacheSizeMB defaults to 64.
	BlockCacheSizeMB int64 `mapstructure:"blockCacheSizeMB"`
}

// Store owns the database. Index and Records are views onto it.
type Store struct {
	db         *badger.DB
	recordSeq  *badger.Sequence
	storageSeq *badger.Sequence
}

// Index implements resourcekit.Index.
type Index struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Records implements resourcekit.RecordStore.
type Records struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Index returns the file index view.
func (s *Store) Index() *Index { return &Index{db: s.db, seq: s.recordSeq} }

// Records returns the storage record view.
func (s *Store) Records() *Records { return &Records{db: s.db, seq: s.storageSeq} }

// Open opens (or creates) the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("%w: badger index needs a path", resourcekit.ErrInvalidArgument)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	recordSeq, err := db.GetSequence([]byte(sequenceRecords), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}
	storageSeq, err := db.GetSequence([]byte(sequenceStorages), sequenceBandwidth)
	if err != nil {
		_ = recordSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to open storage sequence: %w", err)
	}
	return &Store{db: db, recordSeq: recordSeq, storageSeq: storageSeq}, nil
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	return errors.Join(
		s.recordSeq.Release(),
		s.storageSeq.Release(),
		s.db.Close(),
	)
}

// nextUID returns the next value of seq. Badger sequences start at zero,
// uids start at one.
func nextUID(seq *badger.Sequence) (uint64, error) {
	for {
		n, err := seq.Next()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

var (
	_ resourcekit.Index       = (*Index)(nil)
	_ resourcekit.RecordStore = (*Records)(nil)
)
