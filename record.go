package resourcekit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StorageRecord is the configuration a Storage is built from.
type StorageRecord struct {
	UID         int    `mapstructure:"uid" json:"uid" validate:"gte=0"`
	Name        string `mapstructure:"name" json:"name" validate:"required"`
	Description string `mapstructure:"description" json:"description,omitempty"`
	// Driver is the registered driver type string.
	Driver      string `mapstructure:"driver" json:"driver" validate:"required"`
	IsDefault   bool   `mapstructure:"isDefault" json:"is_default"`
	IsBrowsable bool   `mapstructure:"isBrowsable" json:"is_browsable"`
	IsPublic    bool   `mapstructure:"isPublic" json:"is_public"`
	IsWritable  bool   `mapstructure:"isWritable" json:"is_writable"`
	IsOnline    bool   `mapstructure:"isOnline" json:"is_online"`
	// ProcessingFolder is a folder name or a "uid:identifier" combined
	// identifier pointing into another storage. Empty means the default.
	ProcessingFolder string `mapstructure:"processingFolder" json:"processing_folder,omitempty"`
	// Configuration holds the driver specific options.
	Configuration map[string]any `mapstructure:"configuration" json:"configuration,omitempty"`
}

// RecordStore persists storage records.
type RecordStore interface {
	All(ctx context.Context) ([]StorageRecord, error)
	// Create stores a record and returns it with its assigned UID.
	Create(ctx context.Context, rec StorageRecord) (StorageRecord, error)
}

// MemoryRecordStore keeps records in memory. UIDs start at 1; uid 0 is
// reserved for the fallback storage.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[int]StorageRecord
	nextUID int
}

// NewMemoryRecordStore creates a store seeded with records. Records without
// a UID get one assigned.
func NewMemoryRecordStore(records ...StorageRecord) *MemoryRecordStore {
	s := &MemoryRecordStore{records: make(map[int]StorageRecord)}
	for _, rec := range records {
		if rec.UID > s.nextUID {
			s.nextUID = rec.UID
		}
	}
	for _, rec := range records {
		if rec.UID == 0 {
			s.nextUID++
			rec.UID = s.nextUID
		}
		s.records[rec.UID] = rec
	}
	return s
}

func (s *MemoryRecordStore) All(ctx context.Context) ([]StorageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StorageRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *MemoryRecordStore) Create(ctx context.Context, rec StorageRecord) (StorageRecord, error) {
	if err := ctx.Err(); err != nil {
		return StorageRecord{}, err
	}
	if rec.Name == "" || rec.Driver == "" {
		return StorageRecord{}, fmt.Errorf("%w: storage record needs a name and a driver", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.UID == 0 {
		s.nextUID++
		rec.UID = s.nextUID
	} else if _, exists := s.records[rec.UID]; exists {
		return StorageRecord{}, fmt.Errorf("%w: storage %d", ErrExist, rec.UID)
	} else if rec.UID > s.nextUID {
		s.nextUID = rec.UID
	}
	s.records[rec.UID] = rec
	return rec, nil
}

var _ RecordStore = (*MemoryRecordStore)(nil)
