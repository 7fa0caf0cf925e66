package resourcekit

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

// IndexRecord mirrors one file in the persistent index.
type IndexRecord struct {
	UID            uint64            `json:"uid"`
	StorageUID     int               `json:"storage"`
	Identifier     string            `json:"identifier"`
	IdentifierHash string            `json:"identifier_hash"`
	FolderHash     string            `json:"folder_hash"`
	Name           string            `json:"name"`
	Extension      string            `json:"extension"`
	MimeType       string            `json:"mime_type"`
	Size           int64             `json:"size"`
	SHA1           string            `json:"sha1"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	Missing        bool              `json:"missing"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *IndexRecord) Clone() *IndexRecord {
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}

// Index persists file records. FindByStorageAndIdentifier returns
// ErrNotIndexed when no record exists; callers treat that as "not yet
// indexed".
type Index interface {
	FindByStorageAndIdentifier(ctx context.Context, storageUID int, identifier string) (*IndexRecord, error)
	FindByUID(ctx context.Context, uid uint64) (*IndexRecord, error)
	FindByStorage(ctx context.Context, storageUID int) ([]*IndexRecord, error)

	// Create stores a new record and assigns its UID.
	Create(ctx context.Context, rec *IndexRecord) error

	// Update replaces the record with the same UID. Storage and identifier
	// may change.
	Update(ctx context.Context, rec *IndexRecord) error

	Remove(ctx context.Context, uid uint64) error
}

type indexKey struct {
	storage    int
	identifier string
}

// MemoryIndex is an Index held in process memory.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[uint64]*IndexRecord
	keys    map[indexKey]uint64
	nextUID uint64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		records: make(map[uint64]*IndexRecord),
		keys:    make(map[indexKey]uint64),
	}
}

func (m *MemoryIndex) FindByStorageAndIdentifier(ctx context.Context, storageUID int, identifier string) (*IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.keys[indexKey{storageUID, identifier}]
	if !ok {
		return nil, &PathError{Op: "index", Path: CombinedIdentifier(storageUID, identifier), Err: ErrNotIndexed}
	}
	return m.records[uid].Clone(), nil
}

func (m *MemoryIndex) FindByUID(ctx context.Context, uid uint64) (*IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[uid]
	if !ok {
		return nil, &PathError{Op: "index", Path: fmt.Sprintf("uid %d", uid), Err: ErrNotIndexed}
	}
	return rec.Clone(), nil
}

func (m *MemoryIndex) FindByStorage(ctx context.Context, storageUID int) ([]*IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*IndexRecord
	for _, rec := range m.records {
		if rec.StorageUID == storageUID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *MemoryIndex) Create(ctx context.Context, rec *IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey{rec.StorageUID, rec.Identifier}
	if _, exists := m.keys[key]; exists {
		return &PathError{Op: "index", Path: CombinedIdentifier(rec.StorageUID, rec.Identifier), Err: ErrExist}
	}
	m.nextUID++
	rec.UID = m.nextUID
	m.records[rec.UID] = rec.Clone()
	m.keys[key] = rec.UID
	return nil
}

func (m *MemoryIndex) Update(ctx context.Context, rec *IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[rec.UID]
	if !ok {
		return &PathError{Op: "index", Path: fmt.Sprintf("uid %d", rec.UID), Err: ErrNotIndexed}
	}
	newKey := indexKey{rec.StorageUID, rec.Identifier}
	if other, taken := m.keys[newKey]; taken && other != rec.UID {
		// The target identifier was indexed separately; the moved record wins.
		delete(m.records, other)
	}
	delete(m.keys, indexKey{old.StorageUID, old.Identifier})
	m.records[rec.UID] = rec.Clone()
	m.keys[newKey] = rec.UID
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, uid uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[uid]
	if !ok {
		return nil
	}
	delete(m.keys, indexKey{rec.StorageUID, rec.Identifier})
	delete(m.records, uid)
	return nil
}

var _ Index = (*MemoryIndex)(nil)
