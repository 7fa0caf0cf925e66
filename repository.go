package resourcekit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
)

// Local driver configuration keys the repository understands when mapping
// local paths to storages.
const (
	LocalDriverType = "local"

	pathTypeRelative = "relative"
	pathTypeAbsolute = "absolute"
)

// FallbackStorageUID is the uid of the storage rooted at the public path
// that serves everything no configured storage covers.
const FallbackStorageUID = 0

// Repository loads storage records and builds Storage instances from them.
// Records are read on first use; instances are built once per uid.
type Repository struct {
	store    RecordStore
	opts     []StorageOption
	settings *storageSettings

	mu         sync.Mutex
	records    []StorageRecord
	loaded     bool
	storages   map[int]*Storage
	localPaths *localPathTable
}

// NewRepository creates a repository over store. The options apply to every
// storage it builds; storages share one index, dispatcher and offline
// registry.
func NewRepository(store RecordStore, opts ...StorageOption) (*Repository, error) {
	if store == nil {
		store = NewMemoryRecordStore()
	}
	st, err := newStorageSettings(opts)
	if err != nil {
		return nil, err
	}
	if err := st.config.Validate(); err != nil {
		return nil, err
	}
	shared := append(append([]StorageOption{}, opts...),
		WithIndex(st.index),
		WithOfflineRegistry(st.offline),
		WithConfig(st.config),
		WithExtensionPolicy(st.extensions),
	)
	return &Repository{
		store:    store,
		opts:     shared,
		settings: st,
		storages: make(map[int]*Storage),
	}, nil
}

// Index returns the file index shared by the repository's storages.
func (r *Repository) Index() Index { return r.settings.index }

// Config returns the configuration the repository was built with.
func (r *Repository) Config() *Config { return r.settings.config }

// loadRecords must be called with the lock held. With no records at all a
// local storage for the default storage directory is created first.
func (r *Repository) loadRecords(ctx context.Context) ([]StorageRecord, error) {
	if r.loaded {
		return r.records, nil
	}
	records, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		rec, err := r.provisionDefault(ctx)
		if err != nil {
			return nil, err
		}
		records = []StorageRecord{rec}
	}
	r.records = records
	r.loaded = true
	return records, nil
}

func (r *Repository) provisionDefault(ctx context.Context) (StorageRecord, error) {
	cfg := r.settings.config
	dir := strings.Trim(cfg.DefaultStorageDir, "/")
	if err := os.MkdirAll(filepath.Join(cfg.PublicPath, filepath.FromSlash(dir)), 0o755); err != nil {
		return StorageRecord{}, fmt.Errorf("creating default storage directory: %w", err)
	}
	rec, err := r.store.Create(ctx, localStorageRecord(
		dir+"/ (auto-created)",
		dir+"/",
		pathTypeRelative,
		"This is the local "+dir+"/ directory. This storage mount has been created automatically.",
		true,
	))
	if err != nil {
		return StorageRecord{}, err
	}
	clog.FromContext(ctx).Infof("created default storage %d for %s", rec.UID, dir)
	return rec, nil
}

func localStorageRecord(name, basePath, pathType, description string, isDefault bool) StorageRecord {
	return StorageRecord{
		Name:        name,
		Description: description,
		Driver:      LocalDriverType,
		IsDefault:   isDefault,
		IsBrowsable: true,
		IsPublic:    true,
		IsWritable:  true,
		IsOnline:    true,
		Configuration: map[string]any{
			"basePath":      basePath,
			"pathType":      pathType,
			"caseSensitive": true,
		},
	}
}

func (r *Repository) fallbackRecord() StorageRecord {
	rec := localStorageRecord("Fallback Storage", "/", pathTypeRelative,
		"Internal storage, mounting the public path.", false)
	rec.UID = FallbackStorageUID
	return rec
}

// instantiate must be called with the lock held.
func (r *Repository) instantiate(ctx context.Context, rec StorageRecord) (*Storage, error) {
	if s, ok := r.storages[rec.UID]; ok {
		return s, nil
	}
	drv, err := NewDriver(rec.Driver, DriverConfig{
		StorageUID:     rec.UID,
		Options:        rec.Configuration,
		PublicPath:     r.settings.config.PublicPath,
		ASCIIFileNames: !r.settings.config.UTF8FileSystem,
		TempDir:        r.settings.config.TempDir,
	})
	if err != nil {
		return nil, fmt.Errorf("storage %d: %w", rec.UID, err)
	}

	var foreign []string
	for _, other := range r.records {
		if uid, id, ok := splitProcessingFolder(other.ProcessingFolder); ok && uid == rec.UID && other.UID != rec.UID {
			foreign = append(foreign, drv.FolderInFolder(strings.Trim(id, "/"), drv.RootLevelFolder()))
		}
	}
	opts := append(append([]StorageOption{}, r.opts...), func(st *storageSettings) {
		st.resolve = r.FindByUID
		st.foreignProcessing = foreign
	})
	s, err := NewStorage(ctx, drv, rec, opts...)
	if err != nil {
		return nil, err
	}
	r.storages[rec.UID] = s
	return s, nil
}

// FindByUID returns the storage with uid. uid 0 is the fallback storage.
func (r *Repository) FindByUID(ctx context.Context, uid int) (*Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uid == FallbackStorageUID {
		return r.instantiate(ctx, r.fallbackRecord())
	}
	records, err := r.loadRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.UID == uid {
			return r.instantiate(ctx, rec)
		}
	}
	return nil, &PathError{Op: "storage", Path: strconv.Itoa(uid), Err: ErrNotExist}
}

// FindAll returns every configured storage. Records whose driver type is
// not registered are logged and skipped.
func (r *Repository) FindAll(ctx context.Context) ([]*Storage, error) {
	return r.find(ctx, func(StorageRecord) bool { return true })
}

// FindByDriver returns the configured storages using driverType.
func (r *Repository) FindByDriver(ctx context.Context, driverType string) ([]*Storage, error) {
	return r.find(ctx, func(rec StorageRecord) bool { return strings.EqualFold(rec.Driver, driverType) })
}

func (r *Repository) find(ctx context.Context, keep func(StorageRecord) bool) ([]*Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadRecords(ctx)
	if err != nil {
		return nil, err
	}
	log := clog.FromContext(ctx)
	var out []*Storage
	for _, rec := range records {
		if !keep(rec) {
			continue
		}
		if !IsDriverRegistered(rec.Driver) {
			log.Warnf("storage %d (%s): driver %q is not registered, skipping", rec.UID, rec.Name, rec.Driver)
			continue
		}
		s, err := r.instantiate(ctx, rec)
		if err != nil {
			log.Warnf("storage %d (%s): %v", rec.UID, rec.Name, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// DefaultStorage returns the storage marked default.
func (r *Repository) DefaultStorage(ctx context.Context) (*Storage, error) {
	r.mu.Lock()
	records, err := r.loadRecords(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.IsDefault {
			return r.FindByUID(ctx, rec.UID)
		}
	}
	return nil, &PathError{Op: "storage", Path: "default", Err: ErrNotExist}
}

// localPathTable must be called with the lock held.
func (r *Repository) localPathTable(ctx context.Context) (*localPathTable, error) {
	if r.localPaths != nil {
		return r.localPaths, nil
	}
	records, err := r.loadRecords(ctx)
	if err != nil {
		return nil, err
	}
	public, err := filepath.Abs(r.settings.config.PublicPath)
	if err != nil {
		return nil, err
	}
	t := newLocalPathTable()
	for _, rec := range records {
		if !strings.EqualFold(rec.Driver, LocalDriverType) {
			continue
		}
		basePath := configString(rec.Configuration, "basePath")
		pathType := configString(rec.Configuration, "pathType")
		if basePath == "" {
			continue
		}
		if pathType == pathTypeAbsolute {
			t.add(basePath, rec.UID)
			continue
		}
		t.add("/"+strings.Trim(basePath, "/"), rec.UID)
		t.add(filepath.Join(public, filepath.FromSlash(basePath)), rec.UID)
	}
	r.localPaths = t
	return t, nil
}

// configString reads a string option. Keys match case-insensitively since
// file loaders may lowercase them.
func configString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			s, _ := v.(string)
			return s
		}
	}
	return ""
}

// FindBestMatchingStorageByLocalPath returns the local storage whose base
// path is the longest prefix of localPath, together with the remainder as
// an identifier. Paths no storage covers resolve to the fallback storage
// with the normalized path as identifier. Both the public path relative
// form ("/fileadmin/a.txt") and the absolute form are matched.
func (r *Repository) FindBestMatchingStorageByLocalPath(ctx context.Context, localPath string) (*Storage, string, error) {
	r.mu.Lock()
	t, err := r.localPathTable(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, "", err
	}
	uid, identifier, ok := t.resolve(localPath)
	if !ok {
		uid = FallbackStorageUID
	}
	s, err := r.FindByUID(ctx, uid)
	if err != nil {
		return nil, "", err
	}
	return s, identifier, nil
}

// ResolveCombinedIdentifier splits "uid:identifier" and returns the
// storage and identifier. Without a uid the fallback storage is used.
func (r *Repository) ResolveCombinedIdentifier(ctx context.Context, combined string) (*Storage, string, error) {
	head, tail, found := strings.Cut(combined, ":")
	if !found {
		s, err := r.FindByUID(ctx, FallbackStorageUID)
		return s, combined, err
	}
	uid, err := strconv.Atoi(head)
	if err != nil {
		return nil, "", &PathError{Op: "resolve", Path: combined, Err: ErrInvalidArgument}
	}
	s, err := r.FindByUID(ctx, uid)
	return s, tail, err
}

// GetFileByCombinedIdentifier resolves "uid:identifier" to a file.
func (r *Repository) GetFileByCombinedIdentifier(ctx context.Context, combined string) (*File, error) {
	s, id, err := r.ResolveCombinedIdentifier(ctx, combined)
	if err != nil {
		return nil, err
	}
	return s.GetFile(ctx, id)
}

// GetFolderByCombinedIdentifier resolves "uid:identifier" to a folder.
func (r *Repository) GetFolderByCombinedIdentifier(ctx context.Context, combined string) (*Folder, error) {
	s, id, err := r.ResolveCombinedIdentifier(ctx, combined)
	if err != nil {
		return nil, err
	}
	return s.GetFolder(ctx, id)
}

// CreateLocalStorage adds a record for a local storage and returns its
// uid. pathType is "relative" (to the public path) or "absolute".
func (r *Repository) CreateLocalStorage(ctx context.Context, name, basePath, pathType, description string, isDefault bool) (int, error) {
	if basePath == "" {
		return 0, fmt.Errorf("%w: base path is required", ErrInvalidArgument)
	}
	switch pathType {
	case "":
		pathType = pathTypeRelative
	case pathTypeRelative, pathTypeAbsolute:
	default:
		return 0, fmt.Errorf("%w: path type must be relative or absolute, got %q", ErrInvalidArgument, pathType)
	}
	if pathType == pathTypeRelative && !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	rec, err := r.store.Create(ctx, localStorageRecord(name, basePath, pathType, description, isDefault))
	if err != nil {
		return 0, err
	}
	r.Flush()
	return rec.UID, nil
}

// Flush drops cached records and storage instances.
func (r *Repository) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.loaded = false
	r.storages = make(map[int]*Storage)
	r.localPaths = nil
}
