package resourcekit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// StorageOption configures a Storage or, passed to NewRepository, every
// Storage the repository builds.
type StorageOption func(*storageSettings)

type storageSettings struct {
	index      Index
	events     *Dispatcher
	extensions *ExtensionPolicy
	subject    Subject
	config     *Config
	offline    *OfflineRegistry
	listHidden bool

	// set by the repository
	resolve           func(ctx context.Context, uid int) (*Storage, error)
	foreignProcessing []string
}

// WithIndex sets the file index. Storages default to a private MemoryIndex.
func WithIndex(idx Index) StorageOption {
	return func(s *storageSettings) { s.index = idx }
}

// WithDispatcher sets the event dispatcher.
func WithDispatcher(d *Dispatcher) StorageOption {
	return func(s *storageSettings) { s.events = d }
}

// WithExtensionPolicy replaces the deny list taken from the configuration.
func WithExtensionPolicy(p *ExtensionPolicy) StorageOption {
	return func(s *storageSettings) { s.extensions = p }
}

// WithSubject turns permission evaluation on and takes user permission bits
// and file mounts from subj.
func WithSubject(subj Subject) StorageOption {
	return func(s *storageSettings) { s.subject = subj }
}

// WithConfig sets the configuration used for defaults.
func WithConfig(cfg *Config) StorageOption {
	return func(s *storageSettings) { s.config = cfg }
}

// WithOfflineRegistry shares temporary offline state between repositories.
func WithOfflineRegistry(r *OfflineRegistry) StorageOption {
	return func(s *storageSettings) { s.offline = r }
}

// WithListHidden includes dot files in folder listings.
func WithListHidden(v bool) StorageOption {
	return func(s *storageSettings) { s.listHidden = v }
}

func newStorageSettings(opts []StorageOption) (*storageSettings, error) {
	st := &storageSettings{}
	for _, opt := range opts {
		opt(st)
	}
	if st.config == nil {
		st.config = DefaultConfig()
	}
	if st.index == nil {
		st.index = NewMemoryIndex()
	}
	if st.offline == nil {
		st.offline = NewOfflineRegistry()
	}
	if st.extensions == nil {
		p, err := st.config.ExtensionPolicy()
		if err != nil {
			return nil, err
		}
		st.extensions = p
	}
	return st, nil
}

// Storage binds a driver to its record and is the only way files and
// folders are changed. Every operation checks permissions, resolves name
// conflicts, keeps the index in sync and dispatches events.
type Storage struct {
	record StorageRecord
	driver Driver
	opts   *storageSettings

	mu               sync.RWMutex
	evaluate         bool
	user             UserPermissions
	mounts           []FileMount
	processingFolder *Folder
}

// NewStorage creates a storage for record on top of driver. Mounts of the
// subject whose folder does not exist are skipped with a warning.
func NewStorage(ctx context.Context, driver Driver, record StorageRecord, opts ...StorageOption) (*Storage, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: storage %d has no driver", ErrInvalidArgument, record.UID)
	}
	st, err := newStorageSettings(opts)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		record: record,
		driver: driver,
		opts:   st,
		user:   FullAccess(),
	}
	if st.subject == nil {
		return s, nil
	}

	s.evaluate = true
	s.user = st.subject.FilePermissions()
	for _, def := range st.subject.FileMounts(record.UID) {
		if err := s.AddFileMount(ctx, def); err != nil {
			if !errors.Is(err, ErrNotExist) {
				return nil, err
			}
			clog.FromContext(ctx).Warnf("storage %d: skipping file mount %q: %v", record.UID, def.Identifier, err)
		}
	}
	return s, nil
}

func (s *Storage) UID() int              { return s.record.UID }
func (s *Storage) Name() string          { return s.record.Name }
func (s *Storage) Record() StorageRecord { return s.record }
func (s *Storage) Driver() Driver        { return s.driver }
func (s *Storage) IsDefault() bool       { return s.record.IsDefault }

// IsFallback reports whether this is the storage with uid 0 rooted at the
// public path.
func (s *Storage) IsFallback() bool { return s.record.UID == 0 }

// IsOnline reports whether the storage can be used. The fallback storage is
// always online.
func (s *Storage) IsOnline() bool {
	if s.IsFallback() {
		return true
	}
	s.mu.RLock()
	online := s.record.IsOnline
	s.mu.RUnlock()
	if !online {
		return false
	}
	_, offline := s.opts.offline.OfflineUntil(s.record.UID)
	return !offline
}

// MarkOffline takes the storage offline for the rest of its lifetime.
func (s *Storage) MarkOffline() {
	if s.IsFallback() {
		return
	}
	s.mu.Lock()
	s.record.IsOnline = false
	s.mu.Unlock()
}

// MarkTemporarilyOffline takes the storage offline until the given time in
// every repository sharing the same OfflineRegistry.
func (s *Storage) MarkTemporarilyOffline(until time.Time) {
	if s.IsFallback() {
		return
	}
	s.opts.offline.MarkOffline(s.record.UID, until)
}

// Capabilities returns the capabilities of the record intersected with the
// driver's. An offline storage is neither browsable nor writable.
func (s *Storage) Capabilities() Capabilities {
	caps := Capabilities{
		Browsable:               s.record.IsBrowsable,
		Public:                  s.record.IsPublic,
		Writable:                s.record.IsWritable,
		HierarchicalIdentifiers: true,
	}.Intersect(s.driver.Capabilities())
	if !s.IsOnline() {
		caps.Browsable = false
		caps.Writable = false
	}
	return caps
}

func (s *Storage) IsBrowsable() bool { return s.Capabilities().Browsable }
func (s *Storage) IsPublic() bool    { return s.Capabilities().Public }
func (s *Storage) IsWritable() bool  { return s.Capabilities().Writable }

// ============================================================================
// Permission evaluation
// ============================================================================

// EvaluatePermissions reports whether user bits and mounts are checked.
func (s *Storage) EvaluatePermissions() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluate
}

// SetEvaluatePermissions switches user bit and mount checks on or off.
// Prefer WithoutPermissionEvaluation, which restores the previous state.
func (s *Storage) SetEvaluatePermissions(v bool) {
	s.mu.Lock()
	s.evaluate = v
	s.mu.Unlock()
}

// WithoutPermissionEvaluation runs fn with evaluation disabled and restores
// the previous state afterwards, also when fn fails or panics.
func (s *Storage) WithoutPermissionEvaluation(fn func() error) error {
	s.mu.Lock()
	prev := s.evaluate
	s.evaluate = false
	s.mu.Unlock()
	defer s.SetEvaluatePermissions(prev)
	return fn()
}

// UserPermissions returns the permission bits of the acting subject.
func (s *Storage) UserPermissions() UserPermissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// AddFileMount registers a folder of this storage as a mount. A writable
// mount is never downgraded to read-only by a later definition.
func (s *Storage) AddFileMount(ctx context.Context, def MountDefinition) error {
	exists, err := s.driver.FolderExists(ctx, def.Identifier)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "mount", Path: def.Identifier, Err: ErrNotExist}
	}
	info, err := s.driver.FolderInfo(ctx, def.Identifier)
	if err != nil {
		return err
	}
	if def.Title == "" {
		def.Title = info.Identifier
	}
	mount := FileMount{
		Identifier: info.Identifier,
		Title:      def.Title,
		ReadOnly:   def.ReadOnly,
		UserMount:  def.UserMount,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mounts {
		if m.Identifier != mount.Identifier {
			continue
		}
		if !m.ReadOnly && mount.ReadOnly {
			return nil
		}
		mount.Folder = m.Folder
		s.mounts[i] = mount
		return nil
	}
	s.mounts = append(s.mounts, mount)
	// the role depends on the mount itself, so the handle is built last
	s.mounts[len(s.mounts)-1].Folder = &Folder{
		storage:    s,
		identifier: info.Identifier,
		name:       info.Name,
		role:       mountRole(mount),
	}
	return nil
}

// FileMounts returns the registered mounts in registration order.
func (s *Storage) FileMounts() []FileMount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.mounts)
}

func mountRole(m FileMount) FolderRole {
	switch {
	case m.UserMount:
		return RoleUserMount
	case m.ReadOnly:
		return RoleReadonlyMount
	}
	return RoleMount
}

// Evaluator returns a snapshot of the permission evaluator for the current
// state of the storage.
func (s *Storage) Evaluator() *PermissionEvaluator {
	caps := s.Capabilities()
	processing := s.processingFolderIdentifiers()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &PermissionEvaluator{
		Enabled:           s.evaluate,
		User:              s.user,
		Mounts:            slices.Clone(s.mounts),
		Extensions:        s.opts.extensions,
		Capabilities:      caps,
		IsWithin:          s.driver.IsWithin,
		ProcessingFolders: processing,
	}
}

// IsWithinFileMountBoundaries reports whether identifier is inside a mount
// (a writable one when write is set) or inside a processing folder.
func (s *Storage) IsWithinFileMountBoundaries(identifier string, write bool) bool {
	return s.Evaluator().WithinMounts(identifier, write)
}

// CheckUserAction consults only the user permission bits.
func (s *Storage) CheckUserAction(action Action, kind ResourceKind) bool {
	return s.Evaluator().AllowsUserAction(action, kind)
}

// CheckFileExtension applies the extension deny list to name.
func (s *Storage) CheckFileExtension(name string) bool {
	return s.opts.extensions.Allows(name)
}

func (s *Storage) fileState(ctx context.Context, f *File) (ResourceState, error) {
	st := ResourceState{Identifier: f.identifier, Name: f.name, Missing: f.IsMissing()}
	if !st.Missing {
		exists, err := s.driver.FileExists(ctx, f.identifier)
		if err != nil {
			return st, err
		}
		if !exists {
			f.setMissing(true)
			st.Missing = true
		}
	}
	if !st.Missing {
		perms, err := s.driver.Permissions(ctx, f.identifier)
		if err != nil {
			return st, err
		}
		st.Permissions = perms
	}
	return st, nil
}

// CheckFileAction reports whether action is allowed on f. A file the driver
// no longer has is marked missing on the way.
func (s *Storage) CheckFileAction(ctx context.Context, action Action, f *File) bool {
	st, err := s.fileState(ctx, f)
	if err != nil {
		clog.FromContext(ctx).Warnf("storage %d: permissions of %s unavailable: %v", s.UID(), f.identifier, err)
		return false
	}
	return s.Evaluator().AllowsFile(action, st)
}

// CheckFolderAction reports whether action is allowed on folder. A nil
// folder only consults the user permission bits.
func (s *Storage) CheckFolderAction(ctx context.Context, action Action, folder *Folder) bool {
	if folder == nil {
		return s.Evaluator().AllowsFolder(action, nil)
	}
	if folder.inaccessible {
		return false
	}
	perms, err := s.driver.Permissions(ctx, folder.identifier)
	if err != nil {
		clog.FromContext(ctx).Warnf("storage %d: permissions of %s unavailable: %v", s.UID(), folder.identifier, err)
		return false
	}
	st := &ResourceState{Identifier: folder.identifier, Name: folder.name, Permissions: perms}
	return s.Evaluator().AllowsFolder(action, st)
}

func (s *Storage) assureFolderRead(ctx context.Context, folder *Folder) error {
	if !s.CheckFolderAction(ctx, ActionRead, folder) {
		id := ""
		if folder != nil {
			id = folder.identifier
		}
		return denied(ActionRead, KindFolder, id)
	}
	return nil
}

// ============================================================================
// Handles and roles
// ============================================================================

func (s *Storage) roleOf(identifier string) FolderRole {
	role := RoleDefault
	if r, ok := conventionalRoles[s.driver.BaseName(identifier)]; ok {
		role = r
	}
	s.mu.RLock()
	for _, m := range s.mounts {
		if m.Identifier == identifier {
			role = mountRole(m)
			break
		}
	}
	s.mu.RUnlock()
	if s.isProcessingFolder(identifier) {
		role = RoleProcessing
	}
	return role
}

func (s *Storage) folderHandle(identifier, name string) *Folder {
	if name == "" {
		name = s.driver.BaseName(identifier)
	}
	return &Folder{storage: s, identifier: identifier, name: name, role: s.roleOf(identifier)}
}

// folderFromDriver returns a handle without checking read permission.
func (s *Storage) folderFromDriver(ctx context.Context, identifier string) (*Folder, error) {
	exists, err := s.driver.FolderExists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &PathError{Op: "folder", Path: CombinedIdentifier(s.UID(), identifier), Err: ErrNotExist}
	}
	return s.folderHandle(identifier, ""), nil
}

func (s *Storage) ownsFolder(folder *Folder) error {
	if folder == nil || folder.storage != s {
		return fmt.Errorf("%w: folder does not belong to storage %d", ErrInvalidArgument, s.UID())
	}
	return nil
}

// SanitizeFileName lets the driver clean name and then gives
// SanitizeFileNameEvent listeners the final word.
func (s *Storage) SanitizeFileName(ctx context.Context, name string, folder *Folder) (string, error) {
	clean, err := s.driver.SanitizeFileName(name)
	if err != nil {
		return "", err
	}
	ev := Dispatch(ctx, s.opts.events, &SanitizeFileNameEvent{FileName: clean, Folder: folder, Storage: s})
	return ev.FileName, nil
}

// ============================================================================
// Lookups
// ============================================================================

// GetFile returns the file with identifier, indexing it when the index does
// not know it yet. A file the index knows but the driver lost comes back
// marked missing.
func (s *Storage) GetFile(ctx context.Context, identifier string) (*File, error) {
	rec, err := s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), identifier)
	if err == nil {
		f := newFile(s, identifier, rec.Name, rec.UID)
		exists, err := s.driver.FileExists(ctx, identifier)
		if err != nil {
			return nil, err
		}
		f.setMissing(!exists)
		return f, nil
	}
	if !errors.Is(err, ErrNotIndexed) {
		return nil, err
	}

	exists, err := s.driver.FileExists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &PathError{Op: "file", Path: CombinedIdentifier(s.UID(), identifier), Err: ErrNotExist}
	}
	rec, err = s.createIndexEntry(ctx, identifier)
	if err != nil {
		clog.FromContext(ctx).Warnf("storage %d: indexing %s: %v", s.UID(), identifier, err)
		return newFile(s, identifier, "", 0), nil
	}
	return newFile(s, identifier, rec.Name, rec.UID), nil
}

// GetFileInFolder returns the named file inside folder.
func (s *Storage) GetFileInFolder(ctx context.Context, name string, folder *Folder) (*File, error) {
	return s.GetFile(ctx, s.driver.FileInFolder(name, folder.identifier))
}

// GetFileByIndexUID returns the file an index record points at.
func (s *Storage) GetFileByIndexUID(ctx context.Context, uid uint64) (*File, error) {
	rec, err := s.opts.index.FindByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if rec.StorageUID != s.UID() {
		return nil, fmt.Errorf("%w: index record %d belongs to storage %d", ErrInvalidArgument, uid, rec.StorageUID)
	}
	return s.GetFile(ctx, rec.Identifier)
}

// HasFile reports whether identifier names an existing file.
func (s *Storage) HasFile(ctx context.Context, identifier string) (bool, error) {
	if err := s.assureFolderRead(ctx, nil); err != nil {
		return false, err
	}
	return s.driver.FileExists(ctx, identifier)
}

// HasFileInFolder reports whether folder directly contains a file of that
// name.
func (s *Storage) HasFileInFolder(ctx context.Context, name string, folder *Folder) (bool, error) {
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return false, err
	}
	return s.driver.FileExistsInFolder(ctx, name, folder.identifier)
}

// HasFolder reports whether identifier names an existing folder.
func (s *Storage) HasFolder(ctx context.Context, identifier string) (bool, error) {
	if err := s.assureFolderRead(ctx, nil); err != nil {
		return false, err
	}
	return s.driver.FolderExists(ctx, identifier)
}

// HasFolderInFolder reports whether folder directly contains a folder of
// that name.
func (s *Storage) HasFolderInFolder(ctx context.Context, name string, folder *Folder) (bool, error) {
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return false, err
	}
	return s.driver.FolderExistsInFolder(ctx, name, folder.identifier)
}

// GetFolder returns the folder with identifier after checking read access.
func (s *Storage) GetFolder(ctx context.Context, identifier string) (*Folder, error) {
	folder, err := s.folderFromDriver(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// GetFolderWithFallback behaves like GetFolder, but a folder the caller may
// not read whose parent is readable comes back as an inaccessible
// placeholder instead of an error.
func (s *Storage) GetFolderWithFallback(ctx context.Context, identifier string) (*Folder, error) {
	folder, err := s.GetFolder(ctx, identifier)
	if err == nil || !errors.Is(err, ErrPermission) {
		return folder, err
	}
	perms, perr := s.driver.Permissions(ctx, s.driver.ParentFolderIdentifier(identifier))
	if perr != nil || !perms.Read {
		return nil, err
	}
	placeholder := s.folderHandle(identifier, "")
	placeholder.inaccessible = true
	return placeholder, nil
}

// GetFolderInFolder returns the named folder inside parent.
func (s *Storage) GetFolderInFolder(ctx context.Context, name string, parent *Folder) (*Folder, error) {
	return s.GetFolder(ctx, s.driver.FolderInFolder(name, parent.identifier))
}

// GetParentFolder returns the folder containing folder.
func (s *Storage) GetParentFolder(ctx context.Context, folder *Folder) (*Folder, error) {
	return s.GetFolder(ctx, s.driver.ParentFolderIdentifier(folder.identifier))
}

// GetRootLevelFolder returns the storage root. With respectMounts set and
// mounts registered, the first mount's folder is returned instead.
func (s *Storage) GetRootLevelFolder(ctx context.Context, respectMounts bool) (*Folder, error) {
	if respectMounts && s.EvaluatePermissions() {
		if mounts := s.FileMounts(); len(mounts) > 0 {
			return mounts[0].Folder, nil
		}
	}
	return s.folderFromDriver(ctx, s.driver.RootLevelFolder())
}

// GetDefaultFolder returns the folder uploads go to when no target is given.
func (s *Storage) GetDefaultFolder(ctx context.Context) (*Folder, error) {
	id, err := s.driver.DefaultFolder(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetFolder(ctx, id)
}

// IsWithinFolder reports whether identifier lies inside folder.
func (s *Storage) IsWithinFolder(folder *Folder, identifier string) bool {
	if folder == nil || folder.storage != s {
		return false
	}
	return s.driver.IsWithin(folder.identifier, identifier)
}

func (s *Storage) listingFilters(filters []NameFilter) []NameFilter {
	if s.opts.listHidden {
		return filters
	}
	return append([]NameFilter{HideHidden()}, filters...)
}

// FilesInFolder lists the files in folder, optionally recursing. Dot files
// are hidden unless the storage was built WithListHidden.
func (s *Storage) FilesInFolder(ctx context.Context, folder *Folder, recursive bool, filters ...NameFilter) ([]*File, error) {
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return nil, err
	}
	ids, err := s.driver.FilesInFolder(ctx, folder.identifier, recursive)
	if err != nil {
		return nil, err
	}
	filters = s.listingFilters(filters)
	files := make([]*File, 0, len(ids))
	for _, id := range ids {
		if !matchAll(filters, s.driver.BaseName(id), id, false) {
			continue
		}
		f, err := s.GetFile(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				continue
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// FoldersInFolder lists the folders in folder, optionally recursing.
func (s *Storage) FoldersInFolder(ctx context.Context, folder *Folder, recursive bool, filters ...NameFilter) ([]*Folder, error) {
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return nil, err
	}
	ids, err := s.driver.FoldersInFolder(ctx, folder.identifier, recursive)
	if err != nil {
		return nil, err
	}
	filters = s.listingFilters(filters)
	folders := make([]*Folder, 0, len(ids))
	for _, id := range ids {
		name := s.driver.BaseName(id)
		if !matchAll(filters, name, id, true) {
			continue
		}
		folders = append(folders, s.folderHandle(id, name))
	}
	return folders, nil
}

// CountFilesInFolder counts what FilesInFolder would return.
func (s *Storage) CountFilesInFolder(ctx context.Context, folder *Folder, recursive bool, filters ...NameFilter) (int, error) {
	if err := s.assureFolderRead(ctx, folder); err != nil {
		return 0, err
	}
	ids, err := s.driver.FilesInFolder(ctx, folder.identifier, recursive)
	if err != nil {
		return 0, err
	}
	filters = s.listingFilters(filters)
	n := 0
	for _, id := range ids {
		if matchAll(filters, s.driver.BaseName(id), id, false) {
			n++
		}
	}
	return n, nil
}

func (s *Storage) String() string {
	return fmt.Sprintf("storage %d (%s, %s)", s.UID(), s.Name(), strings.ToLower(s.record.Driver))
}
