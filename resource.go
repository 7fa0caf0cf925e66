package resourcekit

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// FolderRole describes what a folder is used for.
type FolderRole string

const (
	RoleDefault       FolderRole = "default"
	RoleRecycler      FolderRole = "recycler"
	RoleProcessing    FolderRole = "processing"
	RoleTemporary     FolderRole = "temporary"
	RoleUserUpload    FolderRole = "user-upload"
	RoleMount         FolderRole = "mount"
	RoleReadonlyMount FolderRole = "readonly-mount"
	RoleUserMount     FolderRole = "user-mount"
)

// conventionalRoles maps folder names to the role they carry anywhere in
// a storage.
var conventionalRoles = map[string]FolderRole{
	"_recycler_":  RoleRecycler,
	"_temp_":      RoleTemporary,
	"user_upload": RoleUserUpload,
}

// CombinedIdentifier joins a storage uid and an identifier as "uid:identifier".
func CombinedIdentifier(storageUID int, identifier string) string {
	return fmt.Sprintf("%d:%s", storageUID, identifier)
}

// FileProperties are the lazily loaded facts about a file.
type FileProperties struct {
	StorageUID int
	Identifier string
	Name       string
	Extension  string
	MimeType   string
	Size       int64
	SHA1       string
	Created    time.Time
	Modified   time.Time
	Metadata   map[string]string
}

// File is a handle to a file in a Storage. Handles are values: operations
// that change the identifier return a new handle. Only the deleted flag
// changes in place.
type File struct {
	storage    *Storage
	identifier string
	name       string
	indexUID   uint64

	mu      sync.Mutex
	deleted bool
	missing bool
	props   *FileProperties
}

func newFile(s *Storage, identifier, name string, indexUID uint64) *File {
	if name == "" {
		name = s.driver.BaseName(identifier)
	}
	return &File{storage: s, identifier: identifier, name: name, indexUID: indexUID}
}

func (f *File) Storage() *Storage          { return f.storage }
func (f *File) Identifier() string         { return f.identifier }
func (f *File) Name() string               { return f.name }
func (f *File) IndexUID() uint64           { return f.indexUID }
func (f *File) CombinedIdentifier() string { return CombinedIdentifier(f.storage.UID(), f.identifier) }

// Extension returns the lower case extension without the dot.
func (f *File) Extension() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.name), "."))
}

// NameWithoutExtension returns the name up to the last dot.
func (f *File) NameWithoutExtension() string {
	return strings.TrimSuffix(f.name, path.Ext(f.name))
}

func (f *File) IsDeleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted
}

// IsMissing reports whether the index knows the file but the driver does not.
func (f *File) IsMissing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missing
}

func (f *File) setDeleted() {
	f.mu.Lock()
	f.deleted = true
	f.mu.Unlock()
}

func (f *File) setMissing(v bool) {
	f.mu.Lock()
	f.missing = v
	f.mu.Unlock()
}

// Properties loads the file's properties once and caches them.
func (f *File) Properties(ctx context.Context) (*FileProperties, error) {
	f.mu.Lock()
	deleted, props := f.deleted, f.props
	f.mu.Unlock()
	if deleted {
		return nil, &PathError{Op: "properties", Path: f.identifier, Err: ErrDeleted}
	}
	if props != nil {
		return props, nil
	}
	props, err := f.storage.loadFileProperties(ctx, f)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.props = props
	f.mu.Unlock()
	return props, nil
}

// Size returns the file size in bytes.
func (f *File) Size(ctx context.Context) (int64, error) {
	p, err := f.Properties(ctx)
	if err != nil {
		return 0, err
	}
	return p.Size, nil
}

// SHA1 returns the hex encoded SHA-1 of the content.
func (f *File) SHA1(ctx context.Context) (string, error) {
	p, err := f.Properties(ctx)
	if err != nil {
		return "", err
	}
	return p.SHA1, nil
}

// MimeType returns the detected MIME type.
func (f *File) MimeType(ctx context.Context) (string, error) {
	p, err := f.Properties(ctx)
	if err != nil {
		return "", err
	}
	return p.MimeType, nil
}

// Contents reads the whole file through its storage.
func (f *File) Contents(ctx context.Context) ([]byte, error) {
	return f.storage.GetFileContents(ctx, f)
}

// Open streams the file through its storage.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.storage.OpenFile(ctx, f)
}

// ParentFolder returns the folder that contains the file.
func (f *File) ParentFolder(ctx context.Context) (*Folder, error) {
	return f.storage.GetFolder(ctx, f.storage.driver.ParentFolderIdentifier(f.identifier))
}

func (f *File) String() string { return f.CombinedIdentifier() }

// Folder is a handle to a folder in a Storage.
type Folder struct {
	storage      *Storage
	identifier   string
	name         string
	role         FolderRole
	inaccessible bool
}

func (f *Folder) Storage() *Storage          { return f.storage }
func (f *Folder) Identifier() string         { return f.identifier }
func (f *Folder) Name() string               { return f.name }
func (f *Folder) Role() FolderRole           { return f.role }
func (f *Folder) CombinedIdentifier() string { return CombinedIdentifier(f.storage.UID(), f.identifier) }

// Inaccessible reports whether this is a placeholder for a folder the
// caller may not read.
func (f *Folder) Inaccessible() bool { return f.inaccessible }

// Files lists the files directly inside the folder.
func (f *Folder) Files(ctx context.Context, filters ...NameFilter) ([]*File, error) {
	return f.storage.FilesInFolder(ctx, f, false, filters...)
}

// Subfolders lists the folders directly inside the folder.
func (f *Folder) Subfolders(ctx context.Context, filters ...NameFilter) ([]*Folder, error) {
	return f.storage.FoldersInFolder(ctx, f, false, filters...)
}

// HasFile reports whether a file of that name exists directly inside.
func (f *Folder) HasFile(ctx context.Context, name string) (bool, error) {
	return f.storage.HasFileInFolder(ctx, name, f)
}

// HasFolder reports whether a folder of that name exists directly inside.
func (f *Folder) HasFolder(ctx context.Context, name string) (bool, error) {
	return f.storage.HasFolderInFolder(ctx, name, f)
}

// Subfolder returns the named child folder.
func (f *Folder) Subfolder(ctx context.Context, name string) (*Folder, error) {
	return f.storage.GetFolderInFolder(ctx, name, f)
}

// Parent returns the parent folder. The root folder is its own parent.
func (f *Folder) Parent(ctx context.Context) (*Folder, error) {
	return f.storage.GetFolder(ctx, f.storage.driver.ParentFolderIdentifier(f.identifier))
}

func (f *Folder) String() string { return f.CombinedIdentifier() }

// ProcessedFile is a file derived from an original by a processing task
// (a thumbnail, a crop). It lives below a storage's processing folder.
type ProcessedFile struct {
	Original      *File
	TaskType      string
	Configuration map[string]string

	storage    *Storage
	identifier string
	name       string
	checksum   string
	exists     bool
	deleted    bool
}

// Storage returns the storage holding the processed file, which may differ
// from the storage of the original.
func (p *ProcessedFile) Storage() *Storage { return p.storage }
func (p *ProcessedFile) Identifier() string { return p.identifier }
func (p *ProcessedFile) Name() string { return p.name }

// Checksum identifies the task and configuration the file was derived with.
func (p *ProcessedFile) Checksum() string { return p.checksum }

// Exists reports whether the processed file has been written.
func (p *ProcessedFile) Exists() bool { return p.exists && !p.deleted }

func (p *ProcessedFile) IsDeleted() bool { return p.deleted }

func (p *ProcessedFile) CombinedIdentifier() string {
	return CombinedIdentifier(p.storage.UID(), p.identifier)
}
