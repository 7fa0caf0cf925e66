package resourcekit

import (
	"context"
	"io"
	"time"
)

// Capabilities are the storage level flags a driver supports. The effective
// capabilities of a Storage are the intersection of these and its record.
type Capabilities struct {
	Browsable               bool
	Public                  bool
	Writable                bool
	HierarchicalIdentifiers bool
}

// Intersect returns the capabilities present in both c and o.
func (c Capabilities) Intersect(o Capabilities) Capabilities {
	return Capabilities{
		Browsable:               c.Browsable && o.Browsable,
		Public:                  c.Public && o.Public,
		Writable:                c.Writable && o.Writable,
		HierarchicalIdentifiers: c.HierarchicalIdentifiers && o.HierarchicalIdentifiers,
	}
}

// Permissions are the raw access bits a driver reports for one identifier.
type Permissions struct {
	Read  bool
	Write bool
}

// ResourceInfo is what a driver knows about a file or folder.
type ResourceInfo struct {
	Identifier string
	Name       string
	Size       int64
	MimeType   string
	Created    time.Time
	Modified   time.Time
	IsFolder   bool
}

// Driver performs identifier addressed operations on one physical backend.
// Identifiers are opaque to everything but the driver: composing, splitting
// and comparing them always goes through the driver.
//
// Folder moving operations return a map from every old identifier in the
// moved subtree (files and folders) to its new identifier.
type Driver interface {
	Capabilities() Capabilities
	IsCaseSensitive() bool

	// SanitizeFileName makes name safe for the backend. It fails with
	// ErrInvalidArgument when nothing usable is left.
	SanitizeFileName(name string) (string, error)

	RootLevelFolder() string
	DefaultFolder(ctx context.Context) (string, error)
	ParentFolderIdentifier(identifier string) string
	FileInFolder(name, folderIdentifier string) string
	FolderInFolder(name, folderIdentifier string) string
	BaseName(identifier string) string

	// IsWithin reports whether identifier equals folderIdentifier or lies
	// below it.
	IsWithin(folderIdentifier, identifier string) bool

	FileExists(ctx context.Context, identifier string) (bool, error)
	FolderExists(ctx context.Context, identifier string) (bool, error)
	FileExistsInFolder(ctx context.Context, name, folderIdentifier string) (bool, error)
	FolderExistsInFolder(ctx context.Context, name, folderIdentifier string) (bool, error)
	IsFolderEmpty(ctx context.Context, identifier string) (bool, error)

	FileInfo(ctx context.Context, identifier string) (*ResourceInfo, error)
	FolderInfo(ctx context.Context, identifier string) (*ResourceInfo, error)
	FilesInFolder(ctx context.Context, identifier string, recursive bool) ([]string, error)
	FoldersInFolder(ctx context.Context, identifier string, recursive bool) ([]string, error)

	Permissions(ctx context.Context, identifier string) (Permissions, error)
	Hash(ctx context.Context, identifier string, algorithm ChecksumAlgorithm) (string, error)

	CreateFolder(ctx context.Context, name, parentIdentifier string) (string, error)
	RenameFolder(ctx context.Context, identifier, newName string) (map[string]string, error)
	MoveFolderWithinStorage(ctx context.Context, identifier, targetParent, newName string) (map[string]string, error)
	CopyFolderWithinStorage(ctx context.Context, identifier, targetParent, newName string) error
	DeleteFolder(ctx context.Context, identifier string, recursive bool) error

	// AddFile imports a local file, overwriting an existing file of the
	// same name. The local file is removed afterwards when removeOriginal.
	AddFile(ctx context.Context, localPath, folderIdentifier, name string, removeOriginal bool) (string, error)
	CreateFile(ctx context.Context, name, folderIdentifier string) (string, error)
	CopyFileWithinStorage(ctx context.Context, identifier, folderIdentifier, name string) (string, error)
	MoveFileWithinStorage(ctx context.Context, identifier, folderIdentifier, name string) (string, error)

	// RenameFile fails with ErrExist when the new name is taken.
	RenameFile(ctx context.Context, identifier, newName string) (string, error)
	ReplaceFile(ctx context.Context, identifier, localPath string) error
	DeleteFile(ctx context.Context, identifier string) error

	Read(ctx context.Context, identifier string) (io.ReadCloser, error)
	Write(ctx context.Context, identifier string, r io.Reader) (int64, error)

	// FileForLocalProcessing returns a path on the local disk holding the
	// file content. With writable set the path is always a private copy.
	FileForLocalProcessing(ctx context.Context, identifier string, writable bool) (string, error)

	// PublicURL returns ErrNotSupported when the backend cannot be
	// addressed over HTTP.
	PublicURL(ctx context.Context, identifier string) (string, error)

	// Watch returns ErrNotSupported when the backend has no change events.
	Watch(ctx context.Context, pattern string) (ChangeToken, error)
}
