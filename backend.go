package resourcekit

import (
	"context"
	"io"
	"time"
)

// Entry describes one file or directory of a Backend.
type Entry struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	ContentType string
	Metadata    map[string]string
}

// ============================================================================
// Backend
// ============================================================================

// Backend is the byte level store behind a Driver. Paths are slash separated
// and relative to the backend root; "" and "/" both name the root.
//
// The driver packages (local, memory, s3, gcs, azure, sftp, zip) implement
// Backend and register a factory that wraps it with NewBackendDriver.
type Backend interface {
	// Read returns a stream for reading file content.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write writes content from reader to path, creating parents as needed.
	Write(ctx context.Context, path string, r io.Reader, opts ...Option) error

	// Delete removes a file.
	Delete(ctx context.Context, path string) error

	// FileExists checks if a file exists at path.
	FileExists(ctx context.Context, path string) (bool, error)

	// DirExists checks if a directory exists at path.
	DirExists(ctx context.Context, path string) (bool, error)

	// Stat returns file/directory metadata.
	Stat(ctx context.Context, path string) (*Entry, error)

	// ListContents lists directory contents.
	// If recursive is true, includes all descendants.
	ListContents(ctx context.Context, path string, recursive bool) ([]Entry, error)

	// CreateDir creates a directory (and parents if needed).
	CreateDir(ctx context.Context, path string) error

	// DeleteDir removes a directory and all contents.
	DeleteDir(ctx context.Context, path string) error
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================
// Backends expose optional capabilities through these interfaces; the
// backend driver probes them with type assertions:
//
//	if copier, ok := b.(CanCopy); ok {
//	    copier.Copy(ctx, src, dst)
//	}

// CanCopy indicates the backend supports native copy operations.
type CanCopy interface {
	Copy(ctx context.Context, src, dst string) error
}

// CanMove indicates the backend supports native move/rename of files.
type CanMove interface {
	Move(ctx context.Context, src, dst string) error
}

// CanMoveDir indicates the backend can relocate a whole directory at once.
type CanMoveDir interface {
	MoveDir(ctx context.Context, src, dst string) error
}

// CanChecksum indicates the backend can hash content without streaming it
// through the caller.
type CanChecksum interface {
	Checksum(ctx context.Context, path string, algorithm ChecksumAlgorithm) (string, error)
}

// CanReportPermissions indicates the backend knows the effective access
// bits of an entry (for example the OS permissions of a local file).
type CanReportPermissions interface {
	Permissions(ctx context.Context, path string) (Permissions, error)
}

// CanLocalPath indicates the backend stores entries on the local disk and can
// hand out their real path for processing.
type CanLocalPath interface {
	LocalPath(path string) string
}

// CanPublicURL indicates the backend can address entries over HTTP.
type CanPublicURL interface {
	PublicURL(ctx context.Context, path string) (string, error)
}

// CanWatch indicates the backend supports change notifications.
//
//	if watcher, ok := b.(CanWatch); ok {
//	    token, err := watcher.Watch(ctx, "**/*.jpg")
//	    ...
//	}
type CanWatch interface {
	// Watch creates a change token for the specified glob pattern.
	// The token signals when any matching entry is created, modified, or deleted.
	Watch(ctx context.Context, pattern string) (ChangeToken, error)
}

// ReadOnlyBackend is implemented by backends that never accept writes.
type ReadOnlyBackend interface {
	ReadOnly() bool
}
