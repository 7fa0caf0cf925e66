// Package resourcekit manages files and folders kept in storages: named
// locations backed by a local directory, an object store, an SFTP server,
// a ZIP archive or memory. Callers work with [File] and [Folder] handles
// obtained from a [Storage] and never touch a backend directly.
//
// # Storages and drivers
//
// A [StorageRecord] describes a storage: its uid, the driver type and the
// driver configuration. A [Repository] loads records from a [RecordStore]
// and builds [Storage] instances through the driver registry:
//
//	import _ "github.com/gobeaver/resourcekit/driver/local"
//
//	repo, err := resourcekit.NewRepository(nil, resourcekit.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	storage, err := repo.DefaultStorage(ctx)
//
// When no record exists at all a local storage for "fileadmin/" below the
// public path is created. The storage with uid 0 is rooted at the public
// path itself and serves whatever no configured storage covers.
//
// Driver packages register themselves from init:
//
//   - Local filesystem (github.com/gobeaver/resourcekit/driver/local)
//   - In-memory (github.com/gobeaver/resourcekit/driver/memory)
//   - Amazon S3 (github.com/gobeaver/resourcekit/driver/s3)
//   - Google Cloud Storage (github.com/gobeaver/resourcekit/driver/gcs)
//   - Azure Blob Storage (github.com/gobeaver/resourcekit/driver/azure)
//   - SFTP (github.com/gobeaver/resourcekit/driver/sftp)
//   - ZIP archives, read-only (github.com/gobeaver/resourcekit/driver/zip)
//
// Each of them implements the small [Backend] interface plus whichever
// optional capabilities it supports ([CanCopy], [CanMove], [CanChecksum],
// [CanLocalPath], [CanPublicURL], [CanWatch]). [NewBackendDriver] turns a
// Backend into the identifier based [Driver] a Storage talks to. Wrap a
// backend with [NewReadOnly] to mount it without write access.
//
// # Permissions
//
// A storage built for a [Subject] evaluates every operation against the
// subject's permission bits, its file mounts, the storage capabilities, the
// driver's permissions and the extension deny list. Storages built without
// a subject evaluate nothing. Internal code that has to act outside the
// caller's mounts suspends the checks for a scope:
//
//	err := storage.WithoutPermissionEvaluation(func() error {
//	    _, err := storage.CreateFolder(ctx, "_temp_", nil)
//	    return err
//	})
//
// # Name conflicts
//
// Adding, copying, moving and renaming take a [ConflictPolicy].
// [ConflictCancel] fails with [ErrExist], [ConflictRename] picks
// "name_01.ext" up to "name_99.ext" and then a random suffix, and
// [ConflictReplace] overwrites the existing file.
//
// # Deleting
//
// Files and folders are moved to the nearest "_recycler_" folder when there
// is one. Deleting inside a recycler removes for good. A folder with content
// is only deleted recursively, and only when the subject may.
//
// # Processed files
//
// Derived files such as thumbnails live in the storage's processing folder,
// spread over hashed subfolders:
//
//	thumb, err := storage.ProcessedFileFor(ctx, original, "Image.Preview", map[string]string{"width": "200"})
//	if !thumb.Exists() {
//	    err = storage.UpdateProcessedFile(ctx, renderedPath, thumb)
//	}
//
// # Events
//
// Every mutating operation dispatches typed before and after events through
// a [Dispatcher]. Before events may change the target name:
//
//	resourcekit.Listen(dispatcher, func(ctx context.Context, e *resourcekit.BeforeFileAddedEvent) {
//	    e.FileName = strings.ToLower(e.FileName)
//	})
//
// # Error Handling
//
// Errors wrap sentinel values; use the helpers or errors.Is:
//
//	_, err := storage.GetFile(ctx, "/missing.txt")
//	if resourcekit.IsNotExist(err) {
//	    // File does not exist
//	}
//
//	var perr *resourcekit.PermissionError
//	if errors.As(err, &perr) {
//	    fmt.Printf("%s on %s denied\n", perr.Action, perr.Identifier)
//	}
//
// # Configuration
//
// [Config] is read from environment variables with the BEAVER_RESOURCEKIT_
// prefix by [GetConfig] and [Init]. Storage definition files are handled by
// the config subpackage.
package resourcekit
