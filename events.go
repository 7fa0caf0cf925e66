package resourcekit

import (
	"context"
	"reflect"
	"sync"
)

// Dispatcher delivers typed events to listeners synchronously, in
// registration order. A nil *Dispatcher drops every event.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[reflect.Type][]any
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[reflect.Type][]any)}
}

// Listen registers fn for events of type E.
//
//	resourcekit.Listen(d, func(ctx context.Context, e *resourcekit.BeforeFileAddedEvent) {
//	    e.FileName = strings.ToLower(e.FileName)
//	})
func Listen[E any](d *Dispatcher, fn func(ctx context.Context, event *E)) {
	t := reflect.TypeFor[E]()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[t] = append(d.listeners[t], fn)
}

// Dispatch runs every listener for E and returns the (possibly modified)
// event.
func Dispatch[E any](ctx context.Context, d *Dispatcher, event *E) *E {
	if d == nil {
		return event
	}
	d.mu.RLock()
	fns := append([]any(nil), d.listeners[reflect.TypeFor[E]()]...)
	d.mu.RUnlock()

	for _, fn := range fns {
		fn.(func(context.Context, *E))(ctx, event)
	}
	return event
}

// SanitizeFileNameEvent runs after the driver sanitized a name. Listeners
// may rewrite FileName; the result is not sanitized again.
type SanitizeFileNameEvent struct {
	FileName string
	Folder   *Folder
	Storage  *Storage
}

// ============================================================================
// File events
// ============================================================================

// BeforeFileAddedEvent may change the name the file is added under.
type BeforeFileAddedEvent struct {
	FileName  string
	LocalPath string
	Folder    *Folder
	Storage   *Storage
}

type AfterFileAddedEvent struct {
	File   *File
	Folder *Folder
}

// BeforeFileCreatedEvent may change the name of the new empty file.
type BeforeFileCreatedEvent struct {
	FileName string
	Folder   *Folder
}

type AfterFileCreatedEvent struct {
	File   *File
	Folder *Folder
}

// BeforeFileCopiedEvent may change the name of the copy.
type BeforeFileCopiedEvent struct {
	File       *File
	Folder     *Folder
	TargetName string
}

type AfterFileCopiedEvent struct {
	File    *File
	Folder  *Folder
	NewFile *File
}

// BeforeFileMovedEvent may change the name in the target folder.
type BeforeFileMovedEvent struct {
	File       *File
	Folder     *Folder
	TargetName string
}

type AfterFileMovedEvent struct {
	File           *File
	OriginalFile   *File
	Folder         *Folder
	OriginalFolder *Folder
}

// BeforeFileRenamedEvent may change the new name.
type BeforeFileRenamedEvent struct {
	File       *File
	TargetName string
}

type AfterFileRenamedEvent struct {
	File         *File
	OriginalFile *File
}

type BeforeFileReplacedEvent struct {
	File      *File
	LocalPath string
}

type AfterFileReplacedEvent struct {
	File      *File
	LocalPath string
}

type BeforeFileDeletedEvent struct {
	File *File
}

// AfterFileDeletedEvent carries the recycled handle when the file was
// moved to a recycler folder instead of being removed.
type AfterFileDeletedEvent struct {
	File     *File
	Recycled *File
}

type BeforeFileContentsSetEvent struct {
	File     *File
	Contents []byte
}

type AfterFileContentsSetEvent struct {
	File     *File
	Contents []byte
}

type AfterProcessedFileUpdatedEvent struct {
	ProcessedFile *ProcessedFile
}

// ============================================================================
// Folder events
// ============================================================================

// BeforeFolderAddedEvent may change the name of the new folder.
type BeforeFolderAddedEvent struct {
	Parent     *Folder
	FolderName string
}

type AfterFolderAddedEvent struct {
	Folder *Folder
}

// BeforeFolderCopiedEvent may change the name of the copy.
type BeforeFolderCopiedEvent struct {
	Folder     *Folder
	Target     *Folder
	TargetName string
}

type AfterFolderCopiedEvent struct {
	Folder    *Folder
	Target    *Folder
	NewFolder *Folder
}

// BeforeFolderMovedEvent may change the name in the target folder.
type BeforeFolderMovedEvent struct {
	Folder     *Folder
	Target     *Folder
	TargetName string
}

type AfterFolderMovedEvent struct {
	Folder    *Folder
	Target    *Folder
	NewFolder *Folder
}

// BeforeFolderRenamedEvent may change the new name.
type BeforeFolderRenamedEvent struct {
	Folder     *Folder
	TargetName string
}

type AfterFolderRenamedEvent struct {
	Folder         *Folder
	OriginalFolder *Folder
}

type BeforeFolderDeletedEvent struct {
	Folder *Folder
}

type AfterFolderDeletedEvent struct {
	Folder   *Folder
	Recycled *Folder
}
