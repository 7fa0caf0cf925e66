package resourcekit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"path"
	"path/filepath"

	"github.com/chainguard-dev/clog"
)

func deletedError(op string, f *File) error {
	return &PathError{Op: op, Path: f.CombinedIdentifier(), Err: ErrDeleted}
}

func localFileMustExist(op, localPath string) error {
	st, err := os.Stat(localPath)
	if err != nil || st.IsDir() {
		return &PathError{Op: op, Path: localPath, Err: ErrInvalidArgument}
	}
	return nil
}

func (s *Storage) assureFileAdd(ctx context.Context, folder *Folder, name string) error {
	if !s.CheckFileExtension(name) {
		return illegalExtension(ActionAdd, name)
	}
	if !s.CheckUserAction(ActionAdd, KindFile) {
		return denied(ActionAdd, KindFile, name)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, folder) {
		return denied(ActionWrite, KindFolder, folder.identifier)
	}
	return nil
}

func (s *Storage) assureFileRead(ctx context.Context, f *File) error {
	if f.IsDeleted() {
		return deletedError("read", f)
	}
	if !s.CheckFileAction(ctx, ActionRead, f) {
		return denied(ActionRead, KindFile, f.identifier)
	}
	return nil
}

func (s *Storage) assureFileWrite(ctx context.Context, f *File) error {
	if !s.CheckFileAction(ctx, ActionWrite, f) {
		return denied(ActionWrite, KindFile, f.identifier)
	}
	if !s.CheckUserAction(ActionWrite, KindFolder) {
		return denied(ActionWrite, KindFolder, s.driver.ParentFolderIdentifier(f.identifier))
	}
	return nil
}

// assureFileDelete lets a missing file go when the caller could have
// deleted it had it been there, so stale index entries can be cleaned up.
func (s *Storage) assureFileDelete(ctx context.Context, f *File) error {
	if !s.CheckFileExtension(f.name) {
		return illegalExtension(ActionDelete, f.name)
	}
	st, err := s.fileState(ctx, f)
	if err != nil {
		return err
	}
	ev := s.Evaluator()
	if !ev.AllowsFile(ActionDelete, st) {
		if !st.Missing || !ev.AllowsUserAction(ActionDelete, KindFile) || !ev.WithinMounts(f.identifier, true) {
			return denied(ActionDelete, KindFile, f.identifier)
		}
	}
	if !ev.AllowsUserAction(ActionWrite, KindFolder) {
		return denied(ActionWrite, KindFolder, s.driver.ParentFolderIdentifier(f.identifier))
	}
	return nil
}

// resolvePolicy turns an empty policy into the configured default.
func (s *Storage) resolvePolicy(policy ConflictPolicy) ConflictPolicy {
	if policy != "" {
		return policy
	}
	p, err := ParseConflictPolicy(s.opts.config.DefaultConflictPolicy)
	if err != nil {
		return ConflictRename
	}
	return p
}

// targetName resolves a name collision in folder according to policy. It
// returns the name to use and whether an existing file gets replaced.
func (s *Storage) targetName(ctx context.Context, folder *Folder, name string, policy ConflictPolicy) (string, bool, error) {
	policy = s.resolvePolicy(policy)
	exists, err := s.driver.FileExistsInFolder(ctx, name, folder.identifier)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return name, false, nil
	}
	switch policy {
	case ConflictCancel:
		return "", false, &PathError{Op: "conflict", Path: s.driver.FileInFolder(name, folder.identifier), Err: ErrExist}
	case ConflictReplace:
		return name, true, nil
	}
	unique, err := s.UniqueName(ctx, folder, name)
	return unique, false, err
}

// AddFile imports the local file at localPath into folder (the default
// folder when nil) as name (the local base name when empty). With
// removeOriginal the local file is deleted once imported.
func (s *Storage) AddFile(ctx context.Context, localPath string, folder *Folder, name string, policy ConflictPolicy, removeOriginal bool) (*File, error) {
	if err := localFileMustExist("addfile", localPath); err != nil {
		return nil, err
	}
	if folder == nil {
		var err error
		if folder, err = s.GetDefaultFolder(ctx); err != nil {
			return nil, err
		}
	} else if err := s.ownsFolder(folder); err != nil {
		return nil, err
	}
	if name == "" {
		name = filepath.Base(localPath)
	}
	name, err := s.SanitizeFileName(ctx, name, folder)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFileAddedEvent{FileName: name, LocalPath: localPath, Folder: folder, Storage: s}).FileName

	if err := s.assureFileAdd(ctx, folder, name); err != nil {
		return nil, err
	}
	name, replacing, err := s.targetName(ctx, folder, name, policy)
	if err != nil {
		return nil, err
	}

	id, err := s.driver.AddFile(ctx, localPath, folder.identifier, name, removeOriginal)
	if err != nil {
		return nil, operationFailed("addfile", s.driver.FileInFolder(name, folder.identifier), err)
	}
	f, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if replacing {
		s.syncIndex(ctx, f)
	}
	Dispatch(ctx, s.opts.events, &AfterFileAddedEvent{File: f, Folder: folder})
	return f, nil
}

// CreateFile creates an empty file in folder.
func (s *Storage) CreateFile(ctx context.Context, name string, folder *Folder) (*File, error) {
	if err := s.ownsFolder(folder); err != nil {
		return nil, err
	}
	name, err := s.SanitizeFileName(ctx, name, folder)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFileCreatedEvent{FileName: name, Folder: folder}).FileName
	if err := s.assureFileAdd(ctx, folder, name); err != nil {
		return nil, err
	}
	id, err := s.driver.CreateFile(ctx, name, folder.identifier)
	if err != nil {
		return nil, operationFailed("createfile", s.driver.FileInFolder(name, folder.identifier), err)
	}
	f, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	Dispatch(ctx, s.opts.events, &AfterFileCreatedEvent{File: f, Folder: folder})
	return f, nil
}

// GetFileContents reads the whole file.
func (s *Storage) GetFileContents(ctx context.Context, f *File) ([]byte, error) {
	r, err := s.OpenFile(ctx, f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// OpenFile streams the file. The caller closes the reader.
func (s *Storage) OpenFile(ctx context.Context, f *File) (io.ReadCloser, error) {
	if err := s.assureFileRead(ctx, f); err != nil {
		return nil, err
	}
	return s.driver.Read(ctx, f.identifier)
}

// SetFileContents overwrites the content of f and refreshes its index
// record. It returns the number of bytes written.
func (s *Storage) SetFileContents(ctx context.Context, f *File, contents []byte) (int64, error) {
	if f.IsDeleted() {
		return 0, deletedError("setcontents", f)
	}
	if err := s.assureFileWrite(ctx, f); err != nil {
		return 0, err
	}
	contents = Dispatch(ctx, s.opts.events, &BeforeFileContentsSetEvent{File: f, Contents: contents}).Contents
	n, err := s.driver.Write(ctx, f.identifier, bytes.NewReader(contents))
	if err != nil {
		return 0, operationFailed("setcontents", f.identifier, err)
	}
	f.mu.Lock()
	f.props = nil
	f.mu.Unlock()
	s.syncIndex(ctx, f)
	Dispatch(ctx, s.opts.events, &AfterFileContentsSetEvent{File: f, Contents: contents})
	return n, nil
}

// FileForLocalProcessing returns a local path holding the content of f.
// With writable set the path is a private copy the caller removes.
func (s *Storage) FileForLocalProcessing(ctx context.Context, f *File, writable bool) (string, error) {
	if err := s.assureFileRead(ctx, f); err != nil {
		return "", err
	}
	return s.driver.FileForLocalProcessing(ctx, f.identifier, writable)
}

// HashFile returns the checksum of the content of f.
func (s *Storage) HashFile(ctx context.Context, f *File, algorithm ChecksumAlgorithm) (string, error) {
	if err := s.assureFileRead(ctx, f); err != nil {
		return "", err
	}
	return s.driver.Hash(ctx, f.identifier, algorithm)
}

// PublicURL returns the URL f is served under. Storages that are not
// public return ErrNotSupported.
func (s *Storage) PublicURL(ctx context.Context, f *File) (string, error) {
	if f.IsDeleted() {
		return "", deletedError("publicurl", f)
	}
	if !s.IsPublic() {
		return "", &PathError{Op: "publicurl", Path: f.CombinedIdentifier(), Err: ErrNotSupported}
	}
	return s.driver.PublicURL(ctx, f.identifier)
}

// CopyFile copies f, which may live in another storage, into target as
// name (f's name when empty). target must belong to s. Copies between
// storages go through a local temporary file. Metadata of the source is
// carried over; values already present on the copy win.
func (s *Storage) CopyFile(ctx context.Context, f *File, target *Folder, name string, policy ConflictPolicy) (*File, error) {
	if f.IsDeleted() {
		return nil, deletedError("copy", f)
	}
	if err := s.ownsFolder(target); err != nil {
		return nil, err
	}
	if name == "" {
		name = f.name
	}
	name, err := s.SanitizeFileName(ctx, name, target)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFileCopiedEvent{File: f, Folder: target, TargetName: name}).TargetName

	if !s.IsWithinFileMountBoundaries(target.identifier, false) {
		return nil, denied(ActionWrite, KindFolder, target.identifier)
	}
	if !f.storage.CheckFileAction(ctx, ActionCopy, f) {
		return nil, denied(ActionCopy, KindFile, f.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, target) {
		return nil, denied(ActionWrite, KindFolder, target.identifier)
	}
	if !s.CheckFileExtension(name) {
		return nil, illegalExtension(ActionCopy, name)
	}

	name, replacing, err := s.targetName(ctx, target, name, policy)
	if err != nil {
		return nil, err
	}

	var copied *File
	switch {
	case replacing:
		existing, err := s.GetFileInFolder(ctx, name, target)
		if err != nil {
			return nil, err
		}
		if !s.CheckFileAction(ctx, ActionReplace, existing) {
			return nil, denied(ActionReplace, KindFile, existing.identifier)
		}
		tmp, err := f.storage.driver.FileForLocalProcessing(ctx, f.identifier, true)
		if err != nil {
			return nil, operationFailed("copy", f.identifier, err)
		}
		err = s.driver.ReplaceFile(ctx, existing.identifier, tmp)
		removeTemp(ctx, tmp)
		if err != nil {
			return nil, operationFailed("copy", existing.identifier, err)
		}
		s.syncIndex(ctx, existing)
		copied = existing
	case f.storage == s:
		id, err := s.driver.CopyFileWithinStorage(ctx, f.identifier, target.identifier, name)
		if err != nil {
			return nil, operationFailed("copy", f.identifier, err)
		}
		if copied, err = s.GetFile(ctx, id); err != nil {
			return nil, err
		}
	default:
		tmp, err := f.storage.driver.FileForLocalProcessing(ctx, f.identifier, true)
		if err != nil {
			return nil, operationFailed("copy", f.identifier, err)
		}
		id, err := s.driver.AddFile(ctx, tmp, target.identifier, name, true)
		if err != nil {
			removeTemp(ctx, tmp)
			return nil, operationFailed("copy", f.CombinedIdentifier(), err)
		}
		if copied, err = s.GetFile(ctx, id); err != nil {
			return nil, err
		}
	}

	s.mergeMetadata(ctx, f, copied)
	Dispatch(ctx, s.opts.events, &AfterFileCopiedEvent{File: f, Folder: target, NewFile: copied})
	return copied, nil
}

// mergeMetadata copies the source's metadata onto dst; keys dst already
// has are kept.
func (s *Storage) mergeMetadata(ctx context.Context, src, dst *File) {
	srcRec, err := src.storage.indexRecord(ctx, src)
	if err != nil || len(srcRec.Metadata) == 0 {
		return
	}
	dstRec, err := s.indexRecord(ctx, dst)
	if err != nil {
		clog.FromContext(ctx).Warnf("storage %d: copying metadata to %s: %v", s.UID(), dst.identifier, err)
		return
	}
	merged := maps.Clone(srcRec.Metadata)
	maps.Copy(merged, dstRec.Metadata)
	dstRec.Metadata = merged
	if err := s.opts.index.Update(ctx, dstRec); err != nil {
		clog.FromContext(ctx).Warnf("storage %d: copying metadata to %s: %v", s.UID(), dst.identifier, err)
	}
}

func removeTemp(ctx context.Context, p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		clog.FromContext(ctx).Warnf("removing temporary file %s: %v", p, err)
	}
}

// MoveFile moves f, which may live in another storage, into target as name
// (f's name when empty). target must belong to s. Between storages the
// content is copied through a local temporary file and the source is then
// moved to its recycler or deleted. A taken name is only resolved under
// ConflictRename; every other policy fails with ErrExist. The returned
// handle replaces f.
func (s *Storage) MoveFile(ctx context.Context, f *File, target *Folder, name string, policy ConflictPolicy) (*File, error) {
	if f.IsDeleted() {
		return nil, deletedError("move", f)
	}
	if err := s.ownsFolder(target); err != nil {
		return nil, err
	}
	if name == "" {
		name = f.name
	}
	name, err := s.SanitizeFileName(ctx, name, target)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFileMovedEvent{File: f, Folder: target, TargetName: name}).TargetName

	if !s.CheckFileExtension(name) {
		return nil, illegalExtension(ActionMove, name)
	}
	if !f.storage.CheckFileAction(ctx, ActionMove, f) {
		return nil, denied(ActionMove, KindFile, f.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, target) {
		return nil, denied(ActionWrite, KindFolder, target.identifier)
	}

	if f.storage == s && s.driver.FileInFolder(name, target.identifier) == f.identifier {
		return f, nil
	}
	name, replacing, err := s.targetName(ctx, target, name, policy)
	if err != nil {
		return nil, err
	}
	if replacing {
		// a move never overwrites; the target is left untouched
		return nil, &PathError{Op: "move", Path: s.driver.FileInFolder(name, target.identifier), Err: ErrExist}
	}

	originalFolder := f.storage.folderHandle(f.storage.driver.ParentFolderIdentifier(f.identifier), "")
	var newID string
	if f.storage == s {
		newID, err = s.driver.MoveFileWithinStorage(ctx, f.identifier, target.identifier, name)
		if err != nil {
			return nil, operationFailed("move", f.identifier, err)
		}
	} else {
		tmp, err := f.storage.driver.FileForLocalProcessing(ctx, f.identifier, true)
		if err != nil {
			return nil, operationFailed("move", f.identifier, err)
		}
		newID, err = s.driver.AddFile(ctx, tmp, target.identifier, name, true)
		if err != nil {
			removeTemp(ctx, tmp)
			return nil, operationFailed("move", f.CombinedIdentifier(), err)
		}
		if err := f.storage.discardMovedSource(ctx, f); err != nil {
			if derr := s.driver.DeleteFile(ctx, newID); derr != nil {
				clog.FromContext(ctx).Errorf("storage %d: removing %s after failed move: %v", s.UID(), newID, derr)
			}
			return nil, err
		}
	}

	uid := f.indexUID
	if f.storage != s && f.storage.opts.index != s.opts.index {
		// uids are only meaningful within one index
		f.storage.removeIndexEntry(ctx, f)
		uid = 0
	}
	moved := newFile(s, newID, name, uid)
	s.syncIndex(ctx, moved)
	if moved.indexUID == 0 {
		if rec, err := s.indexRecord(ctx, moved); err == nil {
			moved.indexUID = rec.UID
		}
	}
	f.setDeleted()
	Dispatch(ctx, s.opts.events, &AfterFileMovedEvent{File: moved, OriginalFile: f, Folder: target, OriginalFolder: originalFolder})
	return moved, nil
}

// discardMovedSource removes the source of a move between storages. The
// file goes to the nearest recycler when there is one. Its index record
// stays with the moved file.
func (s *Storage) discardMovedSource(ctx context.Context, f *File) error {
	return s.WithoutPermissionEvaluation(func() error {
		recycler, err := s.NearestRecyclerFolder(ctx, f.identifier)
		if err != nil {
			return err
		}
		if recycler != nil {
			name, err := s.UniqueName(ctx, recycler, f.name)
			if err != nil {
				return err
			}
			if _, err := s.driver.MoveFileWithinStorage(ctx, f.identifier, recycler.identifier, name); err != nil {
				return operationFailed("move", f.identifier, err)
			}
			return nil
		}
		if err := s.driver.DeleteFile(ctx, f.identifier); err != nil {
			return operationFailed("move", f.identifier, err)
		}
		return nil
	})
}

// RenameFile renames f in place. A new name without extension keeps the
// old extension. On a collision policy decides: cancel fails, rename picks
// a unique name and replace overwrites the colliding file with f's content
// and removes f. The returned handle replaces f.
func (s *Storage) RenameFile(ctx context.Context, f *File, newName string, policy ConflictPolicy) (*File, error) {
	if f.IsDeleted() {
		return nil, deletedError("rename", f)
	}
	if newName == f.name {
		return f, nil
	}
	if ext := path.Ext(f.name); ext != "" && path.Ext(newName) == "" {
		newName += ext
	}
	parent := s.folderHandle(s.driver.ParentFolderIdentifier(f.identifier), "")
	newName, err := s.SanitizeFileName(ctx, newName, parent)
	if err != nil {
		return nil, err
	}
	newName = Dispatch(ctx, s.opts.events, &BeforeFileRenamedEvent{File: f, TargetName: newName}).TargetName
	if newName == f.name {
		return f, nil
	}

	if !s.CheckFileExtension(newName) || !s.CheckFileExtension(f.name) {
		return nil, illegalExtension(ActionRename, newName)
	}
	if !s.CheckFileAction(ctx, ActionRename, f) {
		return nil, denied(ActionRename, KindFile, f.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, nil) {
		return nil, denied(ActionWrite, KindFolder, parent.identifier)
	}

	newID, err := s.driver.RenameFile(ctx, f.identifier, newName)
	if errors.Is(err, ErrExist) {
		switch s.resolvePolicy(policy) {
		case ConflictCancel:
			return nil, &PathError{Op: "rename", Path: s.driver.FileInFolder(newName, parent.identifier), Err: ErrExist}
		case ConflictReplace:
			return s.renameOverExisting(ctx, f, parent, newName)
		}
		unique, uerr := s.UniqueName(ctx, parent, newName)
		if uerr != nil {
			return nil, uerr
		}
		newName = unique
		newID, err = s.driver.RenameFile(ctx, f.identifier, newName)
	}
	if err != nil {
		return nil, operationFailed("rename", f.identifier, err)
	}

	renamed := newFile(s, newID, newName, f.indexUID)
	s.syncIndex(ctx, renamed)
	f.setDeleted()
	Dispatch(ctx, s.opts.events, &AfterFileRenamedEvent{File: renamed, OriginalFile: f})
	return renamed, nil
}

func (s *Storage) renameOverExisting(ctx context.Context, f *File, parent *Folder, newName string) (*File, error) {
	colliding, err := s.GetFileInFolder(ctx, newName, parent)
	if err != nil {
		return nil, err
	}
	tmp, err := s.driver.FileForLocalProcessing(ctx, f.identifier, true)
	if err != nil {
		return nil, operationFailed("rename", f.identifier, err)
	}
	defer removeTemp(ctx, tmp)
	replaced, err := s.ReplaceFile(ctx, colliding, tmp)
	if err != nil {
		return nil, err
	}
	if err := s.driver.DeleteFile(ctx, f.identifier); err != nil {
		return nil, operationFailed("rename", f.identifier, err)
	}
	s.removeIndexEntry(ctx, f)
	f.setDeleted()
	Dispatch(ctx, s.opts.events, &AfterFileRenamedEvent{File: replaced, OriginalFile: f})
	return replaced, nil
}

// ReplaceFile overwrites the content of f with the local file at localPath.
func (s *Storage) ReplaceFile(ctx context.Context, f *File, localPath string) (*File, error) {
	if f.IsDeleted() {
		return nil, deletedError("replace", f)
	}
	if !s.CheckFileAction(ctx, ActionReplace, f) {
		return nil, denied(ActionReplace, KindFile, f.identifier)
	}
	parent := s.folderHandle(s.driver.ParentFolderIdentifier(f.identifier), "")
	if !s.CheckFolderAction(ctx, ActionWrite, parent) {
		return nil, denied(ActionWrite, KindFolder, parent.identifier)
	}
	if err := localFileMustExist("replace", localPath); err != nil {
		return nil, err
	}
	Dispatch(ctx, s.opts.events, &BeforeFileReplacedEvent{File: f, LocalPath: localPath})
	if err := s.driver.ReplaceFile(ctx, f.identifier, localPath); err != nil {
		return nil, operationFailed("replace", f.identifier, err)
	}
	f.mu.Lock()
	f.props = nil
	f.mu.Unlock()
	s.syncIndex(ctx, f)
	Dispatch(ctx, s.opts.events, &AfterFileReplacedEvent{File: f, LocalPath: localPath})
	return f, nil
}

// DeleteFile moves f to the nearest recycler folder or, when there is
// none or f already is in one, removes it. Deleting a deleted handle is a
// no-op.
func (s *Storage) DeleteFile(ctx context.Context, f *File) error {
	if f.IsDeleted() {
		return nil
	}
	if err := s.assureFileDelete(ctx, f); err != nil {
		return err
	}
	Dispatch(ctx, s.opts.events, &BeforeFileDeletedEvent{File: f})

	exists, err := s.driver.FileExists(ctx, f.identifier)
	if err != nil {
		return err
	}
	var recycled *File
	if exists {
		var recycler *Folder
		err := s.WithoutPermissionEvaluation(func() error {
			var err error
			recycler, err = s.NearestRecyclerFolder(ctx, f.identifier)
			return err
		})
		if err != nil {
			return err
		}
		if recycler != nil {
			name, err := s.UniqueName(ctx, recycler, f.name)
			if err != nil {
				return err
			}
			id, err := s.driver.MoveFileWithinStorage(ctx, f.identifier, recycler.identifier, name)
			if err != nil {
				return operationFailed("delete", f.identifier, err)
			}
			recycled = newFile(s, id, name, f.indexUID)
			s.syncIndex(ctx, recycled)
		} else {
			if err := s.driver.DeleteFile(ctx, f.identifier); err != nil {
				return operationFailed("delete", f.identifier, err)
			}
			s.removeIndexEntry(ctx, f)
		}
	} else {
		s.removeIndexEntry(ctx, f)
	}

	f.setDeleted()
	Dispatch(ctx, s.opts.events, &AfterFileDeletedEvent{File: f, Recycled: recycled})
	return nil
}
