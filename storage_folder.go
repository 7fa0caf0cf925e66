package resourcekit

import (
	"context"
	"errors"
	"strings"

	"github.com/chainguard-dev/clog"
)

// indexedFiles collects the indexed files below folder, breadth first, so
// their records can follow the folder when it moves.
func (s *Storage) indexedFiles(ctx context.Context, folder *Folder) ([]*IndexRecord, error) {
	var records []*IndexRecord
	queue := []string{folder.identifier}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		subs, err := s.driver.FoldersInFolder(ctx, id, false)
		if err != nil {
			return nil, err
		}
		queue = append(queue, subs...)
		files, err := s.driver.FilesInFolder(ctx, id, false)
		if err != nil {
			return nil, err
		}
		for _, fid := range files {
			rec, err := s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), fid)
			if err != nil {
				if errors.Is(err, ErrNotIndexed) {
					continue
				}
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// repoint moves index records along a driver identifier mapping.
func (s *Storage) repoint(ctx context.Context, records []*IndexRecord, mapping map[string]string) {
	for _, rec := range records {
		newID, ok := mapping[rec.Identifier]
		if !ok {
			continue
		}
		f := newFile(s, newID, "", rec.UID)
		s.syncIndex(ctx, f)
	}
}

// folderTargetName applies a conflict policy to a folder name in parent.
// Replacing whole folders is not supported; replace behaves like cancel.
func (s *Storage) folderTargetName(ctx context.Context, parent *Folder, name string, policy ConflictPolicy) (string, error) {
	taken, err := s.driver.FolderExistsInFolder(ctx, name, parent.identifier)
	if err != nil {
		return "", err
	}
	if !taken {
		if taken, err = s.driver.FileExistsInFolder(ctx, name, parent.identifier); err != nil {
			return "", err
		}
	}
	if !taken {
		return name, nil
	}
	if s.resolvePolicy(policy) == ConflictRename {
		return s.UniqueName(ctx, parent, name)
	}
	return "", &PathError{Op: "conflict", Path: s.driver.FolderInFolder(name, parent.identifier), Err: ErrExist}
}

func (s *Storage) sanitizeFolderName(ctx context.Context, name string, parent *Folder) (string, error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	for i, part := range parts {
		clean, err := s.SanitizeFileName(ctx, part, parent)
		if err != nil {
			return "", err
		}
		parts[i] = clean
	}
	return strings.Join(parts, "/"), nil
}

// CreateFolder creates name inside parent (the root when nil). Names with
// slashes create the intermediate folders too.
func (s *Storage) CreateFolder(ctx context.Context, name string, parent *Folder) (*Folder, error) {
	if parent == nil {
		var err error
		if parent, err = s.folderFromDriver(ctx, s.driver.RootLevelFolder()); err != nil {
			return nil, err
		}
	} else {
		if err := s.ownsFolder(parent); err != nil {
			return nil, err
		}
		exists, err := s.driver.FolderExists(ctx, parent.identifier)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &PathError{Op: "createfolder", Path: parent.CombinedIdentifier(), Err: ErrNotExist}
		}
	}
	name, err := s.sanitizeFolderName(ctx, name, parent)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFolderAddedEvent{Parent: parent, FolderName: name}).FolderName

	if !s.CheckFolderAction(ctx, ActionAdd, parent) {
		return nil, denied(ActionAdd, KindFolder, parent.identifier)
	}
	if _, err := s.folderTargetName(ctx, parent, name, ConflictCancel); err != nil {
		return nil, err
	}
	id, err := s.driver.CreateFolder(ctx, name, parent.identifier)
	if err != nil {
		return nil, operationFailed("createfolder", s.driver.FolderInFolder(name, parent.identifier), err)
	}
	folder := s.folderHandle(id, "")
	Dispatch(ctx, s.opts.events, &AfterFolderAddedEvent{Folder: folder})
	return folder, nil
}

// RenameFolder renames folder in place and moves the index records of the
// files below it along. The returned handle replaces folder.
func (s *Storage) RenameFolder(ctx context.Context, folder *Folder, newName string) (*Folder, error) {
	if err := s.ownsFolder(folder); err != nil {
		return nil, err
	}
	if !s.CheckFolderAction(ctx, ActionRename, folder) {
		return nil, denied(ActionRename, KindFolder, folder.identifier)
	}
	parent := s.folderHandle(s.driver.ParentFolderIdentifier(folder.identifier), "")
	newName, err := s.SanitizeFileName(ctx, newName, parent)
	if err != nil {
		return nil, err
	}
	newName = Dispatch(ctx, s.opts.events, &BeforeFolderRenamedEvent{Folder: folder, TargetName: newName}).TargetName
	if newName == folder.name {
		return folder, nil
	}
	if _, err := s.folderTargetName(ctx, parent, newName, ConflictCancel); err != nil {
		return nil, err
	}

	records, err := s.indexedFiles(ctx, folder)
	if err != nil {
		return nil, err
	}
	mapping, err := s.driver.RenameFolder(ctx, folder.identifier, newName)
	if err != nil {
		return nil, operationFailed("renamefolder", folder.identifier, err)
	}
	s.repoint(ctx, records, mapping)

	renamed := s.folderHandle(mapping[folder.identifier], newName)
	Dispatch(ctx, s.opts.events, &AfterFolderRenamedEvent{Folder: renamed, OriginalFolder: folder})
	return renamed, nil
}

// MoveFolder moves folder below target as name (folder's name when
// empty). Both must belong to s; moving folders between storages is not
// supported.
func (s *Storage) MoveFolder(ctx context.Context, folder, target *Folder, name string, policy ConflictPolicy) (*Folder, error) {
	if err := s.ownsFolder(target); err != nil {
		return nil, err
	}
	if !folder.storage.CheckFolderAction(ctx, ActionMove, folder) {
		return nil, denied(ActionMove, KindFolder, folder.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, target) {
		return nil, denied(ActionWrite, KindFolder, target.identifier)
	}
	if name == "" {
		name = folder.name
	}
	name, err := s.SanitizeFileName(ctx, name, target)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFolderMovedEvent{Folder: folder, Target: target, TargetName: name}).TargetName

	if folder.storage != s {
		return nil, &PathError{Op: "movefolder", Path: folder.CombinedIdentifier(), Err: ErrNotSupported}
	}
	if s.driver.IsWithin(folder.identifier, target.identifier) {
		return nil, &PathError{Op: "movefolder", Path: target.identifier, Err: ErrInvalidArgument}
	}
	if name, err = s.folderTargetName(ctx, target, name, policy); err != nil {
		return nil, err
	}

	records, err := s.indexedFiles(ctx, folder)
	if err != nil {
		return nil, err
	}
	mapping, err := s.driver.MoveFolderWithinStorage(ctx, folder.identifier, target.identifier, name)
	if err != nil {
		return nil, operationFailed("movefolder", folder.identifier, err)
	}
	s.repoint(ctx, records, mapping)

	moved := s.folderHandle(mapping[folder.identifier], name)
	Dispatch(ctx, s.opts.events, &AfterFolderMovedEvent{Folder: folder, Target: target, NewFolder: moved})
	return moved, nil
}

// CopyFolder copies folder with its content below target as name
// (folder's name when empty). The copies get index records that carry the
// source files' metadata.
func (s *Storage) CopyFolder(ctx context.Context, folder, target *Folder, name string, policy ConflictPolicy) (*Folder, error) {
	if err := s.ownsFolder(target); err != nil {
		return nil, err
	}
	if !folder.storage.CheckFolderAction(ctx, ActionCopy, folder) {
		return nil, denied(ActionCopy, KindFolder, folder.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionWrite, target) {
		return nil, denied(ActionWrite, KindFolder, target.identifier)
	}
	if name == "" {
		name = folder.name
	}
	name, err := s.SanitizeFileName(ctx, name, target)
	if err != nil {
		return nil, err
	}
	name = Dispatch(ctx, s.opts.events, &BeforeFolderCopiedEvent{Folder: folder, Target: target, TargetName: name}).TargetName

	if folder.storage != s {
		return nil, &PathError{Op: "copyfolder", Path: folder.CombinedIdentifier(), Err: ErrNotSupported}
	}
	if s.driver.IsWithin(folder.identifier, target.identifier) {
		return nil, &PathError{Op: "copyfolder", Path: target.identifier, Err: ErrInvalidArgument}
	}
	if name, err = s.folderTargetName(ctx, target, name, policy); err != nil {
		return nil, err
	}

	sources, err := s.driver.FilesInFolder(ctx, folder.identifier, true)
	if err != nil {
		return nil, err
	}
	if err := s.driver.CopyFolderWithinStorage(ctx, folder.identifier, target.identifier, name); err != nil {
		return nil, operationFailed("copyfolder", folder.identifier, err)
	}
	copied := s.folderHandle(s.driver.FolderInFolder(name, target.identifier), name)

	copies, err := s.driver.FilesInFolder(ctx, copied.identifier, true)
	if err != nil {
		return nil, err
	}
	if len(copies) == len(sources) {
		// both listings are sorted below a common prefix, so they line up
		for i, id := range copies {
			dst, err := s.GetFile(ctx, id)
			if err != nil {
				clog.FromContext(ctx).Warnf("storage %d: indexing copy %s: %v", s.UID(), id, err)
				continue
			}
			if rec, err := s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), sources[i]); err == nil {
				s.mergeMetadata(ctx, newFile(s, sources[i], rec.Name, rec.UID), dst)
			}
		}
	}
	Dispatch(ctx, s.opts.events, &AfterFolderCopiedEvent{Folder: folder, Target: target, NewFolder: copied})
	return copied, nil
}

func (s *Storage) assureFolderDelete(ctx context.Context, folder *Folder, recursive bool) error {
	if recursive && !s.CheckUserAction(ActionRecursiveDelete, KindFolder) {
		return denied(ActionRecursiveDelete, KindFolder, folder.identifier)
	}
	if !s.CheckFolderAction(ctx, ActionDelete, folder) {
		return denied(ActionDelete, KindFolder, folder.identifier)
	}
	if !s.CheckUserAction(ActionWrite, KindFolder) {
		return denied(ActionWrite, KindFolder, folder.identifier)
	}
	return nil
}

// DeleteFolder deletes folder. A folder with content is only deleted when
// deleteRecursively is set and the caller may delete recursively; otherwise
// ErrNotEmpty is returned and nothing changes. When a recycler folder is
// found nearby the folder is moved there instead, unless it is a recycler
// itself or already inside one.
func (s *Storage) DeleteFolder(ctx context.Context, folder *Folder, deleteRecursively bool) error {
	if err := s.ownsFolder(folder); err != nil {
		return err
	}
	empty, err := s.driver.IsFolderEmpty(ctx, folder.identifier)
	if err != nil {
		return err
	}
	if err := s.assureFolderDelete(ctx, folder, deleteRecursively && !empty); err != nil {
		return err
	}
	if !empty && !deleteRecursively {
		return &PathError{Op: "deletefolder", Path: folder.CombinedIdentifier(), Err: ErrNotEmpty}
	}
	Dispatch(ctx, s.opts.events, &BeforeFolderDeletedEvent{Folder: folder})

	records, err := s.indexedFiles(ctx, folder)
	if err != nil {
		return err
	}

	var recycler *Folder
	if folder.role != RoleRecycler {
		err := s.WithoutPermissionEvaluation(func() error {
			var err error
			recycler, err = s.NearestRecyclerFolder(ctx, folder.identifier)
			return err
		})
		if err != nil {
			return err
		}
	}

	var recycled *Folder
	if recycler != nil {
		name, err := s.UniqueName(ctx, recycler, folder.name)
		if err != nil {
			return err
		}
		mapping, err := s.driver.MoveFolderWithinStorage(ctx, folder.identifier, recycler.identifier, name)
		if err != nil {
			return operationFailed("deletefolder", folder.identifier, err)
		}
		s.repoint(ctx, records, mapping)
		recycled = s.folderHandle(mapping[folder.identifier], name)
	} else {
		if err := s.driver.DeleteFolder(ctx, folder.identifier, deleteRecursively); err != nil {
			return operationFailed("deletefolder", folder.identifier, err)
		}
		for _, rec := range records {
			if err := s.opts.index.Remove(ctx, rec.UID); err != nil {
				clog.FromContext(ctx).Warnf("storage %d: removing index for %s: %v", s.UID(), rec.Identifier, err)
			}
		}
	}

	Dispatch(ctx, s.opts.events, &AfterFolderDeletedEvent{Folder: folder, Recycled: recycled})
	return nil
}
