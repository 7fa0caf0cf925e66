package resourcekit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"
)

// processingFolderSetting returns the configured processing folder: a
// folder below the root, or "uid:identifier" in another storage.
func (s *Storage) processingFolderSetting() string {
	if s.record.ProcessingFolder != "" {
		return s.record.ProcessingFolder
	}
	return s.opts.config.ProcessingFolder
}

// splitProcessingFolder parses "uid:identifier". ok is false for a plain
// folder name.
func splitProcessingFolder(v string) (uid int, identifier string, ok bool) {
	head, tail, found := strings.Cut(v, ":")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", false
	}
	return n, tail, true
}

func (s *Storage) localProcessingIdentifier() string {
	v := s.processingFolderSetting()
	if _, _, foreign := splitProcessingFolder(v); foreign || v == "" {
		return ""
	}
	return s.driver.FolderInFolder(strings.Trim(v, "/"), s.driver.RootLevelFolder())
}

// processingFolderIdentifiers lists the processing folders located in this
// storage, including those other storages point here.
func (s *Storage) processingFolderIdentifiers() []string {
	ids := slices.Clone(s.opts.foreignProcessing)
	if id := s.localProcessingIdentifier(); id != "" {
		ids = append(ids, id)
	}
	return ids
}

func (s *Storage) isProcessingFolder(identifier string) bool {
	for _, id := range s.processingFolderIdentifiers() {
		if id == identifier {
			return true
		}
	}
	return false
}

// IsWithinProcessingFolder reports whether identifier lies inside one of
// the processing folders of this storage.
func (s *Storage) IsWithinProcessingFolder(identifier string) bool {
	for _, id := range s.processingFolderIdentifiers() {
		if s.driver.IsWithin(id, identifier) {
			return true
		}
	}
	return false
}

// ProcessingFolder returns the root processing folder, creating it with
// permission evaluation suspended when needed. When it cannot be created
// an inaccessible placeholder is returned.
func (s *Storage) ProcessingFolder(ctx context.Context) (*Folder, error) {
	s.mu.RLock()
	cached := s.processingFolder
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	setting := s.processingFolderSetting()
	target, identifier := s, ""
	if uid, id, foreign := splitProcessingFolder(setting); foreign {
		if s.opts.resolve == nil {
			return nil, fmt.Errorf("%w: processing folder %q needs a repository", ErrInvalidArgument, setting)
		}
		other, err := s.opts.resolve(ctx, uid)
		if err != nil {
			return nil, err
		}
		target = other
		identifier = other.driver.FolderInFolder(strings.Trim(id, "/"), other.driver.RootLevelFolder())
	} else {
		identifier = s.localProcessingIdentifier()
	}

	folder, err := target.ensureFolder(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotExist) || errors.Is(err, ErrOffline) {
			return nil, err
		}
		clog.FromContext(ctx).Warnf("storage %d: processing folder %s unavailable: %v", s.UID(), identifier, err)
		folder = target.folderHandle(identifier, "")
		folder.inaccessible = true
	} else {
		folder.role = RoleProcessing
	}

	s.mu.Lock()
	s.processingFolder = folder
	s.mu.Unlock()
	return folder, nil
}

// ensureFolder returns the folder with identifier, creating it below the
// root with evaluation suspended when it is missing.
func (s *Storage) ensureFolder(ctx context.Context, identifier string) (*Folder, error) {
	exists, err := s.driver.FolderExists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.folderHandle(identifier, ""), nil
	}
	var folder *Folder
	err = s.WithoutPermissionEvaluation(func() error {
		root, err := s.folderFromDriver(ctx, s.driver.RootLevelFolder())
		if err != nil {
			return err
		}
		folder, err = s.CreateFolder(ctx, strings.Trim(identifier, "/"), root)
		return err
	})
	return folder, err
}

// ProcessingSubfolderNames returns the nested folder names a file with
// identifier is placed in: one hex character of the SHA-256 of the
// identifier per level, starting at index 1.
func ProcessingSubfolderNames(identifier string, levels int) []string {
	if levels <= 0 {
		return nil
	}
	sum := sha256.Sum256([]byte(identifier))
	hash := hex.EncodeToString(sum[:])
	if levels > len(hash)-1 {
		levels = len(hash) - 1
	}
	names := make([]string, levels)
	for i := range levels {
		names[i] = hash[i+1 : i+2]
	}
	return names
}

// ProcessingFolderFor returns the nested processing folder of f, creating
// the levels on demand. Files of another storage use that storage's
// processing folder. A concurrent creation of the same level is tolerated.
func (s *Storage) ProcessingFolderFor(ctx context.Context, f *File) (*Folder, error) {
	if f.storage != s {
		return f.storage.ProcessingFolderFor(ctx, f)
	}
	folder, err := s.ProcessingFolder(ctx)
	if err != nil || folder.inaccessible {
		return folder, err
	}
	owner := folder.storage
	for _, name := range ProcessingSubfolderNames(f.identifier, s.opts.config.ProcessingFolderLevels) {
		next := owner.driver.FolderInFolder(name, folder.identifier)
		exists, err := owner.driver.FolderExists(ctx, next)
		if err != nil {
			return nil, err
		}
		if exists {
			folder = owner.folderHandle(next, name)
			continue
		}
		parent := folder
		err = owner.WithoutPermissionEvaluation(func() error {
			created, err := owner.CreateFolder(ctx, name, parent)
			if err != nil {
				return err
			}
			folder = created
			return nil
		})
		if errors.Is(err, ErrExist) {
			folder = owner.folderHandle(next, name)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// processedChecksum identifies a task run on an original. It is stable for
// the same original, task and configuration.
func processedChecksum(original, taskType string, cfg map[string]string) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(original)
	b.WriteByte('|')
	b.WriteString(taskType)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cfg[k])
	}
	return HashString(b.String(), ChecksumSHA1)[:10]
}

// processedFileName is "<task>_<original body>_<checksum>.<ext>".
func processedFileName(taskType, originalName, checksum string) string {
	ext := path.Ext(originalName)
	body := strings.TrimSuffix(originalName, ext)
	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, taskType)
	return prefix + "_" + body + "_" + checksum + ext
}

// ProcessedFileFor returns the processed variant of original for a task
// and its configuration. The file may not exist yet; write it with
// UpdateProcessedFile.
func (s *Storage) ProcessedFileFor(ctx context.Context, original *File, taskType string, cfg map[string]string) (*ProcessedFile, error) {
	if original.IsDeleted() {
		return nil, deletedError("process", original)
	}
	if taskType == "" {
		return nil, fmt.Errorf("%w: processing task type is required", ErrInvalidArgument)
	}
	folder, err := s.ProcessingFolderFor(ctx, original)
	if err != nil {
		return nil, err
	}
	if folder.inaccessible {
		return nil, &PathError{Op: "process", Path: folder.CombinedIdentifier(), Err: ErrPermission}
	}
	checksum := processedChecksum(original.CombinedIdentifier(), taskType, cfg)
	name := processedFileName(taskType, original.name, checksum)
	owner := folder.storage
	id := owner.driver.FileInFolder(name, folder.identifier)
	exists, err := owner.driver.FileExists(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProcessedFile{
		Original:      original,
		TaskType:      taskType,
		Configuration: cfg,
		storage:       owner,
		identifier:    id,
		name:          name,
		checksum:      checksum,
		exists:        exists,
	}, nil
}

// UpdateProcessedFile stores the local file at localPath as the content of
// p, replacing an earlier result. The local file is removed.
func (s *Storage) UpdateProcessedFile(ctx context.Context, localPath string, p *ProcessedFile) error {
	if err := localFileMustExist("updateprocessed", localPath); err != nil {
		return err
	}
	owner := p.storage
	if !owner.CheckFileExtension(p.name) {
		return illegalExtension(ActionWrite, p.name)
	}
	folder := owner.driver.ParentFolderIdentifier(p.identifier)
	id, err := owner.driver.AddFile(ctx, localPath, folder, p.name, true)
	if err != nil {
		return operationFailed("updateprocessed", p.identifier, err)
	}
	p.identifier = id
	p.exists = true
	p.deleted = false
	Dispatch(ctx, s.opts.events, &AfterProcessedFileUpdatedEvent{ProcessedFile: p})
	return nil
}

// OpenProcessedFile streams the content of p.
func (s *Storage) OpenProcessedFile(ctx context.Context, p *ProcessedFile) (io.ReadCloser, error) {
	owner := p.storage
	st := ResourceState{Identifier: p.identifier, Name: p.name, Processed: true, Missing: !p.Exists()}
	if !st.Missing {
		perms, err := owner.driver.Permissions(ctx, p.identifier)
		if err != nil {
			return nil, err
		}
		st.Permissions = perms
	}
	if st.Missing {
		return nil, &PathError{Op: "read", Path: p.CombinedIdentifier(), Err: ErrNotExist}
	}
	if !owner.Evaluator().AllowsFile(ActionRead, st) {
		return nil, denied(ActionRead, KindFile, p.identifier)
	}
	return owner.driver.Read(ctx, p.identifier)
}

// DeleteProcessedFile removes p. Processed files never go to a recycler
// and are not subject to user permission bits or mounts.
func (s *Storage) DeleteProcessedFile(ctx context.Context, p *ProcessedFile) error {
	if p.deleted {
		return nil
	}
	owner := p.storage
	if !owner.CheckFileExtension(p.name) {
		return illegalExtension(ActionDelete, p.name)
	}
	if p.exists {
		if err := owner.driver.DeleteFile(ctx, p.identifier); err != nil && !errors.Is(err, ErrNotExist) {
			return operationFailed("deleteprocessed", p.identifier, err)
		}
	}
	p.deleted = true
	p.exists = false
	return nil
}
