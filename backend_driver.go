package resourcekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
)

// BackendDriverOption configures NewBackendDriver.
type BackendDriverOption func(*backendDriver)

// WithCapabilities overrides the capabilities reported by the driver.
// Writable is still cleared for read-only backends.
func WithCapabilities(c Capabilities) BackendDriverOption {
	return func(d *backendDriver) {
		d.caps = c
	}
}

// WithCaseSensitive sets whether identifiers compare case sensitively.
func WithCaseSensitive(sensitive bool) BackendDriverOption {
	return func(d *backendDriver) {
		d.caseSensitive = sensitive
	}
}

// WithUTF8FileNames keeps non ASCII letters when sanitizing file names.
func WithUTF8FileNames(enabled bool) BackendDriverOption {
	return func(d *backendDriver) {
		d.utf8Names = enabled
	}
}

// WithTempDir sets the directory used for local processing copies.
func WithTempDir(dir string) BackendDriverOption {
	return func(d *backendDriver) {
		d.tempDir = dir
	}
}

// WithDefaultFolderName sets the folder created as default upload target.
func WithDefaultFolderName(name string) BackendDriverOption {
	return func(d *backendDriver) {
		d.defaultFolder = name
	}
}

// backendDriver implements Driver on top of a path addressed Backend.
// Identifiers are absolute slash separated paths; folder identifiers end in
// "/" and the root folder is "/".
type backendDriver struct {
	backend       Backend
	caps          Capabilities
	caseSensitive bool
	utf8Names     bool
	tempDir       string
	defaultFolder string
}

// NewBackendDriver wraps a Backend in a hierarchical Driver.
func NewBackendDriver(b Backend, opts ...BackendDriverOption) Driver {
	d := &backendDriver{
		backend: b,
		caps: Capabilities{
			Browsable:               true,
			Writable:                true,
			HierarchicalIdentifiers: true,
		},
		caseSensitive: true,
		utf8Names:     true,
		defaultFolder: "user_upload",
	}
	for _, opt := range opts {
		opt(d)
	}
	if ro, ok := b.(ReadOnlyBackend); ok && ro.ReadOnly() {
		d.caps.Writable = false
	}
	d.caps.HierarchicalIdentifiers = true
	return d
}

// Backend returns the wrapped backend.
func (d *backendDriver) Backend() Backend { return d.backend }

func backendPath(identifier string) string {
	return strings.Trim(identifier, "/")
}

func fileIdentifier(p string) string {
	return "/" + strings.Trim(p, "/")
}

func folderIdentifier(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

func (d *backendDriver) Capabilities() Capabilities { return d.caps }
func (d *backendDriver) IsCaseSensitive() bool      { return d.caseSensitive }

func (d *backendDriver) SanitizeFileName(name string) (string, error) {
	return SanitizeFileName(name, d.utf8Names)
}

func (d *backendDriver) RootLevelFolder() string { return "/" }

func (d *backendDriver) DefaultFolder(ctx context.Context) (string, error) {
	id := folderIdentifier(d.defaultFolder)
	exists, err := d.backend.DirExists(ctx, d.defaultFolder)
	if err != nil {
		return "", err
	}
	if exists {
		return id, nil
	}
	if !d.caps.Writable {
		return "/", nil
	}
	if err := d.backend.CreateDir(ctx, d.defaultFolder); err != nil {
		clog.FromContext(ctx).Warnf("creating default folder %s: %v", id, err)
		return "/", nil
	}
	return id, nil
}

func (d *backendDriver) ParentFolderIdentifier(identifier string) string {
	p := backendPath(identifier)
	if p == "" {
		return "/"
	}
	return folderIdentifier(path.Dir(p))
}

func (d *backendDriver) FileInFolder(name, folder string) string {
	return fileIdentifier(path.Join(backendPath(folder), name))
}

func (d *backendDriver) FolderInFolder(name, folder string) string {
	return folderIdentifier(path.Join(backendPath(folder), name))
}

func (d *backendDriver) BaseName(identifier string) string {
	p := backendPath(identifier)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

func (d *backendDriver) IsWithin(folder, identifier string) bool {
	f := strings.TrimRight(folder, "/")
	id := strings.TrimRight(identifier, "/")
	if !d.caseSensitive {
		f = strings.ToLower(f)
		id = strings.ToLower(id)
	}
	if f == id {
		return true
	}
	return strings.HasPrefix(id+"/", f+"/")
}

func (d *backendDriver) FileExists(ctx context.Context, identifier string) (bool, error) {
	p := backendPath(identifier)
	if p == "" {
		return false, nil
	}
	return d.backend.FileExists(ctx, p)
}

func (d *backendDriver) FolderExists(ctx context.Context, identifier string) (bool, error) {
	p := backendPath(identifier)
	if p == "" {
		return true, nil
	}
	return d.backend.DirExists(ctx, p)
}

func (d *backendDriver) FileExistsInFolder(ctx context.Context, name, folder string) (bool, error) {
	return d.FileExists(ctx, d.FileInFolder(name, folder))
}

func (d *backendDriver) FolderExistsInFolder(ctx context.Context, name, folder string) (bool, error) {
	return d.FolderExists(ctx, d.FolderInFolder(name, folder))
}

func (d *backendDriver) IsFolderEmpty(ctx context.Context, identifier string) (bool, error) {
	entries, err := d.backend.ListContents(ctx, backendPath(identifier), false)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func (d *backendDriver) info(e *Entry) *ResourceInfo {
	info := &ResourceInfo{
		Name:     e.Name,
		Size:     e.Size,
		Created:  e.ModTime,
		Modified: e.ModTime,
		IsFolder: e.IsDir,
		MimeType: e.ContentType,
	}
	if e.IsDir {
		info.Identifier = folderIdentifier(e.Path)
		info.MimeType = ""
	} else {
		info.Identifier = fileIdentifier(e.Path)
		if info.MimeType == "" {
			info.MimeType = GuessContentType(e.Name, nil)
		}
	}
	return info
}

func (d *backendDriver) FileInfo(ctx context.Context, identifier string) (*ResourceInfo, error) {
	p := backendPath(identifier)
	e, err := d.backend.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if e.IsDir {
		return nil, &PathError{Op: "fileinfo", Path: identifier, Err: ErrIsDir}
	}
	if e.Path == "" {
		e.Path = p
	}
	return d.info(e), nil
}

func (d *backendDriver) FolderInfo(ctx context.Context, identifier string) (*ResourceInfo, error) {
	p := backendPath(identifier)
	if p == "" {
		return &ResourceInfo{Identifier: "/", Name: "", IsFolder: true}, nil
	}
	e, err := d.backend.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, &PathError{Op: "folderinfo", Path: identifier, Err: ErrNotDir}
	}
	if e.Path == "" {
		e.Path = p
	}
	return d.info(e), nil
}

func (d *backendDriver) list(ctx context.Context, identifier string, recursive, dirs bool) ([]string, error) {
	entries, err := d.backend.ListContents(ctx, backendPath(identifier), recursive)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir != dirs {
			continue
		}
		if dirs {
			ids = append(ids, folderIdentifier(e.Path))
		} else {
			ids = append(ids, fileIdentifier(e.Path))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *backendDriver) FilesInFolder(ctx context.Context, identifier string, recursive bool) ([]string, error) {
	return d.list(ctx, identifier, recursive, false)
}

func (d *backendDriver) FoldersInFolder(ctx context.Context, identifier string, recursive bool) ([]string, error) {
	return d.list(ctx, identifier, recursive, true)
}

func (d *backendDriver) Permissions(ctx context.Context, identifier string) (Permissions, error) {
	if rp, ok := d.backend.(CanReportPermissions); ok {
		return rp.Permissions(ctx, backendPath(identifier))
	}
	return Permissions{Read: true, Write: d.caps.Writable}, nil
}

func (d *backendDriver) Hash(ctx context.Context, identifier string, algorithm ChecksumAlgorithm) (string, error) {
	p := backendPath(identifier)
	if cs, ok := d.backend.(CanChecksum); ok {
		return cs.Checksum(ctx, p, algorithm)
	}
	r, err := d.backend.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return CalculateChecksum(r, algorithm)
}

func (d *backendDriver) exists(ctx context.Context, p string) (bool, error) {
	if ok, err := d.backend.FileExists(ctx, p); err != nil || ok {
		return ok, err
	}
	return d.backend.DirExists(ctx, p)
}

func (d *backendDriver) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	p := path.Join(backendPath(parent), name)
	taken, err := d.exists(ctx, p)
	if err != nil {
		return "", err
	}
	if taken {
		return "", &PathError{Op: "createfolder", Path: folderIdentifier(p), Err: ErrExist}
	}
	if err := d.backend.CreateDir(ctx, p); err != nil {
		return "", err
	}
	return folderIdentifier(p), nil
}

// subtreeMapping lists every entry below src and pairs its identifier with
// the identifier it gets below dst.
func (d *backendDriver) subtreeMapping(ctx context.Context, src, dst string) (map[string]string, []Entry, error) {
	entries, err := d.backend.ListContents(ctx, src, true)
	if err != nil {
		return nil, nil, err
	}
	mapping := map[string]string{folderIdentifier(src): folderIdentifier(dst)}
	for _, e := range entries {
		rel := strings.TrimPrefix(strings.TrimPrefix(e.Path, src), "/")
		target := path.Join(dst, rel)
		if e.IsDir {
			mapping[folderIdentifier(e.Path)] = folderIdentifier(target)
		} else {
			mapping[fileIdentifier(e.Path)] = fileIdentifier(target)
		}
	}
	return mapping, entries, nil
}

func (d *backendDriver) RenameFolder(ctx context.Context, identifier, newName string) (map[string]string, error) {
	return d.MoveFolderWithinStorage(ctx, identifier, d.ParentFolderIdentifier(identifier), newName)
}

func (d *backendDriver) MoveFolderWithinStorage(ctx context.Context, identifier, targetParent, newName string) (map[string]string, error) {
	src := backendPath(identifier)
	dst := path.Join(backendPath(targetParent), newName)
	if src == "" {
		return nil, &PathError{Op: "movefolder", Path: identifier, Err: ErrInvalidArgument}
	}
	taken, err := d.exists(ctx, dst)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &PathError{Op: "movefolder", Path: folderIdentifier(dst), Err: ErrExist}
	}
	mapping, entries, err := d.subtreeMapping(ctx, src, dst)
	if err != nil {
		return nil, err
	}

	if mover, ok := d.backend.(CanMoveDir); ok {
		if err := mover.MoveDir(ctx, src, dst); err != nil {
			return nil, err
		}
		return mapping, nil
	}

	if err := d.copyTree(ctx, src, dst, entries); err != nil {
		return nil, err
	}
	if err := d.backend.DeleteDir(ctx, src); err != nil {
		return nil, err
	}
	return mapping, nil
}

func (d *backendDriver) CopyFolderWithinStorage(ctx context.Context, identifier, targetParent, newName string) error {
	src := backendPath(identifier)
	dst := path.Join(backendPath(targetParent), newName)
	taken, err := d.exists(ctx, dst)
	if err != nil {
		return err
	}
	if taken {
		return &PathError{Op: "copyfolder", Path: folderIdentifier(dst), Err: ErrExist}
	}
	entries, err := d.backend.ListContents(ctx, src, true)
	if err != nil {
		return err
	}
	return d.copyTree(ctx, src, dst, entries)
}

func (d *backendDriver) copyTree(ctx context.Context, src, dst string, entries []Entry) error {
	if err := d.backend.CreateDir(ctx, dst); err != nil {
		return err
	}
	for _, e := range entries {
		rel := strings.TrimPrefix(strings.TrimPrefix(e.Path, src), "/")
		target := path.Join(dst, rel)
		if e.IsDir {
			if err := d.backend.CreateDir(ctx, target); err != nil {
				return err
			}
			continue
		}
		if err := d.copyPath(ctx, e.Path, target); err != nil {
			return err
		}
	}
	return nil
}

func (d *backendDriver) DeleteFolder(ctx context.Context, identifier string, recursive bool) error {
	p := backendPath(identifier)
	if p == "" {
		return &PathError{Op: "deletefolder", Path: identifier, Err: ErrInvalidArgument}
	}
	if !recursive {
		empty, err := d.IsFolderEmpty(ctx, identifier)
		if err != nil {
			return err
		}
		if !empty {
			return &PathError{Op: "deletefolder", Path: identifier, Err: ErrNotEmpty}
		}
	}
	return d.backend.DeleteDir(ctx, p)
}

func (d *backendDriver) AddFile(ctx context.Context, localPath, folder, name string, removeOriginal bool) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &PathError{Op: "addfile", Path: localPath, Err: ErrInvalidArgument}
		}
		return "", err
	}
	p := path.Join(backendPath(folder), name)
	err = d.backend.Write(ctx, p, f, WithOverwrite(true), WithContentType(GuessContentType(name, nil)))
	f.Close()
	if err != nil {
		return "", err
	}
	if removeOriginal {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			clog.FromContext(ctx).Warnf("removing imported file %s: %v", localPath, err)
		}
	}
	return fileIdentifier(p), nil
}

func (d *backendDriver) CreateFile(ctx context.Context, name, folder string) (string, error) {
	p := path.Join(backendPath(folder), name)
	taken, err := d.exists(ctx, p)
	if err != nil {
		return "", err
	}
	if taken {
		return "", &PathError{Op: "createfile", Path: fileIdentifier(p), Err: ErrExist}
	}
	if err := d.backend.Write(ctx, p, strings.NewReader(""), WithContentType(GuessContentType(name, nil))); err != nil {
		return "", err
	}
	return fileIdentifier(p), nil
}

func (d *backendDriver) copyPath(ctx context.Context, src, dst string) error {
	if copier, ok := d.backend.(CanCopy); ok {
		return copier.Copy(ctx, src, dst)
	}
	r, err := d.backend.Read(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return d.backend.Write(ctx, dst, r, WithOverwrite(true), WithContentType(GuessContentType(dst, nil)))
}

func (d *backendDriver) movePath(ctx context.Context, src, dst string) error {
	if mover, ok := d.backend.(CanMove); ok {
		return mover.Move(ctx, src, dst)
	}
	if err := d.copyPath(ctx, src, dst); err != nil {
		return err
	}
	return d.backend.Delete(ctx, src)
}

func (d *backendDriver) CopyFileWithinStorage(ctx context.Context, identifier, folder, name string) (string, error) {
	dst := path.Join(backendPath(folder), name)
	if err := d.copyPath(ctx, backendPath(identifier), dst); err != nil {
		return "", err
	}
	return fileIdentifier(dst), nil
}

func (d *backendDriver) MoveFileWithinStorage(ctx context.Context, identifier, folder, name string) (string, error) {
	dst := path.Join(backendPath(folder), name)
	if err := d.movePath(ctx, backendPath(identifier), dst); err != nil {
		return "", err
	}
	return fileIdentifier(dst), nil
}

func (d *backendDriver) RenameFile(ctx context.Context, identifier, newName string) (string, error) {
	src := backendPath(identifier)
	dst := path.Join(path.Dir(src), newName)
	if path.Dir(src) == "." {
		dst = newName
	}
	taken, err := d.exists(ctx, dst)
	if err != nil {
		return "", err
	}
	if taken {
		return "", &PathError{Op: "renamefile", Path: fileIdentifier(dst), Err: ErrExist}
	}
	if err := d.movePath(ctx, src, dst); err != nil {
		return "", err
	}
	return fileIdentifier(dst), nil
}

func (d *backendDriver) ReplaceFile(ctx context.Context, identifier, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &PathError{Op: "replacefile", Path: localPath, Err: ErrInvalidArgument}
		}
		return err
	}
	defer f.Close()
	return d.backend.Write(ctx, backendPath(identifier), f, WithOverwrite(true), WithContentType(GuessContentType(identifier, nil)))
}

func (d *backendDriver) DeleteFile(ctx context.Context, identifier string) error {
	return d.backend.Delete(ctx, backendPath(identifier))
}

func (d *backendDriver) Read(ctx context.Context, identifier string) (io.ReadCloser, error) {
	return d.backend.Read(ctx, backendPath(identifier))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (d *backendDriver) Write(ctx context.Context, identifier string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if err := d.backend.Write(ctx, backendPath(identifier), cr, WithOverwrite(true), WithContentType(GuessContentType(identifier, nil))); err != nil {
		return 0, err
	}
	return cr.n, nil
}

func (d *backendDriver) FileForLocalProcessing(ctx context.Context, identifier string, writable bool) (string, error) {
	p := backendPath(identifier)
	if lp, ok := d.backend.(CanLocalPath); ok && !writable {
		if exists, err := d.backend.FileExists(ctx, p); err != nil {
			return "", err
		} else if !exists {
			return "", &PathError{Op: "localcopy", Path: identifier, Err: ErrNotExist}
		}
		return lp.LocalPath(p), nil
	}

	r, err := d.backend.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(d.tempDir, "resourcekit-*"+path.Ext(p))
	if err != nil {
		return "", fmt.Errorf("creating local copy of %s: %w", identifier, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("creating local copy of %s: %w", identifier, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	clog.FromContext(ctx).Debugf("materialized %s at %s", identifier, tmp.Name())
	return tmp.Name(), nil
}

func (d *backendDriver) PublicURL(ctx context.Context, identifier string) (string, error) {
	if pu, ok := d.backend.(CanPublicURL); ok {
		return pu.PublicURL(ctx, backendPath(identifier))
	}
	return "", &PathError{Op: "publicurl", Path: identifier, Err: ErrNotSupported}
}

func (d *backendDriver) Watch(ctx context.Context, pattern string) (ChangeToken, error) {
	if w, ok := d.backend.(CanWatch); ok {
		return w.Watch(ctx, pattern)
	}
	return nil, &PathError{Op: "watch", Path: pattern, Err: ErrNotSupported}
}

var _ Driver = (*backendDriver)(nil)
