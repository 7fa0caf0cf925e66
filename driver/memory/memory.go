package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/gobeaver/resourcekit"
)

// memoryFile represents a file stored in memory
type memoryFile struct {
	content     []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
}

type memoryDir struct {
	modTime time.Time
}

type watchEntry struct {
	matcher glob.Glob
	token   *resourcekit.CallbackChangeToken
}

// Adapter keeps files and directories in maps. It backs tests and
// scratch storages.
type Adapter struct {
	mu      sync.RWMutex
	files   map[string]*memoryFile
	dirs    map[string]*memoryDir
	perms   map[string]resourcekit.Permissions
	maxSize int64
	size    int64
	now     func() time.Time

	watchMu sync.RWMutex
	watches []*watchEntry
}

// Config holds configuration for the memory adapter
type Config struct {
	// MaxSize is the maximum total storage size in bytes (0 = unlimited)
	MaxSize int64
}

// New creates an empty in-memory adapter.
func New(cfg ...Config) *Adapter {
	var maxSize int64
	if len(cfg) > 0 {
		maxSize = cfg[0].MaxSize
	}
	a := &Adapter{
		files:   make(map[string]*memoryFile),
		dirs:    make(map[string]*memoryDir),
		perms:   make(map[string]resourcekit.Permissions),
		maxSize: maxSize,
		now:     time.Now,
	}
	a.dirs[""] = &memoryDir{modTime: a.now()}
	return a
}

// normalizePath cleans p and strips the leading slash; the root is "".
func normalizePath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

func isValidPath(raw string) bool {
	for _, seg := range strings.Split(strings.ReplaceAll(raw, "\\", "/"), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// ensureParentDirs must be called with the write lock held.
func (a *Adapter) ensureParentDirs(p string) {
	for dir := parentOf(p); dir != ""; dir = parentOf(dir) {
		if _, ok := a.dirs[dir]; ok {
			return
		}
		a.dirs[dir] = &memoryDir{modTime: a.now()}
	}
}

func (a *Adapter) check(ctx context.Context, op, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !isValidPath(raw) {
		return "", &resourcekit.PathError{Op: op, Path: raw, Err: resourcekit.ErrPermission}
	}
	return normalizePath(raw), nil
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, raw string, content io.Reader, options ...resourcekit.Option) error {
	p, err := a.check(ctx, "write", raw)
	if err != nil {
		return err
	}
	if p == "" {
		return &resourcekit.PathError{Op: "write", Path: raw, Err: resourcekit.ErrIsDir}
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return &resourcekit.PathError{Op: "write", Path: p, Err: err}
	}
	opts := resourcekit.ApplyOptions(options...)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.dirs[p]; ok {
		return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrIsDir}
	}
	var previous int64
	if existing, ok := a.files[p]; ok {
		if !opts.Overwrite {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrExist}
		}
		if perm, ok := a.perms[p]; ok && !perm.Write {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrPermission}
		}
		previous = int64(len(existing.content))
	}
	if a.maxSize > 0 && a.size-previous+int64(len(data)) > a.maxSize {
		return &resourcekit.PathError{Op: "write", Path: p, Err: fmt.Errorf("%w: storage size limit of %d bytes reached", resourcekit.ErrOperationFailed, a.maxSize)}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = resourcekit.GuessContentType(p, data)
	}
	a.ensureParentDirs(p)
	a.files[p] = &memoryFile{
		content:     data,
		contentType: contentType,
		metadata:    maps.Clone(opts.Metadata),
		modTime:     a.now(),
	}
	a.size += int64(len(data)) - previous
	a.notifyWatchers(p)
	return nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, raw string) (io.ReadCloser, error) {
	p, err := a.check(ctx, "read", raw)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	f, ok := a.files[p]
	if !ok {
		if _, isDir := a.dirs[p]; isDir {
			return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrIsDir}
		}
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrNotExist}
	}
	if perm, ok := a.perms[p]; ok && !perm.Read {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrPermission}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.content))), nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, raw string) error {
	p, err := a.check(ctx, "delete", raw)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.files[p]
	if !ok {
		if _, isDir := a.dirs[p]; isDir {
			return &resourcekit.PathError{Op: "delete", Path: p, Err: resourcekit.ErrIsDir}
		}
		return &resourcekit.PathError{Op: "delete", Path: p, Err: resourcekit.ErrNotExist}
	}
	a.size -= int64(len(f.content))
	delete(a.files, p)
	delete(a.perms, p)
	a.notifyWatchers(p)
	return nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, raw string) (bool, error) {
	p, err := a.check(ctx, "fileexists", raw)
	if err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.files[p]
	return ok, nil
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, raw string) (bool, error) {
	p, err := a.check(ctx, "direxists", raw)
	if err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.dirs[p]
	return ok, nil
}

func fileEntry(p string, f *memoryFile) resourcekit.Entry {
	return resourcekit.Entry{
		Name:        path.Base(p),
		Path:        p,
		Size:        int64(len(f.content)),
		ModTime:     f.modTime,
		ContentType: f.contentType,
		Metadata:    maps.Clone(f.metadata),
	}
}

func dirEntry(p string, d *memoryDir) resourcekit.Entry {
	name := path.Base(p)
	if p == "" {
		name = ""
	}
	return resourcekit.Entry{Name: name, Path: p, ModTime: d.modTime, IsDir: true}
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, raw string) (*resourcekit.Entry, error) {
	p, err := a.check(ctx, "stat", raw)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if f, ok := a.files[p]; ok {
		e := fileEntry(p, f)
		return &e, nil
	}
	if d, ok := a.dirs[p]; ok {
		e := dirEntry(p, d)
		return &e, nil
	}
	return nil, &resourcekit.PathError{Op: "stat", Path: p, Err: resourcekit.ErrNotExist}
}

// below reports whether child lies below dir. With recursive false only
// direct children count.
func below(dir, child string, recursive bool) bool {
	if child == dir {
		return false
	}
	if dir != "" {
		if !strings.HasPrefix(child, dir+"/") {
			return false
		}
		child = child[len(dir)+1:]
	}
	return recursive || !strings.Contains(child, "/")
}

// ListContents implements resourcekit.Backend. Entries are sorted by path.
func (a *Adapter) ListContents(ctx context.Context, raw string, recursive bool) ([]resourcekit.Entry, error) {
	p, err := a.check(ctx, "listcontents", raw)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.dirs[p]; !ok {
		if _, isFile := a.files[p]; isFile {
			return nil, &resourcekit.PathError{Op: "listcontents", Path: p, Err: resourcekit.ErrNotDir}
		}
		return nil, &resourcekit.PathError{Op: "listcontents", Path: p, Err: resourcekit.ErrNotExist}
	}

	var entries []resourcekit.Entry
	for dp, d := range a.dirs {
		if below(p, dp, recursive) {
			entries = append(entries, dirEntry(dp, d))
		}
	}
	for fp, f := range a.files {
		if below(p, fp, recursive) {
			entries = append(entries, fileEntry(fp, f))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// CreateDir implements resourcekit.Backend.
func (a *Adapter) CreateDir(ctx context.Context, raw string) error {
	p, err := a.check(ctx, "createdir", raw)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.files[p]; ok {
		return &resourcekit.PathError{Op: "createdir", Path: p, Err: resourcekit.ErrExist}
	}
	if _, ok := a.dirs[p]; ok {
		return nil
	}
	a.ensureParentDirs(p)
	a.dirs[p] = &memoryDir{modTime: a.now()}
	a.notifyWatchers(p)
	return nil
}

// DeleteDir implements resourcekit.Backend.
func (a *Adapter) DeleteDir(ctx context.Context, raw string) error {
	p, err := a.check(ctx, "deletedir", raw)
	if err != nil {
		return err
	}
	if p == "" {
		return &resourcekit.PathError{Op: "deletedir", Path: raw, Err: resourcekit.ErrPermission}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.dirs[p]; !ok {
		if _, isFile := a.files[p]; isFile {
			return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotDir}
		}
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotExist}
	}
	for fp, f := range a.files {
		if below(p, fp, true) {
			a.size -= int64(len(f.content))
			delete(a.files, fp)
			delete(a.perms, fp)
		}
	}
	for dp := range a.dirs {
		if below(p, dp, true) {
			delete(a.dirs, dp)
			delete(a.perms, dp)
		}
	}
	delete(a.dirs, p)
	delete(a.perms, p)
	a.notifyWatchers(p)
	return nil
}

// Copy implements resourcekit.CanCopy.
func (a *Adapter) Copy(ctx context.Context, rawSrc, rawDst string) error {
	src, err := a.check(ctx, "copy", rawSrc)
	if err != nil {
		return err
	}
	dst, err := a.check(ctx, "copy", rawDst)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.files[src]
	if !ok {
		return &resourcekit.PathError{Op: "copy", Path: src, Err: resourcekit.ErrNotExist}
	}
	if _, isDir := a.dirs[dst]; isDir {
		return &resourcekit.PathError{Op: "copy", Path: dst, Err: resourcekit.ErrIsDir}
	}
	var previous int64
	if existing, ok := a.files[dst]; ok {
		previous = int64(len(existing.content))
	}
	if a.maxSize > 0 && a.size-previous+int64(len(f.content)) > a.maxSize {
		return &resourcekit.PathError{Op: "copy", Path: dst, Err: fmt.Errorf("%w: storage size limit of %d bytes reached", resourcekit.ErrOperationFailed, a.maxSize)}
	}
	a.ensureParentDirs(dst)
	a.files[dst] = &memoryFile{
		content:     bytes.Clone(f.content),
		contentType: f.contentType,
		metadata:    maps.Clone(f.metadata),
		modTime:     a.now(),
	}
	a.size += int64(len(f.content)) - previous
	a.notifyWatchers(dst)
	return nil
}

// Move implements resourcekit.CanMove.
func (a *Adapter) Move(ctx context.Context, rawSrc, rawDst string) error {
	src, err := a.check(ctx, "move", rawSrc)
	if err != nil {
		return err
	}
	dst, err := a.check(ctx, "move", rawDst)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.files[src]
	if !ok {
		return &resourcekit.PathError{Op: "move", Path: src, Err: resourcekit.ErrNotExist}
	}
	if _, isDir := a.dirs[dst]; isDir {
		return &resourcekit.PathError{Op: "move", Path: dst, Err: resourcekit.ErrIsDir}
	}
	if src == dst {
		return nil
	}
	if existing, ok := a.files[dst]; ok {
		a.size -= int64(len(existing.content))
	}
	a.ensureParentDirs(dst)
	a.files[dst] = f
	delete(a.files, src)
	if perm, ok := a.perms[src]; ok {
		a.perms[dst] = perm
		delete(a.perms, src)
	}
	a.notifyWatchers(src)
	a.notifyWatchers(dst)
	return nil
}

// MoveDir implements resourcekit.CanMoveDir by re-keying the subtree.
func (a *Adapter) MoveDir(ctx context.Context, rawSrc, rawDst string) error {
	src, err := a.check(ctx, "movedir", rawSrc)
	if err != nil {
		return err
	}
	dst, err := a.check(ctx, "movedir", rawDst)
	if err != nil {
		return err
	}
	if src == "" || below(src, dst, true) {
		return &resourcekit.PathError{Op: "movedir", Path: rawSrc, Err: resourcekit.ErrInvalidArgument}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.dirs[src]
	if !ok {
		return &resourcekit.PathError{Op: "movedir", Path: src, Err: resourcekit.ErrNotExist}
	}
	if _, taken := a.dirs[dst]; taken {
		return &resourcekit.PathError{Op: "movedir", Path: dst, Err: resourcekit.ErrExist}
	}
	if _, taken := a.files[dst]; taken {
		return &resourcekit.PathError{Op: "movedir", Path: dst, Err: resourcekit.ErrExist}
	}

	rekey := func(p string) string { return dst + strings.TrimPrefix(p, src) }
	for fp, f := range a.files {
		if below(src, fp, true) {
			a.files[rekey(fp)] = f
			delete(a.files, fp)
		}
	}
	for dp, sub := range a.dirs {
		if below(src, dp, true) {
			a.dirs[rekey(dp)] = sub
			delete(a.dirs, dp)
		}
	}
	for pp, perm := range a.perms {
		if pp == src || below(src, pp, true) {
			a.perms[rekey(pp)] = perm
			delete(a.perms, pp)
		}
	}
	a.ensureParentDirs(dst)
	a.dirs[dst] = d
	delete(a.dirs, src)
	a.notifyWatchers(src)
	a.notifyWatchers(dst)
	return nil
}

// Checksum implements resourcekit.CanChecksum.
func (a *Adapter) Checksum(ctx context.Context, raw string, algorithm resourcekit.ChecksumAlgorithm) (string, error) {
	p, err := a.check(ctx, "checksum", raw)
	if err != nil {
		return "", err
	}
	a.mu.RLock()
	f, ok := a.files[p]
	a.mu.RUnlock()
	if !ok {
		return "", &resourcekit.PathError{Op: "checksum", Path: p, Err: resourcekit.ErrNotExist}
	}
	return resourcekit.CalculateChecksum(bytes.NewReader(f.content), algorithm)
}

// SetPermissions overrides the access reported for an entry. Entries
// without an override are readable and writable.
func (a *Adapter) SetPermissions(raw string, perm resourcekit.Permissions) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perms[normalizePath(raw)] = perm
}

// Permissions implements resourcekit.CanReportPermissions.
func (a *Adapter) Permissions(ctx context.Context, raw string) (resourcekit.Permissions, error) {
	p, err := a.check(ctx, "permissions", raw)
	if err != nil {
		return resourcekit.Permissions{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, isFile := a.files[p]
	_, isDir := a.dirs[p]
	if !isFile && !isDir {
		return resourcekit.Permissions{}, &resourcekit.PathError{Op: "permissions", Path: p, Err: resourcekit.ErrNotExist}
	}
	if perm, ok := a.perms[p]; ok {
		return perm, nil
	}
	return resourcekit.Permissions{Read: true, Write: true}, nil
}

// Clear removes every file and directory.
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = make(map[string]*memoryFile)
	a.dirs = map[string]*memoryDir{"": {modTime: a.now()}}
	a.perms = make(map[string]resourcekit.Permissions)
	a.size = 0
}

// Size returns the total number of stored content bytes.
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// FileCount returns the number of stored files.
func (a *Adapter) FileCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// Watch implements resourcekit.CanWatch. Patterns are globs over the
// backend path, for example "**/*.txt" or "images/*".
func (a *Adapter) Watch(ctx context.Context, pattern string) (resourcekit.ChangeToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "**"
	}
	g, err := glob.Compile(strings.TrimPrefix(pattern, "/"), '/')
	if err != nil {
		return nil, &resourcekit.PathError{Op: "watch", Path: pattern, Err: resourcekit.ErrInvalidArgument}
	}

	token := resourcekit.NewCallbackChangeToken()
	a.watchMu.Lock()
	a.watches = append(a.watches, &watchEntry{matcher: g, token: token})
	a.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		a.removeWatch(token)
	}()
	return token, nil
}

func (a *Adapter) notifyWatchers(p string) {
	a.watchMu.RLock()
	defer a.watchMu.RUnlock()
	for _, entry := range a.watches {
		if entry.matcher.Match(p) {
			entry.token.SignalChange()
		}
	}
}

func (a *Adapter) removeWatch(token *resourcekit.CallbackChangeToken) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	for i, entry := range a.watches {
		if entry.token == token {
			a.watches[i] = a.watches[len(a.watches)-1]
			a.watches = a.watches[:len(a.watches)-1]
			return
		}
	}
}

var (
	_ resourcekit.Backend              = (*Adapter)(nil)
	_ resourcekit.CanCopy              = (*Adapter)(nil)
	_ resourcekit.CanMove              = (*Adapter)(nil)
	_ resourcekit.CanMoveDir           = (*Adapter)(nil)
	_ resourcekit.CanChecksum          = (*Adapter)(nil)
	_ resourcekit.CanReportPermissions = (*Adapter)(nil)
	_ resourcekit.CanWatch             = (*Adapter)(nil)
)
