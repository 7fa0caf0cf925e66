package zip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/resourcekit"
)

// Adapter exposes the entries of a ZIP archive as a read-only storage.
type Adapter struct {
	mu      sync.RWMutex
	path    string
	reader  *zip.ReadCloser
	entries map[string]*zipEntry
}

type zipEntry struct {
	file    *zip.File
	isDir   bool
	modTime time.Time
}

// Open opens the archive at zipPath and indexes its entries. Directories
// that only exist implicitly as parents of files are added.
func Open(zipPath string) (*Adapter, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("opening zip %s: %w", zipPath, err)
	}

	a := &Adapter{
		path:    zipPath,
		reader:  reader,
		entries: map[string]*zipEntry{"": {isDir: true}},
	}
	for _, f := range reader.File {
		name := normalizePath(f.Name)
		if name == "" || !isValidPath(f.Name) {
			continue
		}
		a.entries[name] = &zipEntry{
			file:    f,
			isDir:   f.FileInfo().IsDir(),
			modTime: f.Modified,
		}
		a.ensureParentDirs(name)
	}
	return a, nil
}

// Close releases the archive.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return nil
	}
	err := a.reader.Close()
	a.reader = nil
	return err
}

// ReadOnly implements resourcekit.ReadOnlyBackend.
func (a *Adapter) ReadOnly() bool { return true }

func (a *Adapter) ensureParentDirs(name string) {
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := a.entries[dir]; ok {
			return
		}
		a.entries[dir] = &zipEntry{isDir: true}
	}
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

func isValidPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func readOnly(op, p string) error {
	return &resourcekit.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: zip archives are read-only", resourcekit.ErrNotSupported)}
}

func (a *Adapter) lookup(ctx context.Context, op, raw string) (string, *zipEntry, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if !isValidPath(raw) {
		return "", nil, &resourcekit.PathError{Op: op, Path: raw, Err: resourcekit.ErrPermission}
	}
	p := normalizePath(raw)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.reader == nil {
		return p, nil, &resourcekit.PathError{Op: op, Path: p, Err: resourcekit.ErrOffline}
	}
	return p, a.entries[p], nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, raw string) (io.ReadCloser, error) {
	p, e, err := a.lookup(ctx, "read", raw)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrNotExist}
	}
	if e.isDir {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrIsDir}
	}
	rc, err := e.file.Open()
	if err != nil {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: err}
	}
	return rc, nil
}

// Write implements resourcekit.Backend and always fails.
func (a *Adapter) Write(_ context.Context, p string, _ io.Reader, _ ...resourcekit.Option) error {
	return readOnly("write", p)
}

// Delete implements resourcekit.Backend and always fails.
func (a *Adapter) Delete(_ context.Context, p string) error {
	return readOnly("delete", p)
}

// CreateDir implements resourcekit.Backend and always fails.
func (a *Adapter) CreateDir(_ context.Context, p string) error {
	return readOnly("createdir", p)
}

// DeleteDir implements resourcekit.Backend and always fails.
func (a *Adapter) DeleteDir(_ context.Context, p string) error {
	return readOnly("deletedir", p)
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, raw string) (bool, error) {
	_, e, err := a.lookup(ctx, "fileexists", raw)
	if err != nil {
		return false, err
	}
	return e != nil && !e.isDir, nil
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, raw string) (bool, error) {
	_, e, err := a.lookup(ctx, "direxists", raw)
	if err != nil {
		return false, err
	}
	return e != nil && e.isDir, nil
}

func toEntry(p string, e *zipEntry) resourcekit.Entry {
	out := resourcekit.Entry{
		Name:    path.Base(p),
		Path:    p,
		ModTime: e.modTime,
		IsDir:   e.isDir,
	}
	if p == "" {
		out.Name = ""
	}
	if !e.isDir {
		out.Size = int64(e.file.UncompressedSize64)
		out.ContentType = resourcekit.GuessContentType(p, nil)
		if e.file.Comment != "" {
			out.Metadata = map[string]string{"comment": e.file.Comment}
		}
	}
	return out
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, raw string) (*resourcekit.Entry, error) {
	p, e, err := a.lookup(ctx, "stat", raw)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &resourcekit.PathError{Op: "stat", Path: p, Err: resourcekit.ErrNotExist}
	}
	out := toEntry(p, e)
	return &out, nil
}

// ListContents implements resourcekit.Backend.
func (a *Adapter) ListContents(ctx context.Context, raw string, recursive bool) ([]resourcekit.Entry, error) {
	p, e, err := a.lookup(ctx, "listcontents", raw)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &resourcekit.PathError{Op: "listcontents", Path: p, Err: resourcekit.ErrNotExist}
	}
	if !e.isDir {
		return nil, &resourcekit.PathError{Op: "listcontents", Path: p, Err: resourcekit.ErrNotDir}
	}

	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	a.mu.RLock()
	var out []resourcekit.Entry
	for name, entry := range a.entries {
		if name == p || !strings.HasPrefix(name, prefix) {
			continue
		}
		if !recursive && strings.Contains(name[len(prefix):], "/") {
			continue
		}
		out = append(out, toEntry(name, entry))
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Checksum implements resourcekit.CanChecksum. CRC32 comes straight from
// the archive directory; other algorithms read the entry.
func (a *Adapter) Checksum(ctx context.Context, raw string, algorithm resourcekit.ChecksumAlgorithm) (string, error) {
	p, e, err := a.lookup(ctx, "checksum", raw)
	if err != nil {
		return "", err
	}
	if e == nil || e.isDir {
		return "", &resourcekit.PathError{Op: "checksum", Path: p, Err: resourcekit.ErrNotExist}
	}
	if algorithm == resourcekit.ChecksumCRC32 {
		return fmt.Sprintf("%08x", e.file.CRC32), nil
	}
	rc, err := e.file.Open()
	if err != nil {
		return "", &resourcekit.PathError{Op: "checksum", Path: p, Err: err}
	}
	defer rc.Close()
	return resourcekit.CalculateChecksum(rc, algorithm)
}

var (
	_ resourcekit.Backend         = (*Adapter)(nil)
	_ resourcekit.ReadOnlyBackend = (*Adapter)(nil)
	_ resourcekit.CanChecksum     = (*Adapter)(nil)
)
