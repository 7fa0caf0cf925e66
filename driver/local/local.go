package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobeaver/resourcekit"
)

// Adapter stores resources below a directory of the local disk.
type Adapter struct {
	root      string
	baseURI   string
	publicURL bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithBaseURI sets the URL prefix public URLs are built from. Without it
// the adapter does not hand out public URLs.
func WithBaseURI(uri string) AdapterOption {
	return func(a *Adapter) {
		a.baseURI = strings.TrimSuffix(uri, "/")
		a.publicURL = true
	}
}

// New creates a local adapter rooted at root, creating the directory when
// it does not exist yet.
func New(root string, opts ...AdapterOption) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}

	a := &Adapter{root: absRoot}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Root returns the absolute base directory.
func (a *Adapter) Root() string { return a.root }

// resolve maps a backend path to a path on disk. Paths escaping the root
// are rejected.
func (a *Adapter) resolve(op, p string) (string, error) {
	full := filepath.Join(a.root, filepath.FromSlash(path.Clean("/"+p)))
	if !isPathUnderRoot(a.root, full) {
		return "", &resourcekit.PathError{Op: op, Path: p, Err: resourcekit.ErrPermission}
	}
	return full, nil
}

func isPathUnderRoot(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

func pathError(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = resourcekit.ErrNotExist
	} else if errors.Is(err, fs.ErrExist) {
		err = resourcekit.ErrExist
	} else if errors.Is(err, fs.ErrPermission) {
		err = resourcekit.ErrPermission
	}
	return &resourcekit.PathError{Op: op, Path: p, Err: err}
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...resourcekit.Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("write", p)
	if err != nil {
		return err
	}
	opts := resourcekit.ApplyOptions(options...)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return pathError("write", p, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return pathError("write", p, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return pathError("write", p, err)
	}
	if err := f.Close(); err != nil {
		return pathError("write", p, err)
	}
	return nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("read", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, pathError("read", p, err)
	}
	if info.IsDir() {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrIsDir}
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, pathError("read", p, err)
	}
	return f, nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("delete", p)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return pathError("delete", p, err)
	}
	if info.IsDir() {
		return &resourcekit.PathError{Op: "delete", Path: p, Err: resourcekit.ErrIsDir}
	}
	if err := os.Remove(full); err != nil {
		return pathError("delete", p, err)
	}
	return nil
}

func (a *Adapter) statKind(ctx context.Context, op, p string, dir bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := a.resolve(op, p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, pathError(op, p, err)
	}
	return info.IsDir() == dir, nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, p string) (bool, error) {
	return a.statKind(ctx, "fileexists", p, false)
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, p string) (bool, error) {
	return a.statKind(ctx, "direxists", p, true)
}

func (a *Adapter) entry(rel string, info fs.FileInfo) resourcekit.Entry {
	e := resourcekit.Entry{
		Name:    info.Name(),
		Path:    filepath.ToSlash(rel),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if e.IsDir {
		e.Size = 0
	} else {
		e.ContentType = getContentType(filepath.Join(a.root, rel))
	}
	if owner := ownerOf(info); owner != "" {
		e.Metadata = map[string]string{"owner": owner}
	}
	return e
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, p string) (*resourcekit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("stat", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, pathError("stat", p, err)
	}
	rel, _ := filepath.Rel(a.root, full)
	if rel == "." {
		rel = ""
	}
	e := a.entry(rel, info)
	return &e, nil
}

// ListContents implements resourcekit.Backend.
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]resourcekit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("listcontents", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, pathError("listcontents", p, err)
	}
	if !info.IsDir() {
		return nil, &resourcekit.PathError{Op: "listcontents", Path: p, Err: resourcekit.ErrNotDir}
	}

	var entries []resourcekit.Entry
	if recursive {
		err = filepath.WalkDir(full, func(walkPath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if walkPath == full {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(a.root, walkPath)
			if err != nil {
				return err
			}
			entries = append(entries, a.entry(rel, info))
			return nil
		})
		if err != nil {
			return nil, pathError("listcontents", p, err)
		}
		return entries, nil
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, pathError("listcontents", p, err)
	}
	entries = make([]resourcekit.Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		info, err := d.Info()
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(a.root, filepath.Join(full, d.Name()))
		entries = append(entries, a.entry(rel, info))
	}
	return entries, nil
}

// CreateDir implements resourcekit.Backend.
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("createdir", p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return pathError("createdir", p, err)
	}
	return nil
}

// DeleteDir implements resourcekit.Backend. The root itself cannot be
// removed.
func (a *Adapter) DeleteDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("deletedir", p)
	if err != nil {
		return err
	}
	if full == a.root {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrPermission}
	}
	info, err := os.Stat(full)
	if err != nil {
		return pathError("deletedir", p, err)
	}
	if !info.IsDir() {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotDir}
	}
	if err := os.RemoveAll(full); err != nil {
		return pathError("deletedir", p, err)
	}
	return nil
}

// Copy implements resourcekit.CanCopy.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcPath, err := a.resolve("copy", src)
	if err != nil {
		return err
	}
	dstPath, err := a.resolve("copy", dst)
	if err != nil {
		return err
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return pathError("copy", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return pathError("copy", dst, err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return pathError("copy", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return pathError("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		return pathError("copy", dst, err)
	}
	if info, err := in.Stat(); err == nil {
		_ = os.Chmod(dstPath, info.Mode())
	}
	return nil
}

// Move implements resourcekit.CanMove. A rename failing across devices
// falls back to copy and delete.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcPath, err := a.resolve("move", src)
	if err != nil {
		return err
	}
	dstPath, err := a.resolve("move", dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return pathError("move", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return pathError("move", dst, err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		if err := a.Copy(ctx, src, dst); err != nil {
			return err
		}
		if err := os.Remove(srcPath); err != nil {
			return pathError("move", src, err)
		}
	}
	return nil
}

// MoveDir implements resourcekit.CanMoveDir.
func (a *Adapter) MoveDir(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcPath, err := a.resolve("movedir", src)
	if err != nil {
		return err
	}
	dstPath, err := a.resolve("movedir", dst)
	if err != nil {
		return err
	}
	if srcPath == a.root {
		return &resourcekit.PathError{Op: "movedir", Path: src, Err: resourcekit.ErrPermission}
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return pathError("movedir", dst, err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return pathError("movedir", src, err)
	}
	return nil
}

// Checksum implements resourcekit.CanChecksum.
func (a *Adapter) Checksum(ctx context.Context, p string, algorithm resourcekit.ChecksumAlgorithm) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := a.resolve("checksum", p)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return "", pathError("checksum", p, err)
	}
	defer f.Close()

	sum, err := resourcekit.CalculateChecksum(f, algorithm)
	if err != nil {
		return "", pathError("checksum", p, err)
	}
	return sum, nil
}

// Permissions implements resourcekit.CanReportPermissions with the access
// the current process has on the entry.
func (a *Adapter) Permissions(ctx context.Context, p string) (resourcekit.Permissions, error) {
	if err := ctx.Err(); err != nil {
		return resourcekit.Permissions{}, err
	}
	full, err := a.resolve("permissions", p)
	if err != nil {
		return resourcekit.Permissions{}, err
	}
	if _, err := os.Stat(full); err != nil {
		return resourcekit.Permissions{}, pathError("permissions", p, err)
	}
	return accessOf(full), nil
}

// LocalPath implements resourcekit.CanLocalPath.
func (a *Adapter) LocalPath(p string) string {
	full, err := a.resolve("localpath", p)
	if err != nil {
		return ""
	}
	return full
}

// PublicURL implements resourcekit.CanPublicURL by appending the escaped
// path to the base URI.
func (a *Adapter) PublicURL(_ context.Context, p string) (string, error) {
	if !a.publicURL {
		return "", &resourcekit.PathError{Op: "publicurl", Path: p, Err: resourcekit.ErrNotSupported}
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return a.baseURI + "/" + strings.Join(segments, "/"), nil
}

func getContentType(full string) string {
	f, err := os.Open(full)
	if err != nil {
		return resourcekit.GuessContentType(full, nil)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return resourcekit.GuessContentType(full, head[:n])
}

var (
	_ resourcekit.Backend              = (*Adapter)(nil)
	_ resourcekit.CanCopy              = (*Adapter)(nil)
	_ resourcekit.CanMove              = (*Adapter)(nil)
	_ resourcekit.CanMoveDir           = (*Adapter)(nil)
	_ resourcekit.CanChecksum          = (*Adapter)(nil)
	_ resourcekit.CanReportPermissions = (*Adapter)(nil)
	_ resourcekit.CanLocalPath         = (*Adapter)(nil)
	_ resourcekit.CanPublicURL         = (*Adapter)(nil)
	_ resourcekit.CanWatch             = (*Adapter)(nil)
)
