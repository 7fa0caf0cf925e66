package gcs

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"maps"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/gobeaver/resourcekit"
)

const directoryContentType = "application/x-directory"

// DefaultURLExpiry is how long signed public URLs stay valid.
const DefaultURLExpiry = 15 * time.Minute

// Adapter stores resources as objects of a Google Cloud Storage bucket.
type Adapter struct {
	client    *storage.Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithPrefix places every object below prefix.
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithURLExpiry sets the lifetime of signed public URLs.
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.urlExpiry = d
		}
	}
}

// New creates a GCS adapter for bucket.
func New(client *storage.Client, bucket string, options ...AdapterOption) *Adapter {
	a := &Adapter{client: client, bucket: bucket, urlExpiry: DefaultURLExpiry}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Adapter) key(p string) string { return a.prefix + strings.Trim(p, "/") }

func (a *Adapter) dirKey(p string) string {
	k := a.key(p)
	if k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func (a *Adapter) relative(name string) string {
	return strings.Trim(strings.TrimPrefix(name, a.prefix), "/")
}

func (a *Adapter) object(p string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(a.key(p))
}

func mapGCSError(op, p string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		err = resourcekit.ErrNotExist
	}
	return &resourcekit.PathError{Op: op, Path: p, Err: err}
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...resourcekit.Option) error {
	opts := resourcekit.ApplyOptions(options...)
	obj := a.object(p)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	if w.ContentType == "" {
		w.ContentType = resourcekit.GuessContentType(p, nil)
	}
	if len(opts.Metadata) > 0 {
		w.Metadata = maps.Clone(opts.Metadata)
	}
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return mapGCSError("write", p, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrExist}
		}
		return mapGCSError("write", p, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := a.object(p).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", p, err)
	}
	return r, nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	if err := a.object(p).Delete(ctx); err != nil {
		return mapGCSError("delete", p, err)
	}
	return nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return false, nil
	}
	attrs, err := a.object(p).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, mapGCSError("fileexists", p, err)
	}
	return attrs.ContentType != directoryContentType, nil
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return true, nil
	}
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: a.dirKey(p)})
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, mapGCSError("direxists", p, err)
	}
	return true, nil
}

func (a *Adapter) entry(attrs *storage.ObjectAttrs) resourcekit.Entry {
	rel := a.relative(attrs.Name)
	e := resourcekit.Entry{
		Name:        path.Base(rel),
		Path:        rel,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		IsDir:       strings.HasSuffix(attrs.Name, "/") || attrs.ContentType == directoryContentType,
		ContentType: attrs.ContentType,
		Metadata:    maps.Clone(attrs.Metadata),
	}
	if len(attrs.MD5) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata["md5"] = hex.EncodeToString(attrs.MD5)
	}
	return e
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, p string) (*resourcekit.Entry, error) {
	rel := strings.Trim(p, "/")
	if rel != "" {
		attrs, err := a.object(p).Attrs(ctx)
		if err == nil {
			e := a.entry(attrs)
			return &e, nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return nil, mapGCSError("stat", p, err)
		}
	}
	isDir, err := a.DirExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, &resourcekit.PathError{Op: "stat", Path: p, Err: resourcekit.ErrNotExist}
	}
	name := path.Base(rel)
	if rel == "" {
		name = ""
	}
	return &resourcekit.Entry{Name: name, Path: rel, IsDir: true}, nil
}

// ListContents implements resourcekit.Backend.
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]resourcekit.Entry, error) {
	listPrefix := a.dirKey(p)
	query := &storage.Query{Prefix: listPrefix}
	if !recursive {
		query.Delimiter = "/"
	}

	base := strings.Trim(p, "/")
	seenDirs := make(map[string]bool)
	var entries []resourcekit.Entry
	addDir := func(rel string) {
		if rel == "" || seenDirs[rel] {
			return
		}
		seenDirs[rel] = true
		entries = append(entries, resourcekit.Entry{Name: path.Base(rel), Path: rel, IsDir: true})
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError("listcontents", p, err)
		}
		if attrs.Prefix != "" {
			addDir(a.relative(attrs.Prefix))
			continue
		}
		if attrs.Name == listPrefix {
			continue
		}
		e := a.entry(attrs)
		if recursive {
			for dir := path.Dir(e.Path); dir != "." && dir != base; dir = path.Dir(dir) {
				addDir(dir)
			}
		}
		if e.IsDir {
			addDir(e.Path)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CreateDir implements resourcekit.Backend by writing a directory marker.
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return nil
	}
	w := a.client.Bucket(a.bucket).Object(a.dirKey(p)).NewWriter(ctx)
	w.ContentType = directoryContentType
	if err := w.Close(); err != nil {
		return mapGCSError("createdir", p, err)
	}
	return nil
}

// DeleteDir implements resourcekit.Backend.
func (a *Adapter) DeleteDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrPermission}
	}
	bkt := a.client.Bucket(a.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: a.dirKey(p)})
	found := false
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return mapGCSError("deletedir", p, err)
		}
		found = true
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return mapGCSError("deletedir", p, err)
		}
	}
	if !found {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotExist}
	}
	return nil
}

// Copy implements resourcekit.CanCopy with a server side copy.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	if _, err := a.object(dst).CopierFrom(a.object(src)).Run(ctx); err != nil {
		return mapGCSError("copy", src, err)
	}
	return nil
}

// Move implements resourcekit.CanMove as copy and delete.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := a.Copy(ctx, src, dst); err != nil {
		return err
	}
	if err := a.object(src).Delete(ctx); err != nil {
		return mapGCSError("move", src, err)
	}
	return nil
}

// Checksum implements resourcekit.CanChecksum. MD5 comes from the object
// attributes when the service recorded one; everything else reads the
// object.
func (a *Adapter) Checksum(ctx context.Context, p string, algorithm resourcekit.ChecksumAlgorithm) (string, error) {
	if algorithm == resourcekit.ChecksumMD5 {
		attrs, err := a.object(p).Attrs(ctx)
		if err != nil {
			return "", mapGCSError("checksum", p, err)
		}
		if len(attrs.MD5) > 0 {
			return hex.EncodeToString(attrs.MD5), nil
		}
	}
	r, err := a.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return resourcekit.CalculateChecksum(r, algorithm)
}

// PublicURL implements resourcekit.CanPublicURL with a V4 signed GET URL.
func (a *Adapter) PublicURL(_ context.Context, p string) (string, error) {
	u, err := a.client.Bucket(a.bucket).SignedURL(a.key(p), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(a.urlExpiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", mapGCSError("publicurl", p, err)
	}
	return u, nil
}

var (
	_ resourcekit.Backend      = (*Adapter)(nil)
	_ resourcekit.CanCopy      = (*Adapter)(nil)
	_ resourcekit.CanMove      = (*Adapter)(nil)
	_ resourcekit.CanChecksum  = (*Adapter)(nil)
	_ resourcekit.CanPublicURL = (*Adapter)(nil)
)
