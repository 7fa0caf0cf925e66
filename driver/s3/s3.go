package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gobeaver/resourcekit"
)

// DefaultURLExpiry is how long pre-signed public URLs stay valid.
const DefaultURLExpiry = 15 * time.Minute

// Adapter stores resources as objects of one bucket. Directories are
// zero byte objects whose key ends in "/".
type Adapter struct {
	client    *s3.Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithPrefix places every key below prefix.
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithURLExpiry sets the lifetime of pre-signed public URLs.
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.urlExpiry = d
		}
	}
}

// New creates an S3 adapter for bucket.
func New(client *s3.Client, bucket string, options ...AdapterOption) *Adapter {
	a := &Adapter{
		client:    client,
		bucket:    bucket,
		urlExpiry: DefaultURLExpiry,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Adapter) key(p string) string {
	return a.prefix + strings.Trim(p, "/")
}

func (a *Adapter) dirKey(p string) string {
	k := a.key(p)
	if k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

// relative turns an object key back into a backend path.
func (a *Adapter) relative(key string) string {
	return strings.Trim(strings.TrimPrefix(key, a.prefix), "/")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &notFound)
}

func mapS3Error(op, p string, err error) error {
	if isNotFound(err) {
		err = resourcekit.ErrNotExist
	}
	return &resourcekit.PathError{Op: op, Path: p, Err: err}
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...resourcekit.Option) error {
	opts := resourcekit.ApplyOptions(options...)
	if !opts.Overwrite {
		exists, err := a.FileExists(ctx, p)
		if err != nil {
			return err
		}
		if exists {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrExist}
		}
	}

	// PutObject needs a seekable body to compute the payload hash.
	body, ok := content.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(content)
		if err != nil {
			return &resourcekit.PathError{Op: "write", Path: p, Err: err}
		}
		body = bytes.NewReader(data)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = resourcekit.GuessContentType(p, nil)
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(p)),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata:    maps.Clone(opts.Metadata),
	})
	if err != nil {
		return mapS3Error("write", p, err)
	}
	return nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return nil, mapS3Error("read", p, err)
	}
	return resp.Body, nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	exists, err := a.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		return &resourcekit.PathError{Op: "delete", Path: p, Err: resourcekit.ErrNotExist}
	}
	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return mapS3Error("delete", p, err)
	}
	return nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return false, nil
	}
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapS3Error("fileexists", p, err)
	}
	return true, nil
}

// DirExists implements resourcekit.Backend. A directory exists when its
// marker or any object below it exists.
func (a *Adapter) DirExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return true, nil
	}
	resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapS3Error("direxists", p, err)
	}
	return len(resp.Contents) > 0 || len(resp.CommonPrefixes) > 0, nil
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, p string) (*resourcekit.Entry, error) {
	rel := strings.Trim(p, "/")
	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err == nil {
		return &resourcekit.Entry{
			Name:        path.Base(rel),
			Path:        rel,
			Size:        aws.ToInt64(resp.ContentLength),
			ModTime:     aws.ToTime(resp.LastModified),
			ContentType: aws.ToString(resp.ContentType),
			Metadata:    maps.Clone(resp.Metadata),
		}, nil
	}
	if !isNotFound(err) {
		return nil, mapS3Error("stat", p, err)
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

// ListContents implements resourcekit.Backend. Recursive listings derive
// intermediate directories from object keys.
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]resourcekit.Entry, error) {
	listPrefix := a.dirKey(p)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var entries []resourcekit.Entry
	seenDirs := make(map[string]bool)
	addDir := func(rel string) {
		if rel == "" || seenDirs[rel] {
			return
		}
		seenDirs[rel] = true
		entries = append(entries, resourcekit.Entry{Name: path.Base(rel), Path: rel, IsDir: true})
	}

	base := strings.Trim(p, "/")
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("listcontents", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			addDir(a.relative(aws.ToString(cp.Prefix)))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == listPrefix {
				continue
			}
			rel := a.relative(key)
			if recursive {
				for dir := path.Dir(rel); dir != "." && dir != base; dir = path.Dir(dir) {
					addDir(dir)
				}
			}
			if strings.HasSuffix(key, "/") {
				addDir(rel)
				continue
			}
			entries = append(entries, resourcekit.Entry{
				Name:        path.Base(rel),
				Path:        rel,
				Size:        aws.ToInt64(obj.Size),
				ModTime:     aws.ToTime(obj.LastModified),
				ContentType: resourcekit.GuessContentType(rel, nil),
			})
		}
	}
	return entries, nil
}

// CreateDir implements resourcekit.Backend by writing a directory marker.
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return nil
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.dirKey(p)),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String("application/x-directory"),
	})
	if err != nil {
		return mapS3Error("createdir", p, err)
	}
	return nil
}

// DeleteDir implements resourcekit.Backend, removing every object below p
// in batches of at most 1000 keys.
func (a *Adapter) DeleteDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrPermission}
	}
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.dirKey(p)),
	})
	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Error("deletedir", p, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		found = true
		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapS3Error("deletedir", p, err)
		}
	}
	if !found {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotExist}
	}
	return nil
}

// Copy implements resourcekit.CanCopy with a server side CopyObject.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		CopySource: aws.String(fmt.Sprintf("%s/%s", a.bucket, a.key(src))),
		Key:        aws.String(a.key(dst)),
	})
	if err != nil {
		return mapS3Error("copy", src, err)
	}
	return nil
}

// Move implements resourcekit.CanMove as copy and delete.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := a.Copy(ctx, src, dst); err != nil {
		return err
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(src)),
	})
	if err != nil {
		return mapS3Error("move", src, err)
	}
	return nil
}

// PublicURL implements resourcekit.CanPublicURL with a pre-signed GET URL.
func (a *Adapter) PublicURL(ctx context.Context, p string) (string, error) {
	presign := s3.NewPresignClient(a.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	}, func(o *s3.PresignOptions) {
		o.Expires = a.urlExpiry
	})
	if err != nil {
		return "", mapS3Error("publicurl", p, err)
	}
	return req.URL, nil
}

var (
	_ resourcekit.Backend      = (*Adapter)(nil)
	_ resourcekit.CanCopy      = (*Adapter)(nil)
	_ resourcekit.CanMove      = (*Adapter)(nil)
	_ resourcekit.CanPublicURL = (*Adapter)(nil)
)
