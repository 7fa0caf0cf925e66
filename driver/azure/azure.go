package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/gobeaver/resourcekit"
)

const directoryContentType = "application/x-directory"

// DefaultURLExpiry is how long SAS public URLs stay valid.
const DefaultURLExpiry = 15 * time.Minute

// Adapter stores resources as blobs of one container.
type Adapter struct {
	client        *azblob.Client
	containerName string
	prefix        string
	cred          *azblob.SharedKeyCredential
	urlExpiry     time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithPrefix places every blob below prefix.
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithSharedKey enables SAS URLs signed with the account key.
func WithSharedKey(cred *azblob.SharedKeyCredential) AdapterOption {
	return func(a *Adapter) { a.cred = cred }
}

// WithURLExpiry sets the lifetime of SAS public URLs.
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.urlExpiry = d
		}
	}
}

// New creates an Azure Blob adapter for containerName.
func New(client *azblob.Client, containerName string, options ...AdapterOption) *Adapter {
	a := &Adapter{client: client, containerName: containerName, urlExpiry: DefaultURLExpiry}
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

func (a *Adapter) container() *container.Client {
	return a.client.ServiceClient().NewContainerClient(a.containerName)
}

func (a *Adapter) blob(p string) *blob.Client {
	return a.container().NewBlobClient(a.key(p))
}

func isNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

func mapAzureError(op, p string, err error) error {
	switch {
	case isNotFound(err):
		err = resourcekit.ErrNotExist
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		err = resourcekit.ErrExist
	default:
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.StatusCode {
			case http.StatusNotFound:
				err = resourcekit.ErrNotExist
			case http.StatusForbidden:
				err = resourcekit.ErrPermission
			case http.StatusConflict, http.StatusPreconditionFailed:
				err = resourcekit.ErrExist
			}
		}
	}
	return &resourcekit.PathError{Op: op, Path: p, Err: err}
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...resourcekit.Option) error {
	opts := resourcekit.ApplyOptions(options...)

	data, err := io.ReadAll(content)
	if err != nil {
		return &resourcekit.PathError{Op: "write", Path: p, Err: err}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = resourcekit.GuessContentType(p, data)
	}
	uploadOpts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if !opts.Overwrite {
		etagAny := azcore.ETagAny
		uploadOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &etagAny},
		}
	}
	if len(opts.Metadata) > 0 {
		uploadOpts.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			uploadOpts.Metadata[k] = &v
		}
	}
	if _, err := a.client.UploadBuffer(ctx, a.containerName, a.key(p), data, uploadOpts); err != nil {
		return mapAzureError("write", p, err)
	}
	return nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, a.key(p), nil)
	if err != nil {
		return nil, mapAzureError("read", p, err)
	}
	return resp.Body, nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	if _, err := a.client.DeleteBlob(ctx, a.containerName, a.key(p), nil); err != nil {
		return mapAzureError("delete", p, err)
	}
	return nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return false, nil
	}
	props, err := a.blob(p).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapAzureError("fileexists", p, err)
	}
	return props.ContentType == nil || *props.ContentType != directoryContentType, nil
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, p string) (bool, error) {
	if strings.Trim(p, "/") == "" {
		return true, nil
	}
	prefix := a.dirKey(p)
	one := int32(1)
	pager := a.container().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:     &prefix,
		MaxResults: &one,
	})
	if !pager.More() {
		return false, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return false, mapAzureError("direxists", p, err)
	}
	return len(resp.Segment.BlobItems) > 0, nil
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, p string) (*resourcekit.Entry, error) {
	rel := strings.Trim(p, "/")
	if rel != "" {
		props, err := a.blob(p).GetProperties(ctx, nil)
		if err == nil && (props.ContentType == nil || *props.ContentType != directoryContentType) {
			e := &resourcekit.Entry{
				Name:     path.Base(rel),
				Path:     rel,
				Size:     deref(props.ContentLength),
				ModTime:  deref(props.LastModified),
				Metadata: flattenMetadata(props.Metadata),
			}
			e.ContentType = deref(props.ContentType)
			return e, nil
		}
		if err != nil && !isNotFound(err) {
			return nil, mapAzureError("stat", p, err)
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

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

func flattenMetadata(m map[string]*string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = deref(v)
	}
	return out
}

// ListContents implements resourcekit.Backend.
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]resourcekit.Entry, error) {
	listPrefix := a.dirKey(p)
	base := strings.Trim(p, "/")

	seenDirs := make(map[string]bool)
	var entries []resourcekit.Entry
	addDir := func(rel string) {
		if rel == "" || rel == base || seenDirs[rel] {
			return
		}
		seenDirs[rel] = true
		entries = append(entries, resourcekit.Entry{Name: path.Base(rel), Path: rel, IsDir: true})
	}
	addBlob := func(item *container.BlobItem) {
		if item.Name == nil || *item.Name == listPrefix {
			return
		}
		rel := a.relative(*item.Name)
		if recursive {
			for dir := path.Dir(rel); dir != "." && dir != base; dir = path.Dir(dir) {
				addDir(dir)
			}
		}
		var props container.BlobProperties
		if item.Properties != nil {
			props = *item.Properties
		}
		if strings.HasSuffix(*item.Name, "/") || deref(props.ContentType) == directoryContentType {
			addDir(rel)
			return
		}
		entries = append(entries, resourcekit.Entry{
			Name:        path.Base(rel),
			Path:        rel,
			Size:        deref(props.ContentLength),
			ModTime:     deref(props.LastModified),
			ContentType: deref(props.ContentType),
			Metadata:    flattenMetadata(item.Metadata),
		})
	}

	if recursive {
		pager := a.container().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &listPrefix})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, mapAzureError("listcontents", p, err)
			}
			for _, item := range resp.Segment.BlobItems {
				addBlob(item)
			}
		}
		return entries, nil
	}

	pager := a.container().NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &listPrefix})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapAzureError("listcontents", p, err)
		}
		for _, bp := range resp.Segment.BlobPrefixes {
			if bp.Name != nil {
				addDir(a.relative(*bp.Name))
			}
		}
		for _, item := range resp.Segment.BlobItems {
			addBlob(item)
		}
	}
	return entries, nil
}

// CreateDir implements resourcekit.Backend by writing a directory marker.
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return nil
	}
	contentType := directoryContentType
	_, err := a.client.UploadBuffer(ctx, a.containerName, a.dirKey(p), nil, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return mapAzureError("createdir", p, err)
	}
	return nil
}

// DeleteDir implements resourcekit.Backend.
func (a *Adapter) DeleteDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrPermission}
	}
	prefix := a.dirKey(p)
	pager := a.container().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	found := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return mapAzureError("deletedir", p, err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			found = true
			if _, err := a.client.DeleteBlob(ctx, a.containerName, *item.Name, nil); err != nil && !isNotFound(err) {
				return mapAzureError("deletedir", p, err)
			}
		}
	}
	if !found {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotExist}
	}
	return nil
}

// Copy implements resourcekit.CanCopy. The synchronous copy needs a
// readable source URL, so it is only available with a shared key;
// without one the content is streamed through the adapter.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	if a.cred != nil {
		srcURL, err := a.signedURL(src, sas.BlobPermissions{Read: true}, a.urlExpiry)
		if err != nil {
			return err
		}
		if _, err := a.blob(dst).CopyFromURL(ctx, srcURL, nil); err != nil {
			return mapAzureError("copy", src, err)
		}
		return nil
	}
	r, err := a.Read(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return &resourcekit.PathError{Op: "copy", Path: src, Err: err}
	}
	return a.Write(ctx, dst, bytes.NewReader(data), resourcekit.WithOverwrite(true))
}

// Move implements resourcekit.CanMove as copy and delete.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := a.Copy(ctx, src, dst); err != nil {
		return err
	}
	return a.Delete(ctx, src)
}

func (a *Adapter) signedURL(p string, perms sas.BlobPermissions, expiry time.Duration) (string, error) {
	if a.cred == nil {
		return "", &resourcekit.PathError{Op: "publicurl", Path: p, Err: fmt.Errorf("%w: SAS URLs need an account key", resourcekit.ErrNotSupported)}
	}
	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-time.Minute),
		ExpiryTime:    now.Add(expiry),
		Permissions:   perms.String(),
		ContainerName: a.containerName,
		BlobName:      a.key(p),
	}.SignWithSharedKey(a.cred)
	if err != nil {
		return "", mapAzureError("publicurl", p, err)
	}
	return a.blob(p).URL() + "?" + params.Encode(), nil
}

// PublicURL implements resourcekit.CanPublicURL with a read-only SAS URL.
func (a *Adapter) PublicURL(_ context.Context, p string) (string, error) {
	return a.signedURL(p, sas.BlobPermissions{Read: true}, a.urlExpiry)
}

var (
	_ resourcekit.Backend      = (*Adapter)(nil)
	_ resourcekit.CanCopy      = (*Adapter)(nil)
	_ resourcekit.CanMove      = (*Adapter)(nil)
	_ resourcekit.CanPublicURL = (*Adapter)(nil)
)
