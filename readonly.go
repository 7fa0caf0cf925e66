package resourcekit

import (
	"context"
	"io"

	"github.com/chainguard-dev/clog"
)

// readOnly wraps a Backend and rejects every write with ErrPermission.
// Drivers built on a read-only backend report Writable=false, so a storage
// mounted on it is never writable regardless of its record.
//
//	ro := resourcekit.NewReadOnly(adapter)
//	driver := resourcekit.NewBackendDriver(ro)
//
// Read side capabilities of the wrapped backend (checksums, public URLs,
// watching, local paths) stay available.
type readOnly struct {
	backend Backend
	opts    readOnlyOptions
}

type readOnlyOptions struct {
	onWriteAttempt func(ctx context.Context, op, path string)
}

// ReadOnlyOption configures a backend returned by NewReadOnly.
type ReadOnlyOption func(*readOnlyOptions)

// WithWriteAttemptHandler registers fn to observe rejected writes. The
// default logs them at debug level.
func WithWriteAttemptHandler(fn func(ctx context.Context, op, path string)) ReadOnlyOption {
	return func(o *readOnlyOptions) {
		o.onWriteAttempt = fn
	}
}

// readOnlyLocal adds the local path capability when the wrapped backend has it.
type readOnlyLocal struct {
	*readOnly
	local CanLocalPath
}

func (r readOnlyLocal) LocalPath(p string) string { return r.local.LocalPath(p) }

// NewReadOnly returns a read-only view of b.
func NewReadOnly(b Backend, opts ...ReadOnlyOption) Backend {
	ro := &readOnly{backend: b}
	for _, opt := range opts {
		opt(&ro.opts)
	}
	if lp, ok := b.(CanLocalPath); ok {
		return readOnlyLocal{readOnly: ro, local: lp}
	}
	return ro
}

// Unwrap returns the wrapped backend.
func (r *readOnly) Unwrap() Backend { return r.backend }

// ReadOnly implements ReadOnlyBackend.
func (r *readOnly) ReadOnly() bool { return true }

func (r *readOnly) reject(ctx context.Context, op, p string) error {
	if r.opts.onWriteAttempt != nil {
		r.opts.onWriteAttempt(ctx, op, p)
	} else {
		clog.FromContext(ctx).Debugf("rejected %s on read-only backend: %s", op, p)
	}
	return &PathError{Op: op, Path: p, Err: ErrPermission}
}

func (r *readOnly) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	return r.backend.Read(ctx, p)
}

func (r *readOnly) FileExists(ctx context.Context, p string) (bool, error) {
	return r.backend.FileExists(ctx, p)
}

func (r *readOnly) DirExists(ctx context.Context, p string) (bool, error) {
	return r.backend.DirExists(ctx, p)
}

func (r *readOnly) Stat(ctx context.Context, p string) (*Entry, error) {
	return r.backend.Stat(ctx, p)
}

func (r *readOnly) ListContents(ctx context.Context, p string, recursive bool) ([]Entry, error) {
	return r.backend.ListContents(ctx, p, recursive)
}

func (r *readOnly) Write(ctx context.Context, p string, _ io.Reader, _ ...Option) error {
	return r.reject(ctx, "write", p)
}

func (r *readOnly) Delete(ctx context.Context, p string) error {
	return r.reject(ctx, "delete", p)
}

func (r *readOnly) CreateDir(ctx context.Context, p string) error {
	return r.reject(ctx, "createdir", p)
}

func (r *readOnly) DeleteDir(ctx context.Context, p string) error {
	return r.reject(ctx, "deletedir", p)
}

// Permissions reports the wrapped backend's read bit and never write.
func (r *readOnly) Permissions(ctx context.Context, p string) (Permissions, error) {
	if rp, ok := r.backend.(CanReportPermissions); ok {
		perms, err := rp.Permissions(ctx, p)
		if err != nil {
			return Permissions{}, err
		}
		return Permissions{Read: perms.Read}, nil
	}
	return Permissions{Read: true}, nil
}

func (r *readOnly) Checksum(ctx context.Context, p string, algorithm ChecksumAlgorithm) (string, error) {
	if cs, ok := r.backend.(CanChecksum); ok {
		return cs.Checksum(ctx, p, algorithm)
	}
	rc, err := r.backend.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return CalculateChecksum(rc, algorithm)
}

func (r *readOnly) PublicURL(ctx context.Context, p string) (string, error) {
	if pu, ok := r.backend.(CanPublicURL); ok {
		return pu.PublicURL(ctx, p)
	}
	return "", &PathError{Op: "publicurl", Path: p, Err: ErrNotSupported}
}

func (r *readOnly) Watch(ctx context.Context, pattern string) (ChangeToken, error) {
	if w, ok := r.backend.(CanWatch); ok {
		return w.Watch(ctx, pattern)
	}
	return nil, &PathError{Op: "watch", Path: pattern, Err: ErrNotSupported}
}

var (
	_ ReadOnlyBackend      = (*readOnly)(nil)
	_ CanReportPermissions = (*readOnly)(nil)
	_ CanChecksum          = (*readOnly)(nil)
	_ CanLocalPath         = readOnlyLocal{}
)
