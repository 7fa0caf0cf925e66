package resourcekit

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/gobeaver/filekit/filevalidator"
)

// UploadedFile is content received from a client that is not in a storage
// yet.
type UploadedFile interface {
	Filename() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type multipartUpload struct {
	header *multipart.FileHeader
}

// FromMultipart adapts a multipart form file.
func FromMultipart(h *multipart.FileHeader) UploadedFile {
	return &multipartUpload{header: h}
}

func (u *multipartUpload) Filename() string { return u.header.Filename }
func (u *multipartUpload) Size() int64      { return u.header.Size }

func (u *multipartUpload) Open() (io.ReadCloser, error) {
	return u.header.Open()
}

type localUpload struct {
	path string
	size int64
}

// FromLocalFile treats a file on the local disk as an upload.
func FromLocalFile(path string) (UploadedFile, error) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return nil, &PathError{Op: "upload", Path: path, Err: ErrInvalidArgument}
	}
	return &localUpload{path: path, size: st.Size()}, nil
}

func (u *localUpload) Filename() string             { return filepath.Base(u.path) }
func (u *localUpload) Size() int64                  { return u.size }
func (u *localUpload) Open() (io.ReadCloser, error) { return os.Open(u.path) }

func (s *Storage) uploadValidator() *filevalidator.FileValidator {
	b := filevalidator.Empty().AllowNoExtension()
	if max := s.opts.config.MaxUploadSize; max > 0 {
		b = b.MaxSize(max)
	}
	return b.Build()
}

// AddUploadedFile validates an upload against the size limit, spools it to
// a temporary file and adds it like AddFile. name defaults to the upload's
// file name.
func (s *Storage) AddUploadedFile(ctx context.Context, upload UploadedFile, folder *Folder, name string, policy ConflictPolicy) (*File, error) {
	if name == "" {
		name = upload.Filename()
	}
	r, err := upload.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := s.uploadValidator().ValidateReader(r, name, upload.Size()); err != nil {
		return nil, &PathError{Op: "upload", Path: name, Err: fmt.Errorf("%w: %w", ErrInvalidArgument, err)}
	}

	tmp, err := os.CreateTemp(s.opts.config.TempDir, "resourcekit-upload-*")
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeTemp(ctx, tmp.Name())
		return nil, err
	}

	f, err := s.AddFile(ctx, tmp.Name(), folder, name, policy, true)
	if err != nil {
		removeTemp(ctx, tmp.Name())
		return nil, err
	}
	return f, nil
}
