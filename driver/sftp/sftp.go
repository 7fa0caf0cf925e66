package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gobeaver/resourcekit"
)

// Adapter stores resources below a directory of an SFTP server.
type Adapter struct {
	mu       sync.Mutex
	client   *sftp.Client
	sshConn  *ssh.Client
	basePath string
	config   Config
}

// Config holds SFTP connection configuration.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded
	// HostKey is the expected server key in authorized_keys format. When
	// empty, any host key is accepted.
	HostKey  string
	BasePath string
}

// New dials the server and returns an adapter rooted at cfg.BasePath.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	a := &Adapter{config: cfg, basePath: cleanBase(cfg.BasePath)}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// NewFromClient wraps an established SFTP session. The adapter never
// reconnects it.
func NewFromClient(client *sftp.Client, basePath string) *Adapter {
	return &Adapter{client: client, basePath: cleanBase(basePath)}
}

func cleanBase(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func (a *Adapter) sshConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{User: a.config.Username}
	if a.config.HostKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(a.config.HostKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		cfg.HostKeyCallback = ssh.FixedHostKey(key)
	} else {
		clog.FromContext(ctx).Warnf("sftp: no host key configured for %s, accepting any", a.config.Host)
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	if len(a.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(a.config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if a.config.Password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(a.config.Password))
	}
	if len(cfg.Auth) == 0 {
		return nil, errors.New("no authentication method provided")
	}
	return cfg, nil
}

func (a *Adapter) connect(ctx context.Context) error {
	sshCfg, err := a.sshConfig(ctx)
	if err != nil {
		return err
	}
	port := a.config.Port
	if port == 0 {
		port = 22
	}
	sshConn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", a.config.Host, port), sshCfg)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to SSH: %v", resourcekit.ErrOffline, err)
	}
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}

	a.mu.Lock()
	a.sshConn = sshConn
	a.client = client
	a.mu.Unlock()
	return nil
}

// Close closes the SFTP session and its SSH connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.sshConn != nil {
		errs = append(errs, a.sshConn.Close())
		a.sshConn = nil
	}
	return errors.Join(errs...)
}

// session returns a live client, redialing when the connection was lost.
func (a *Adapter) session(ctx context.Context, op, p string) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client != nil {
		if _, err := client.Getwd(); err == nil {
			return client, nil
		}
		a.mu.Lock()
		a.client, a.sshConn = nil, nil
		a.mu.Unlock()
	}
	if a.config.Host == "" {
		return nil, &resourcekit.PathError{Op: op, Path: p, Err: resourcekit.ErrOffline}
	}
	if err := a.connect(ctx); err != nil {
		return nil, &resourcekit.PathError{Op: op, Path: p, Err: err}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, nil
}

// resolve maps a relative path into the server tree, refusing to leave it.
func (a *Adapter) resolve(op, p string) (string, error) {
	rel := path.Clean("/" + strings.Trim(p, "/"))
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", &resourcekit.PathError{Op: op, Path: p, Err: resourcekit.ErrPermission}
		}
	}
	if a.basePath == "" {
		return strings.TrimPrefix(rel, "/"), nil
	}
	return path.Join(a.basePath, rel), nil
}

func (a *Adapter) prepare(ctx context.Context, op, p string) (*sftp.Client, string, error) {
	full, err := a.resolve(op, p)
	if err != nil {
		return nil, "", err
	}
	client, err := a.session(ctx, op, p)
	if err != nil {
		return nil, "", err
	}
	return client, full, nil
}

func mapSFTPError(op, p string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		err = resourcekit.ErrNotExist
	case errors.Is(err, os.ErrPermission):
		err = resourcekit.ErrPermission
	case errors.Is(err, os.ErrExist):
		err = resourcekit.ErrExist
	default:
		var status *sftp.StatusError
		if errors.As(err, &status) {
			switch status.FxCode() {
			case sftp.ErrSSHFxNoSuchFile:
				err = resourcekit.ErrNotExist
			case sftp.ErrSSHFxPermissionDenied:
				err = resourcekit.ErrPermission
			case sftp.ErrSSHFxConnectionLost, sftp.ErrSSHFxNoConnection:
				err = resourcekit.ErrOffline
			}
		}
	}
	return &resourcekit.PathError{Op: op, Path: p, Err: err}
}

// Write implements resourcekit.Backend.
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...resourcekit.Option) error {
	client, full, err := a.prepare(ctx, "write", p)
	if err != nil {
		return err
	}
	opts := resourcekit.ApplyOptions(options...)

	if info, err := client.Stat(full); err == nil {
		if info.IsDir() {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrIsDir}
		}
		if !opts.Overwrite {
			return &resourcekit.PathError{Op: "write", Path: p, Err: resourcekit.ErrExist}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return mapSFTPError("write", p, err)
	}

	if err := client.MkdirAll(path.Dir(full)); err != nil {
		return mapSFTPError("write", p, err)
	}
	f, err := client.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return mapSFTPError("write", p, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return mapSFTPError("write", p, err)
	}
	if err := f.Close(); err != nil {
		return mapSFTPError("write", p, err)
	}
	return nil
}

// Read implements resourcekit.Backend.
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	client, full, err := a.prepare(ctx, "read", p)
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(full)
	if err != nil {
		return nil, mapSFTPError("read", p, err)
	}
	if info.IsDir() {
		return nil, &resourcekit.PathError{Op: "read", Path: p, Err: resourcekit.ErrIsDir}
	}
	f, err := client.Open(full)
	if err != nil {
		return nil, mapSFTPError("read", p, err)
	}
	return f, nil
}

// Delete implements resourcekit.Backend.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	client, full, err := a.prepare(ctx, "delete", p)
	if err != nil {
		return err
	}
	info, err := client.Stat(full)
	if err != nil {
		return mapSFTPError("delete", p, err)
	}
	if info.IsDir() {
		return &resourcekit.PathError{Op: "delete", Path: p, Err: resourcekit.ErrIsDir}
	}
	if err := client.Remove(full); err != nil {
		return mapSFTPError("delete", p, err)
	}
	return nil
}

func (a *Adapter) statKind(ctx context.Context, op, p string, wantDir bool) (bool, error) {
	client, full, err := a.prepare(ctx, op, p)
	if err != nil {
		return false, err
	}
	info, err := client.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, mapSFTPError(op, p, err)
	}
	return info.IsDir() == wantDir, nil
}

// FileExists implements resourcekit.Backend.
func (a *Adapter) FileExists(ctx context.Context, p string) (bool, error) {
	return a.statKind(ctx, "fileexists", p, false)
}

// DirExists implements resourcekit.Backend.
func (a *Adapter) DirExists(ctx context.Context, p string) (bool, error) {
	return a.statKind(ctx, "direxists", p, true)
}

func toEntry(rel string, info os.FileInfo) resourcekit.Entry {
	e := resourcekit.Entry{
		Name:    path.Base(rel),
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if rel == "" {
		e.Name = ""
	}
	if e.IsDir {
		e.Size = 0
	} else {
		e.ContentType = resourcekit.GuessContentType(rel, nil)
	}
	if st, ok := info.Sys().(*sftp.FileStat); ok {
		e.Metadata = map[string]string{"owner": fmt.Sprint(st.UID)}
	}
	return e
}

// Stat implements resourcekit.Backend.
func (a *Adapter) Stat(ctx context.Context, p string) (*resourcekit.Entry, error) {
	client, full, err := a.prepare(ctx, "stat", p)
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(full)
	if err != nil {
		return nil, mapSFTPError("stat", p, err)
	}
	e := toEntry(strings.Trim(p, "/"), info)
	return &e, nil
}

// ListContents implements resourcekit.Backend.
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]resourcekit.Entry, error) {
	client, full, err := a.prepare(ctx, "listcontents", p)
	if err != nil {
		return nil, err
	}
	base := strings.Trim(p, "/")

	var entries []resourcekit.Entry
	if recursive {
		walker := client.Walk(full)
		for walker.Step() {
			if err := walker.Err(); err != nil {
				return nil, mapSFTPError("listcontents", p, err)
			}
			if walker.Path() == full {
				continue
			}
			rel := strings.TrimPrefix(walker.Path(), strings.TrimSuffix(full, "/")+"/")
			if base != "" {
				rel = base + "/" + rel
			}
			entries = append(entries, toEntry(rel, walker.Stat()))
		}
	} else {
		infos, err := client.ReadDir(full)
		if err != nil {
			return nil, mapSFTPError("listcontents", p, err)
		}
		for _, info := range infos {
			rel := info.Name()
			if base != "" {
				rel = base + "/" + rel
			}
			entries = append(entries, toEntry(rel, info))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// CreateDir implements resourcekit.Backend.
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	client, full, err := a.prepare(ctx, "createdir", p)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(full); err != nil {
		return mapSFTPError("createdir", p, err)
	}
	return nil
}

// DeleteDir implements resourcekit.Backend.
func (a *Adapter) DeleteDir(ctx context.Context, p string) error {
	if strings.Trim(p, "/") == "" {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrPermission}
	}
	client, full, err := a.prepare(ctx, "deletedir", p)
	if err != nil {
		return err
	}
	info, err := client.Stat(full)
	if err != nil {
		return mapSFTPError("deletedir", p, err)
	}
	if !info.IsDir() {
		return &resourcekit.PathError{Op: "deletedir", Path: p, Err: resourcekit.ErrNotDir}
	}
	if err := client.RemoveAll(full); err != nil {
		return mapSFTPError("deletedir", p, err)
	}
	return nil
}

// Copy implements resourcekit.CanCopy by streaming through the client.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	r, err := a.Read(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return a.Write(ctx, dst, r, resourcekit.WithOverwrite(true))
}

// Move implements resourcekit.CanMove with a server side rename.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	client, from, err := a.prepare(ctx, "move", src)
	if err != nil {
		return err
	}
	to, err := a.resolve("move", dst)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(to)); err != nil {
		return mapSFTPError("move", dst, err)
	}
	if err := client.PosixRename(from, to); err != nil {
		if err := client.Rename(from, to); err != nil {
			return mapSFTPError("move", src, err)
		}
	}
	return nil
}

// MoveDir implements resourcekit.CanMoveDir.
func (a *Adapter) MoveDir(ctx context.Context, src, dst string) error {
	return a.Move(ctx, src, dst)
}

// Checksum implements resourcekit.CanChecksum.
func (a *Adapter) Checksum(ctx context.Context, p string, algorithm resourcekit.ChecksumAlgorithm) (string, error) {
	r, err := a.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return resourcekit.CalculateChecksum(r, algorithm)
}

// Permissions implements resourcekit.CanReportPermissions from the
// owner bits of the remote mode.
func (a *Adapter) Permissions(ctx context.Context, p string) (resourcekit.Permissions, error) {
	client, full, err := a.prepare(ctx, "permissions", p)
	if err != nil {
		return resourcekit.Permissions{}, err
	}
	info, err := client.Stat(full)
	if err != nil {
		return resourcekit.Permissions{}, mapSFTPError("permissions", p, err)
	}
	mode := info.Mode().Perm()
	return resourcekit.Permissions{Read: mode&0o400 != 0, Write: mode&0o200 != 0}, nil
}

var (
	_ resourcekit.Backend              = (*Adapter)(nil)
	_ resourcekit.CanCopy              = (*Adapter)(nil)
	_ resourcekit.CanMove              = (*Adapter)(nil)
	_ resourcekit.CanMoveDir           = (*Adapter)(nil)
	_ resourcekit.CanChecksum          = (*Adapter)(nil)
	_ resourcekit.CanReportPermissions = (*Adapter)(nil)
)
