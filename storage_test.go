package resourcekit_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/resourcekit"
	"github.com/gobeaver/resourcekit/driver/memory"
)

func storageRecord(uid int) resourcekit.StorageRecord {
	return resourcekit.StorageRecord{
		UID:         uid,
		Name:        "storage",
		Driver:      memory.DriverType,
		IsBrowsable: true,
		IsPublic:    true,
		IsWritable:  true,
		IsOnline:    true,
	}
}

// seed writes files straight into the adapter, bypassing the storage.
func seed(t testing.TB, a *memory.Adapter, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, a.Write(context.Background(), p, strings.NewReader(content), resourcekit.WithOverwrite(true)))
	}
}

func readBackend(t testing.TB, a *memory.Adapter, p string) string {
	t.Helper()
	r, err := a.Read(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func localFile(t testing.TB, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newStorage(t testing.TB, a *memory.Adapter, uid int, opts ...resourcekit.StorageOption) *resourcekit.Storage {
	t.Helper()
	s, err := resourcekit.NewStorage(context.Background(), resourcekit.NewBackendDriver(a), storageRecord(uid), opts...)
	require.NoError(t, err)
	return s
}

func mountedAt(uid int, mounts ...resourcekit.MountDefinition) *resourcekit.StaticSubject {
	return &resourcekit.StaticSubject{
		Permissions: resourcekit.FullAccess(),
		Mounts:      map[int][]resourcekit.MountDefinition{uid: mounts},
	}
}

// spyDriver counts calls of the driver operations the storage may choose
// between.
type spyDriver struct {
	resourcekit.Driver

	mu    sync.Mutex
	calls map[string]int
}

func newSpyDriver(d resourcekit.Driver) *spyDriver {
	return &spyDriver{Driver: d, calls: make(map[string]int)}
}

func (d *spyDriver) count(op string) {
	d.mu.Lock()
	d.calls[op]++
	d.mu.Unlock()
}

func (d *spyDriver) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *spyDriver) AddFile(ctx context.Context, localPath, folder, name string, removeOriginal bool) (string, error) {
	d.count("AddFile")
	return d.Driver.AddFile(ctx, localPath, folder, name, removeOriginal)
}

func (d *spyDriver) CopyFileWithinStorage(ctx context.Context, id, folder, name string) (string, error) {
	d.count("CopyFileWithinStorage")
	return d.Driver.CopyFileWithinStorage(ctx, id, folder, name)
}

func (d *spyDriver) FileForLocalProcessing(ctx context.Context, id string, writable bool) (string, error) {
	d.count("FileForLocalProcessing")
	return d.Driver.FileForLocalProcessing(ctx, id, writable)
}

func TestAddFileConflictPolicies(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*resourcekit.Storage, *memory.Adapter, *spyDriver, *resourcekit.Folder) {
		a := memory.New()
		seed(t, a, map[string]string{"a/x.txt": "original"})
		spy := newSpyDriver(resourcekit.NewBackendDriver(a))
		s, err := resourcekit.NewStorage(ctx, spy, storageRecord(1),
			resourcekit.WithSubject(mountedAt(1, resourcekit.MountDefinition{Identifier: "/a/"})))
		require.NoError(t, err)
		folder, err := s.GetFolder(ctx, "/a/")
		require.NoError(t, err)
		return s, a, spy, folder
	}

	t.Run("cancel fails without touching the driver", func(t *testing.T) {
		s, a, spy, folder := setup(t)
		_, err := s.AddFile(ctx, localFile(t, "x.txt", "new"), folder, "x.txt", resourcekit.ConflictCancel, false)
		require.Error(t, err)
		assert.True(t, resourcekit.IsExist(err), "got %v", err)
		assert.Zero(t, spy.Calls("AddFile"))
		assert.Equal(t, "original", readBackend(t, a, "a/x.txt"))
	})

	t.Run("rename picks the next free name", func(t *testing.T) {
		s, a, _, folder := setup(t)
		f, err := s.AddFile(ctx, localFile(t, "x.txt", "new"), folder, "x.txt", resourcekit.ConflictRename, false)
		require.NoError(t, err)
		assert.Equal(t, "x_01.txt", f.Name())
		assert.Equal(t, "/a/x_01.txt", f.Identifier())
		assert.Equal(t, "original", readBackend(t, a, "a/x.txt"))
		assert.Equal(t, "new", readBackend(t, a, "a/x_01.txt"))
	})

	t.Run("replace overwrites", func(t *testing.T) {
		s, a, _, folder := setup(t)
		f, err := s.AddFile(ctx, localFile(t, "x.txt", "new"), folder, "x.txt", resourcekit.ConflictReplace, false)
		require.NoError(t, err)
		assert.Equal(t, "/a/x.txt", f.Identifier())
		assert.Equal(t, "new", readBackend(t, a, "a/x.txt"))

		size, err := f.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), size)
	})

	t.Run("outside the mount", func(t *testing.T) {
		s, _, _, _ := setup(t)
		_, err := s.GetFolder(ctx, "/")
		assert.True(t, resourcekit.IsPermission(err), "got %v", err)
	})

	t.Run("denied extension", func(t *testing.T) {
		s, _, spy, folder := setup(t)
		_, err := s.AddFile(ctx, localFile(t, "shell.php", "<?php"), folder, "", resourcekit.ConflictRename, false)
		assert.ErrorIs(t, err, resourcekit.ErrIllegalFileExtension)
		assert.Zero(t, spy.Calls("AddFile"))
	})

	t.Run("missing local file", func(t *testing.T) {
		s, _, _, folder := setup(t)
		_, err := s.AddFile(ctx, filepath.Join(t.TempDir(), "absent"), folder, "", resourcekit.ConflictRename, false)
		assert.True(t, resourcekit.IsInvalidArgument(err), "got %v", err)
	})

	t.Run("remove original", func(t *testing.T) {
		s, _, _, folder := setup(t)
		local := localFile(t, "moved.txt", "data")
		_, err := s.AddFile(ctx, local, folder, "", resourcekit.ConflictRename, true)
		require.NoError(t, err)
		_, err = os.Stat(local)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestEvaluationDisabled(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/x.txt": "a", "b/y.txt": "b"})
	subject := &resourcekit.StaticSubject{
		Mounts: map[int][]resourcekit.MountDefinition{1: {{Identifier: "/a/", ReadOnly: true}}},
	}
	s := newStorage(t, a, 1, resourcekit.WithSubject(subject))
	require.True(t, s.EvaluatePermissions())

	_, err := s.GetFolder(ctx, "/b/")
	require.True(t, resourcekit.IsPermission(err), "got %v", err)

	err = s.WithoutPermissionEvaluation(func() error {
		assert.False(t, s.EvaluatePermissions())
		b, err := s.GetFolder(ctx, "/b/")
		if err != nil {
			return err
		}
		if _, err := s.CreateFile(ctx, "new.txt", b); err != nil {
			return err
		}
		y, err := s.GetFile(ctx, "/b/y.txt")
		if err != nil {
			return err
		}
		if _, err := s.RenameFile(ctx, y, "z.txt", resourcekit.ConflictCancel); err != nil {
			return err
		}
		assert.True(t, s.IsWithinFileMountBoundaries("/anything/at/all", true))
		assert.True(t, s.CheckUserAction(resourcekit.ActionDelete, resourcekit.KindFile))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, s.EvaluatePermissions())

	ok, err := a.FileExists(ctx, "b/new.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.FileExists(ctx, "b/z.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Panics(t, func() {
		_ = s.WithoutPermissionEvaluation(func() error { panic("boom") })
	})
	assert.True(t, s.EvaluatePermissions(), "state is restored after a panic")
}

func TestEvaluationDisabledIgnoresDriverBits(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/x.txt": "x", "a/y.txt": "y"})
	a.SetPermissions("a/x.txt", resourcekit.Permissions{Read: true})
	a.SetPermissions("a/y.txt", resourcekit.Permissions{Read: true})

	s := newStorage(t, a, 1)
	require.False(t, s.EvaluatePermissions())

	x, err := s.GetFile(ctx, "/a/x.txt")
	require.NoError(t, err)
	assert.True(t, s.CheckFileAction(ctx, resourcekit.ActionWrite, x))

	renamed, err := s.RenameFile(ctx, x, "renamed.txt", resourcekit.ConflictCancel)
	require.NoError(t, err)
	assert.Equal(t, "/a/renamed.txt", renamed.Identifier())

	y, err := s.GetFile(ctx, "/a/y.txt")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile(ctx, y))
	ok, err := a.FileExists(ctx, "a/y.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopyFileBetweenStorages(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*resourcekit.Storage, *resourcekit.Storage, *spyDriver, *spyDriver, *memory.Adapter) {
		idx := resourcekit.NewMemoryIndex()
		a1, a2 := memory.New(), memory.New()
		seed(t, a1, map[string]string{"docs/report.txt": "source"})
		seed(t, a2, map[string]string{"inbox/report.txt": "destination"})
		spy1 := newSpyDriver(resourcekit.NewBackendDriver(a1))
		spy2 := newSpyDriver(resourcekit.NewBackendDriver(a2))
		s1, err := resourcekit.NewStorage(ctx, spy1, storageRecord(1), resourcekit.WithIndex(idx))
		require.NoError(t, err)
		s2, err := resourcekit.NewStorage(ctx, spy2, storageRecord(2), resourcekit.WithIndex(idx))
		require.NoError(t, err)
		return s1, s2, spy1, spy2, a2
	}

	t.Run("goes through a local copy", func(t *testing.T) {
		s1, s2, spy1, spy2, a2 := setup(t)
		src, err := s1.GetFile(ctx, "/docs/report.txt")
		require.NoError(t, err)
		require.NoError(t, s1.UpdateMetadata(ctx, src, map[string]string{"title": "Source title"}))

		inbox, err := s2.GetFolder(ctx, "/inbox/")
		require.NoError(t, err)
		copied, err := s2.CopyFile(ctx, src, inbox, "", resourcekit.ConflictRename)
		require.NoError(t, err)

		assert.Equal(t, 1, spy1.Calls("FileForLocalProcessing"))
		assert.Zero(t, spy1.Calls("CopyFileWithinStorage"))
		assert.Zero(t, spy2.Calls("CopyFileWithinStorage"))
		assert.Same(t, s2, copied.Storage())
		assert.Equal(t, "/inbox/report_01.txt", copied.Identifier())
		assert.Equal(t, "source", readBackend(t, a2, "inbox/report_01.txt"))

		meta, err := s2.Metadata(ctx, copied)
		require.NoError(t, err)
		assert.Equal(t, "Source title", meta["title"])
		assert.False(t, src.IsDeleted())
	})

	t.Run("keeps destination metadata", func(t *testing.T) {
		s1, s2, spy1, _, a2 := setup(t)
		src, err := s1.GetFile(ctx, "/docs/report.txt")
		require.NoError(t, err)
		require.NoError(t, s1.UpdateMetadata(ctx, src, map[string]string{"title": "Source title", "alternative": "from source"}))
		dst, err := s2.GetFile(ctx, "/inbox/report.txt")
		require.NoError(t, err)
		require.NoError(t, s2.UpdateMetadata(ctx, dst, map[string]string{"title": "Destination title", "caption": "destination only"}))

		inbox, err := s2.GetFolder(ctx, "/inbox/")
		require.NoError(t, err)
		copied, err := s2.CopyFile(ctx, src, inbox, "", resourcekit.ConflictReplace)
		require.NoError(t, err)
		assert.Equal(t, "/inbox/report.txt", copied.Identifier())
		assert.Equal(t, "source", readBackend(t, a2, "inbox/report.txt"))
		assert.Equal(t, 1, spy1.Calls("FileForLocalProcessing"))

		meta, err := s2.Metadata(ctx, copied)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"title":       "Destination title",
			"caption":     "destination only",
			"alternative": "from source",
		}, meta)
	})

	t.Run("within one storage uses the driver", func(t *testing.T) {
		s1, _, spy1, _, _ := setup(t)
		src, err := s1.GetFile(ctx, "/docs/report.txt")
		require.NoError(t, err)
		docs, err := s1.GetFolder(ctx, "/docs/")
		require.NoError(t, err)
		copied, err := s1.CopyFile(ctx, src, docs, "copy.txt", resourcekit.ConflictCancel)
		require.NoError(t, err)
		assert.Equal(t, "/docs/copy.txt", copied.Identifier())
		assert.Equal(t, 1, spy1.Calls("CopyFileWithinStorage"))
		assert.Zero(t, spy1.Calls("FileForLocalProcessing"))
	})
}

func TestMoveFileBetweenStorages(t *testing.T) {
	ctx := context.Background()
	idx := resourcekit.NewMemoryIndex()
	a1, a2 := memory.New(), memory.New()
	seed(t, a1, map[string]string{"docs/report.txt": "moving"})
	require.NoError(t, a1.CreateDir(ctx, "_recycler_"))
	require.NoError(t, a2.CreateDir(ctx, "inbox"))
	s1 := newStorage(t, a1, 1, resourcekit.WithIndex(idx))
	s2 := newStorage(t, a2, 2, resourcekit.WithIndex(idx))

	src, err := s1.GetFile(ctx, "/docs/report.txt")
	require.NoError(t, err)
	require.NoError(t, s1.UpdateMetadata(ctx, src, map[string]string{"title": "kept"}))
	inbox, err := s2.GetFolder(ctx, "/inbox/")
	require.NoError(t, err)

	moved, err := s2.MoveFile(ctx, src, inbox, "", resourcekit.ConflictRename)
	require.NoError(t, err)
	assert.True(t, src.IsDeleted())
	assert.Equal(t, src.IndexUID(), moved.IndexUID())
	assert.Equal(t, "moving", readBackend(t, a2, "inbox/report.txt"))

	gone, err := a1.FileExists(ctx, "docs/report.txt")
	require.NoError(t, err)
	assert.False(t, gone)
	recycled, err := a1.FileExists(ctx, "_recycler_/report.txt")
	require.NoError(t, err)
	assert.True(t, recycled, "source goes to the recycler")

	meta, err := s2.Metadata(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, "kept", meta["title"])

	_, err = s2.MoveFile(ctx, src, inbox, "", resourcekit.ConflictRename)
	assert.ErrorIs(t, err, resourcekit.ErrDeleted)
}

// failingMoveDriver fails every move within the storage.
type failingMoveDriver struct {
	resourcekit.Driver
}

func (failingMoveDriver) MoveFileWithinStorage(context.Context, string, string, string) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestMoveFileConflictPolicies(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, wrap func(resourcekit.Driver) resourcekit.Driver, opts ...resourcekit.StorageOption) (*resourcekit.Storage, *memory.Adapter, *resourcekit.File, *resourcekit.Folder) {
		a := memory.New()
		seed(t, a, map[string]string{"a/x.txt": "source", "b/x.txt": "target"})
		var d resourcekit.Driver = resourcekit.NewBackendDriver(a)
		if wrap != nil {
			d = wrap(d)
		}
		opts = append(opts, resourcekit.WithSubject(mountedAt(1, resourcekit.MountDefinition{Identifier: "/"})))
		s, err := resourcekit.NewStorage(ctx, d, storageRecord(1), opts...)
		require.NoError(t, err)
		f, err := s.GetFile(ctx, "/a/x.txt")
		require.NoError(t, err)
		target, err := s.GetFolder(ctx, "/b/")
		require.NoError(t, err)
		return s, a, f, target
	}

	untouched := func(t *testing.T, a *memory.Adapter, f *resourcekit.File) {
		t.Helper()
		assert.Equal(t, "source", readBackend(t, a, "a/x.txt"))
		assert.Equal(t, "target", readBackend(t, a, "b/x.txt"))
		assert.False(t, f.IsDeleted())
	}

	tests := []struct {
		name    string
		policy  resourcekit.ConflictPolicy
		config  func(*resourcekit.Config)
		wantID  string
		wantErr func(error) bool
	}{
		{name: "cancel", policy: resourcekit.ConflictCancel, wantErr: resourcekit.IsExist},
		{name: "rename", policy: resourcekit.ConflictRename, wantID: "/b/x_01.txt"},
		{name: "replace keeps the target", policy: resourcekit.ConflictReplace, wantErr: resourcekit.IsExist},
		{name: "empty uses the configured default", wantID: "/b/x_01.txt"},
		{
			name:    "empty with cancel configured",
			config:  func(c *resourcekit.Config) { c.DefaultConflictPolicy = "cancel" },
			wantErr: resourcekit.IsExist,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []resourcekit.StorageOption
			if tt.config != nil {
				cfg := resourcekit.DefaultConfig()
				tt.config(cfg)
				opts = append(opts, resourcekit.WithConfig(cfg))
			}
			s, a, f, target := setup(t, nil, opts...)

			moved, err := s.MoveFile(ctx, f, target, "", tt.policy)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "got %v", err)
				untouched(t, a, f)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, moved.Identifier())
			assert.Equal(t, "source", readBackend(t, a, strings.TrimPrefix(tt.wantID, "/")))
			assert.Equal(t, "target", readBackend(t, a, "b/x.txt"))
			assert.True(t, f.IsDeleted())
		})
	}

	t.Run("failing driver leaves both files", func(t *testing.T) {
		wrap := func(d resourcekit.Driver) resourcekit.Driver { return failingMoveDriver{Driver: d} }
		for _, policy := range []resourcekit.ConflictPolicy{resourcekit.ConflictRename, resourcekit.ConflictReplace} {
			s, a, f, target := setup(t, wrap)
			_, err := s.MoveFile(ctx, f, target, "", policy)
			require.Error(t, err, policy)
			untouched(t, a, f)
			ok, err := a.FileExists(ctx, "b/x_01.txt")
			require.NoError(t, err)
			assert.False(t, ok, policy)
		}
	})
}

func TestCopyFileReplaceChecksTarget(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/x.txt": "source", "b/x.txt": "target"})
	a.SetPermissions("b/x.txt", resourcekit.Permissions{Read: true})
	s := newStorage(t, a, 1, resourcekit.WithSubject(mountedAt(1, resourcekit.MountDefinition{Identifier: "/"})))

	f, err := s.GetFile(ctx, "/a/x.txt")
	require.NoError(t, err)
	target, err := s.GetFolder(ctx, "/b/")
	require.NoError(t, err)

	_, err = s.CopyFile(ctx, f, target, "", resourcekit.ConflictReplace)
	require.Error(t, err)
	assert.True(t, resourcekit.IsPermission(err), "got %v", err)
	assert.Equal(t, "target", readBackend(t, a, "b/x.txt"))

	a.SetPermissions("b/x.txt", resourcekit.Permissions{Read: true, Write: true})
	copied, err := s.CopyFile(ctx, f, target, "", resourcekit.ConflictReplace)
	require.NoError(t, err)
	assert.Equal(t, "/b/x.txt", copied.Identifier())
	assert.Equal(t, "source", readBackend(t, a, "b/x.txt"))
}

func TestDeleteNonEmptyFolder(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/sub/x.txt": "x"})

	perms := resourcekit.FullAccess()
	perms.RecursiveFolderDelete = false
	s := newStorage(t, a, 1, resourcekit.WithSubject(&resourcekit.StaticSubject{
		Permissions: perms,
		Mounts:      map[int][]resourcekit.MountDefinition{1: {{Identifier: "/a/"}}},
	}))
	sub, err := s.GetFolder(ctx, "/a/sub/")
	require.NoError(t, err)

	err = s.DeleteFolder(ctx, sub, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, resourcekit.ErrNotEmpty)
	assert.True(t, resourcekit.IsOperationFailed(err))

	err = s.DeleteFolder(ctx, sub, true)
	assert.True(t, resourcekit.IsPermission(err), "got %v", err)

	assert.Equal(t, "x", readBackend(t, a, "a/sub/x.txt"))

	empty, err := s.CreateFolder(ctx, "empty", sub)
	require.NoError(t, err)
	require.NoError(t, s.DeleteFolder(ctx, empty, false))
	exists, err := a.DirExists(ctx, "a/sub/empty")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecycler(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/x.txt": "x", "a/deep/y.txt": "y"})
	require.NoError(t, a.CreateDir(ctx, "_recycler_"))

	events := resourcekit.NewDispatcher()
	var recycled []*resourcekit.File
	resourcekit.Listen(events, func(_ context.Context, e *resourcekit.AfterFileDeletedEvent) {
		recycled = append(recycled, e.Recycled)
	})
	s := newStorage(t, a, 1, resourcekit.WithDispatcher(events))

	f, err := s.GetFile(ctx, "/a/x.txt")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile(ctx, f))
	assert.True(t, f.IsDeleted())
	require.NoError(t, s.DeleteFile(ctx, f), "deleting twice is a no-op")

	require.Len(t, recycled, 1)
	require.NotNil(t, recycled[0])
	assert.Equal(t, "/_recycler_/x.txt", recycled[0].Identifier())
	assert.Equal(t, f.IndexUID(), recycled[0].IndexUID())

	// a second file of the same name gets a unique name in the recycler
	seed(t, a, map[string]string{"a/x.txt": "x again"})
	again, err := s.GetFile(ctx, "/a/x.txt")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile(ctx, again))
	assert.Equal(t, "x again", readBackend(t, a, "_recycler_/x_01.txt"))

	// deleting inside the recycler removes for good
	inRecycler, err := s.GetFile(ctx, "/_recycler_/x.txt")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile(ctx, inRecycler))
	assert.Nil(t, recycled[len(recycled)-1])
	exists, err := a.FileExists(ctx, "_recycler_/x.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	deep, err := s.GetFolder(ctx, "/a/deep/")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFolder(ctx, deep, true))
	assert.Equal(t, "y", readBackend(t, a, "_recycler_/deep/y.txt"))

	nearest, err := s.NearestRecyclerFolder(ctx, "/a/x.txt")
	require.NoError(t, err)
	require.NotNil(t, nearest)
	assert.Equal(t, resourcekit.RoleRecycler, nearest.Role())
}

func TestDeleteMissingFile(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"gone.txt": "soon"})
	s := newStorage(t, a, 1)

	f, err := s.GetFile(ctx, "/gone.txt")
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, "gone.txt"))

	again, err := s.GetFile(ctx, "/gone.txt")
	require.NoError(t, err)
	assert.True(t, again.IsMissing())

	require.NoError(t, s.DeleteFile(ctx, f))
	_, err = s.GetFile(ctx, "/gone.txt")
	assert.True(t, resourcekit.IsNotExist(err))
}

func TestRenameFile(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*resourcekit.Storage, *memory.Adapter, *resourcekit.File) {
		a := memory.New()
		seed(t, a, map[string]string{"docs/a.txt": "a", "docs/b.txt": "b"})
		s := newStorage(t, a, 1)
		f, err := s.GetFile(ctx, "/docs/a.txt")
		require.NoError(t, err)
		return s, a, f
	}

	t.Run("keeps the extension", func(t *testing.T) {
		s, _, f := setup(t)
		renamed, err := s.RenameFile(ctx, f, "c", resourcekit.ConflictCancel)
		require.NoError(t, err)
		assert.Equal(t, "c.txt", renamed.Name())
		assert.Equal(t, f.IndexUID(), renamed.IndexUID())
		assert.True(t, f.IsDeleted())
		assert.False(t, renamed.IsDeleted())
	})

	t.Run("same name is a no-op", func(t *testing.T) {
		s, _, f := setup(t)
		renamed, err := s.RenameFile(ctx, f, "a.txt", resourcekit.ConflictCancel)
		require.NoError(t, err)
		assert.Same(t, f, renamed)
	})

	t.Run("cancel", func(t *testing.T) {
		s, _, f := setup(t)
		_, err := s.RenameFile(ctx, f, "b.txt", resourcekit.ConflictCancel)
		assert.True(t, resourcekit.IsExist(err), "got %v", err)
		assert.False(t, f.IsDeleted())
	})

	t.Run("rename", func(t *testing.T) {
		s, _, f := setup(t)
		renamed, err := s.RenameFile(ctx, f, "b.txt", resourcekit.ConflictRename)
		require.NoError(t, err)
		assert.Equal(t, "b_01.txt", renamed.Name())
	})

	t.Run("replace", func(t *testing.T) {
		s, a, f := setup(t)
		renamed, err := s.RenameFile(ctx, f, "b.txt", resourcekit.ConflictReplace)
		require.NoError(t, err)
		assert.Equal(t, "/docs/b.txt", renamed.Identifier())
		assert.Equal(t, "a", readBackend(t, a, "docs/b.txt"))
		exists, err := a.FileExists(ctx, "docs/a.txt")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.True(t, f.IsDeleted())
	})

	t.Run("denied target extension", func(t *testing.T) {
		s, _, f := setup(t)
		_, err := s.RenameFile(ctx, f, "a.phtml", resourcekit.ConflictCancel)
		assert.ErrorIs(t, err, resourcekit.ErrIllegalFileExtension)
	})

	t.Run("listener forcing a taken name", func(t *testing.T) {
		a := memory.New()
		seed(t, a, map[string]string{"docs/a.txt": "a", "docs/b.txt": "b"})
		d := resourcekit.NewDispatcher()
		calls := 0
		resourcekit.Listen(d, func(_ context.Context, e *resourcekit.BeforeFileRenamedEvent) {
			calls++
			e.TargetName = "b.txt"
		})
		s := newStorage(t, a, 1, resourcekit.WithDispatcher(d))
		f, err := s.GetFile(ctx, "/docs/a.txt")
		require.NoError(t, err)

		renamed, err := s.RenameFile(ctx, f, "c.txt", resourcekit.ConflictRename)
		require.NoError(t, err)
		assert.Equal(t, "b_01.txt", renamed.Name())
		assert.Equal(t, 1, calls)
		assert.Equal(t, "b", readBackend(t, a, "docs/b.txt"))
	})

	t.Run("empty policy uses the configured default", func(t *testing.T) {
		a := memory.New()
		seed(t, a, map[string]string{"docs/a.txt": "a", "docs/b.txt": "b"})
		cfg := resourcekit.DefaultConfig()
		cfg.DefaultConflictPolicy = "cancel"
		s := newStorage(t, a, 1, resourcekit.WithConfig(cfg))
		f, err := s.GetFile(ctx, "/docs/a.txt")
		require.NoError(t, err)

		_, err = s.RenameFile(ctx, f, "b.txt", "")
		assert.True(t, resourcekit.IsExist(err), "got %v", err)
		assert.False(t, f.IsDeleted())
	})
}

func TestFileContents(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	require.NoError(t, a.CreateDir(ctx, "docs"))

	events := resourcekit.NewDispatcher()
	resourcekit.Listen(events, func(_ context.Context, e *resourcekit.BeforeFileCreatedEvent) {
		e.FileName = strings.ToLower(e.FileName)
	})
	s := newStorage(t, a, 1, resourcekit.WithDispatcher(events))
	docs, err := s.GetFolder(ctx, "/docs/")
	require.NoError(t, err)

	f, err := s.CreateFile(ctx, "Notes.TXT", docs)
	require.NoError(t, err)
	assert.Equal(t, "/docs/notes.txt", f.Identifier())

	_, err = s.CreateFile(ctx, "notes.txt", docs)
	assert.True(t, resourcekit.IsExist(err), "got %v", err)

	n, err := s.SetFileContents(ctx, f, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := s.GetFileContents(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	props, err := f.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), props.Size)
	assert.Equal(t, "txt", f.Extension())

	sum, err := s.HashFile(ctx, f, resourcekit.ChecksumSHA1)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.HashString("hello world", resourcekit.ChecksumSHA1), sum)
	assert.Equal(t, sum, props.SHA1)

	local, err := s.FileForLocalProcessing(ctx, f, true)
	require.NoError(t, err)
	defer os.Remove(local)
	onDisk, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(onDisk))

	replaced, err := s.ReplaceFile(ctx, f, localFile(t, "new.txt", "replaced"))
	require.NoError(t, err)
	data, err = s.GetFileContents(ctx, replaced)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	_, err = s.PublicURL(ctx, f)
	assert.True(t, resourcekit.IsNotSupported(err), "memory storages have no URLs, got %v", err)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a.jpg": "img"})
	s := newStorage(t, a, 1)
	f, err := s.GetFile(ctx, "/a.jpg")
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, f, map[string]string{"title": "A", "alt": "an a"}))
	require.NoError(t, s.UpdateMetadata(ctx, f, map[string]string{"alt": ""}))
	meta, err := s.Metadata(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "A"}, meta)

	require.NoError(t, s.DeleteFile(ctx, f))
	assert.ErrorIs(t, s.UpdateMetadata(ctx, f, map[string]string{"x": "y"}), resourcekit.ErrDeleted)
}

func TestFolderOperations(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"docs/2024/a.txt": "a", "docs/readme.md": "r"})
	s := newStorage(t, a, 1)

	root, err := s.GetRootLevelFolder(ctx, false)
	require.NoError(t, err)

	t.Run("create nested", func(t *testing.T) {
		f, err := s.CreateFolder(ctx, "media/images", root)
		require.NoError(t, err)
		assert.Equal(t, "/media/images/", f.Identifier())
		_, err = s.CreateFolder(ctx, "media", nil)
		assert.True(t, resourcekit.IsExist(err), "got %v", err)
	})

	t.Run("rename moves index records", func(t *testing.T) {
		f, err := s.GetFile(ctx, "/docs/2024/a.txt")
		require.NoError(t, err)
		folder, err := s.GetFolder(ctx, "/docs/2024/")
		require.NoError(t, err)
		renamed, err := s.RenameFolder(ctx, folder, "archive")
		require.NoError(t, err)
		assert.Equal(t, "/docs/archive/", renamed.Identifier())

		moved, err := s.GetFile(ctx, "/docs/archive/a.txt")
		require.NoError(t, err)
		assert.Equal(t, f.IndexUID(), moved.IndexUID())
	})

	t.Run("move refuses own subtree", func(t *testing.T) {
		docs, err := s.GetFolder(ctx, "/docs/")
		require.NoError(t, err)
		archive, err := s.GetFolder(ctx, "/docs/archive/")
		require.NoError(t, err)
		_, err = s.MoveFolder(ctx, docs, archive, "", resourcekit.ConflictCancel)
		assert.True(t, resourcekit.IsInvalidArgument(err), "got %v", err)
	})

	t.Run("move", func(t *testing.T) {
		archive, err := s.GetFolder(ctx, "/docs/archive/")
		require.NoError(t, err)
		moved, err := s.MoveFolder(ctx, archive, root, "", resourcekit.ConflictCancel)
		require.NoError(t, err)
		assert.Equal(t, "/archive/", moved.Identifier())
		assert.Equal(t, "a", readBackend(t, a, "archive/a.txt"))
	})

	t.Run("copy carries metadata", func(t *testing.T) {
		f, err := s.GetFile(ctx, "/docs/readme.md")
		require.NoError(t, err)
		require.NoError(t, s.UpdateMetadata(ctx, f, map[string]string{"title": "Readme"}))

		docs, err := s.GetFolder(ctx, "/docs/")
		require.NoError(t, err)
		copied, err := s.CopyFolder(ctx, docs, root, "", resourcekit.ConflictRename)
		require.NoError(t, err)
		assert.Equal(t, "/docs_01/", copied.Identifier())

		dup, err := s.GetFile(ctx, "/docs_01/readme.md")
		require.NoError(t, err)
		meta, err := s.Metadata(ctx, dup)
		require.NoError(t, err)
		assert.Equal(t, "Readme", meta["title"])
		assert.NotEqual(t, f.IndexUID(), dup.IndexUID())
	})

	t.Run("listing", func(t *testing.T) {
		seed(t, a, map[string]string{"docs/.hidden": "h"})
		docs, err := s.GetFolder(ctx, "/docs/")
		require.NoError(t, err)
		files, err := s.FilesInFolder(ctx, docs, false)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "readme.md", files[0].Name())

		n, err := s.CountFilesInFolder(ctx, root, true, resourcekit.GlobFilter("*.md"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		folders, err := s.FoldersInFolder(ctx, root, false)
		require.NoError(t, err)
		var names []string
		for _, f := range folders {
			names = append(names, f.Name())
		}
		assert.ElementsMatch(t, []string{"archive", "docs", "docs_01", "media"}, names)
	})
}

func TestProcessedFiles(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a/photo.jpg": "jpeg"})
	s := newStorage(t, a, 1, resourcekit.WithSubject(mountedAt(1, resourcekit.MountDefinition{Identifier: "/a/"})))

	original, err := s.GetFile(ctx, "/a/photo.jpg")
	require.NoError(t, err)

	p, err := s.ProcessedFileFor(ctx, original, "Image.Preview", map[string]string{"width": "64"})
	require.NoError(t, err)
	assert.False(t, p.Exists())
	assert.Same(t, s, p.Storage())

	levels := resourcekit.ProcessingSubfolderNames(original.Identifier(), 2)
	prefix := "/_processed_/" + levels[0] + "/" + levels[1] + "/"
	assert.True(t, strings.HasPrefix(p.Identifier(), prefix), "%s should be below %s", p.Identifier(), prefix)
	assert.True(t, strings.HasPrefix(p.Name(), "image_preview_photo_"))
	assert.True(t, s.IsWithinProcessingFolder(p.Identifier()))

	same, err := s.ProcessedFileFor(ctx, original, "Image.Preview", map[string]string{"width": "64"})
	require.NoError(t, err)
	assert.Equal(t, p.Identifier(), same.Identifier())

	require.NoError(t, s.UpdateProcessedFile(ctx, localFile(t, "thumb.jpg", "thumb"), p))
	assert.True(t, p.Exists())

	r, err := s.OpenProcessedFile(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "thumb", string(data))

	folder, err := s.ProcessingFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.RoleProcessing, folder.Role())

	require.NoError(t, s.DeleteProcessedFile(ctx, p))
	require.NoError(t, s.DeleteProcessedFile(ctx, p))
	assert.True(t, p.IsDeleted())
	exists, err := a.FileExists(ctx, strings.TrimPrefix(p.Identifier(), "/"))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.ProcessedFileFor(ctx, original, "", nil)
	assert.True(t, resourcekit.IsInvalidArgument(err))
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"a.txt": "a", "docs/b.txt": "b"})
	s := newStorage(t, a, 1)

	stats, err := s.Reindex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.IndexStats{Created: 2}, *stats)

	stats, err = s.Reindex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.IndexStats{}, *stats)

	seed(t, a, map[string]string{"a.txt": "changed"})
	require.NoError(t, a.Delete(ctx, "docs/b.txt"))
	stats, err = s.Reindex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.IndexStats{Updated: 1, Missing: 1}, *stats)
}

func TestWatchIndex(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := memory.New()
	idx := resourcekit.NewMemoryIndex()
	s := newStorage(t, a, 1, resourcekit.WithIndex(idx))

	done := make(chan error, 1)
	go func() { done <- s.WatchIndex(ctx, nil, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		_ = a.Write(context.Background(), "new.txt", strings.NewReader("n"), resourcekit.WithOverwrite(true))
		_, err := idx.FindByStorageAndIdentifier(context.Background(), 1, "/new.txt")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestOffline(t *testing.T) {
	registry := resourcekit.NewOfflineRegistry()
	s1 := newStorage(t, memory.New(), 7, resourcekit.WithOfflineRegistry(registry))
	s2 := newStorage(t, memory.New(), 7, resourcekit.WithOfflineRegistry(registry))
	require.True(t, s1.IsOnline())
	require.True(t, s1.IsWritable())

	s1.MarkTemporarilyOffline(time.Now().Add(time.Hour))
	assert.False(t, s1.IsOnline())
	assert.False(t, s2.IsOnline(), "offline state is shared through the registry")
	assert.False(t, s2.IsWritable())
	assert.False(t, s2.IsBrowsable())

	s3 := newStorage(t, memory.New(), 8, resourcekit.WithOfflineRegistry(registry))
	s3.MarkTemporarilyOffline(time.Now().Add(-time.Second))
	assert.True(t, s3.IsOnline(), "expired offline marks are ignored")
}

func TestReadOnlyBackend(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	seed(t, a, map[string]string{"docs/a.txt": "a"})

	var attempts []string
	ro := resourcekit.NewReadOnly(a, resourcekit.WithWriteAttemptHandler(func(_ context.Context, op, p string) {
		attempts = append(attempts, op+" "+p)
	}))
	_, hasLocal := ro.(resourcekit.CanLocalPath)
	assert.False(t, hasLocal)

	err := ro.Write(ctx, "docs/b.txt", strings.NewReader("b"))
	assert.True(t, resourcekit.IsPermission(err), "got %v", err)
	assert.True(t, resourcekit.IsPermission(ro.DeleteDir(ctx, "docs")))
	assert.Equal(t, []string{"write docs/b.txt", "deletedir docs"}, attempts)

	sum, err := ro.(resourcekit.CanChecksum).Checksum(ctx, "docs/a.txt", resourcekit.ChecksumSHA1)
	require.NoError(t, err)
	assert.Equal(t, resourcekit.HashString("a", resourcekit.ChecksumSHA1), sum)

	s, err := resourcekit.NewStorage(ctx, resourcekit.NewBackendDriver(ro), storageRecord(1),
		resourcekit.WithSubject(mountedAt(1, resourcekit.MountDefinition{Identifier: "/"})))
	require.NoError(t, err)
	assert.False(t, s.IsWritable())

	f, err := s.GetFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	data, err := s.GetFileContents(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	_, err = s.SetFileContents(ctx, f, []byte("changed"))
	assert.True(t, resourcekit.IsPermission(err), "got %v", err)
	assert.Len(t, attempts, 2, "the storage refuses before the backend is asked")
	assert.Equal(t, "a", readBackend(t, a, "docs/a.txt"))

	err = s.WithoutPermissionEvaluation(func() error {
		_, err := s.SetFileContents(ctx, f, []byte("changed"))
		return err
	})
	assert.True(t, resourcekit.IsPermission(err), "got %v", err)
	assert.Equal(t, []string{"write docs/a.txt"}, attempts[2:])
}
