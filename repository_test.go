package resourcekit_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/resourcekit"
	_ "github.com/gobeaver/resourcekit/driver/local"
	"github.com/gobeaver/resourcekit/driver/memory"
)

func testConfig(t *testing.T) *resourcekit.Config {
	t.Helper()
	cfg := resourcekit.DefaultConfig()
	cfg.PublicPath = t.TempDir()
	return cfg
}

func memoryRecord(uid int, name string) resourcekit.StorageRecord {
	rec := storageRecord(uid)
	rec.Name = name
	rec.Configuration = map[string]any{"name": name}
	return rec
}

func TestDriverRegistry(t *testing.T) {
	assert.True(t, resourcekit.IsDriverRegistered(memory.DriverType))
	assert.True(t, resourcekit.IsDriverRegistered(resourcekit.LocalDriverType))
	assert.Subset(t, resourcekit.Drivers(), []string{"local", "memory"})

	_, err := resourcekit.NewDriver("nope", resourcekit.DriverConfig{})
	assert.True(t, resourcekit.IsNotSupported(err), "got %v", err)

	_, err = resourcekit.NewDriver(memory.DriverType, resourcekit.DriverConfig{
		Options: map[string]any{"maxSize": "not a number"},
	})
	assert.True(t, resourcekit.IsInvalidArgument(err), "got %v", err)
}

func TestRepositoryProvisionsDefaultStorage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := resourcekit.NewMemoryRecordStore()
	repo, err := resourcekit.NewRepository(store, resourcekit.WithConfig(cfg))
	require.NoError(t, err)

	def, err := repo.DefaultStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, def.UID())
	assert.Equal(t, "fileadmin/ (auto-created)", def.Name())
	assert.True(t, def.IsWritable())
	assert.DirExists(t, filepath.Join(cfg.PublicPath, "fileadmin"))

	recs, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "the record is persisted")
	assert.Equal(t, resourcekit.LocalDriverType, recs[0].Driver)

	again, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, def, again)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.PublicPath, "fileadmin", "a.txt"), []byte("hello"), 0o644))
	f, err := repo.GetFileByCombinedIdentifier(ctx, "1:/a.txt")
	require.NoError(t, err)
	data, err := f.Contents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	url, err := def.PublicURL(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, "/fileadmin/a.txt", url)
}

func TestRepositoryFallbackStorage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	repo, err := resourcekit.NewRepository(nil, resourcekit.WithConfig(cfg))
	require.NoError(t, err)

	fallback, err := repo.FindByUID(ctx, resourcekit.FallbackStorageUID)
	require.NoError(t, err)
	assert.True(t, fallback.IsFallback())
	assert.False(t, fallback.IsDefault())

	fallback.MarkOffline()
	assert.True(t, fallback.IsOnline(), "the fallback storage cannot go offline")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.PublicPath, "typo3temp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PublicPath, "typo3temp", "x.css"), []byte("body{}"), 0o644))

	s, id, err := repo.ResolveCombinedIdentifier(ctx, "/typo3temp/x.css")
	require.NoError(t, err)
	assert.Same(t, fallback, s)
	assert.Equal(t, "/typo3temp/x.css", id)

	f, err := repo.GetFileByCombinedIdentifier(ctx, "0:/typo3temp/x.css")
	require.NoError(t, err)
	assert.Equal(t, "0:/typo3temp/x.css", f.CombinedIdentifier())

	_, _, err = repo.ResolveCombinedIdentifier(ctx, "abc:/x")
	assert.True(t, resourcekit.IsInvalidArgument(err))
	_, err = repo.FindByUID(ctx, 42)
	assert.True(t, resourcekit.IsNotExist(err))
}

func TestRepositorySkipsUnknownDrivers(t *testing.T) {
	ctx := context.Background()
	unknown := storageRecord(2)
	unknown.Driver = "ftp-legacy"
	store := resourcekit.NewMemoryRecordStore(memoryRecord(1, t.Name()), unknown)
	repo, err := resourcekit.NewRepository(store, resourcekit.WithConfig(testConfig(t)))
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].UID())

	_, err = repo.FindByUID(ctx, 2)
	assert.True(t, resourcekit.IsNotSupported(err), "got %v", err)

	byDriver, err := repo.FindByDriver(ctx, memory.DriverType)
	require.NoError(t, err)
	require.Len(t, byDriver, 1)

	none, err := repo.FindByDriver(ctx, resourcekit.LocalDriverType)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.DefaultStorage(ctx)
	assert.True(t, resourcekit.IsNotExist(err))
}

func TestRepositoryDriverNameCase(t *testing.T) {
	ctx := context.Background()
	assert.True(t, resourcekit.IsDriverRegistered("MEMORY"))
	assert.True(t, resourcekit.IsDriverRegistered(" Memory "))

	rec := memoryRecord(1, t.Name())
	rec.Driver = "Memory"
	repo, err := resourcekit.NewRepository(resourcekit.NewMemoryRecordStore(rec), resourcekit.WithConfig(testConfig(t)))
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	s, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, all[0], s)
}

func TestRepositoryPassesConfigToDrivers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.UTF8FileSystem = false
	repo, err := resourcekit.NewRepository(resourcekit.NewMemoryRecordStore(memoryRecord(1, t.Name())), resourcekit.WithConfig(cfg))
	require.NoError(t, err)
	s, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)

	name, err := s.SanitizeFileName(ctx, "Ärger.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "Arger.pdf", name)

	utf8, err := resourcekit.NewRepository(resourcekit.NewMemoryRecordStore(memoryRecord(1, t.Name()+"-utf8")), resourcekit.WithConfig(testConfig(t)))
	require.NoError(t, err)
	s, err = utf8.FindByUID(ctx, 1)
	require.NoError(t, err)
	name, err = s.SanitizeFileName(ctx, "Ärger.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ärger.pdf", name)
}

func TestRepositoryLocalPaths(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	absolute := t.TempDir()
	repo, err := resourcekit.NewRepository(nil, resourcekit.WithConfig(cfg))
	require.NoError(t, err)

	_, err = repo.DefaultStorage(ctx)
	require.NoError(t, err)
	nested, err := repo.CreateLocalStorage(ctx, "user uploads", "fileadmin/user_upload", "", "", false)
	require.NoError(t, err)
	external, err := repo.CreateLocalStorage(ctx, "external", absolute, "absolute", "", false)
	require.NoError(t, err)

	_, err = repo.CreateLocalStorage(ctx, "bad", "x", "sideways", "", false)
	assert.True(t, resourcekit.IsInvalidArgument(err))
	_, err = repo.CreateLocalStorage(ctx, "bad", "", "", "", false)
	assert.True(t, resourcekit.IsInvalidArgument(err))

	tests := []struct {
		name    string
		path    string
		wantUID int
		wantID  string
	}{
		{name: "relative form", path: "/fileadmin/docs/a.pdf", wantUID: 1, wantID: "/docs/a.pdf"},
		{name: "absolute form", path: filepath.Join(cfg.PublicPath, "fileadmin", "b.txt"), wantUID: 1, wantID: "/b.txt"},
		{name: "longest prefix", path: "/fileadmin/user_upload/c.jpg", wantUID: nested, wantID: "/c.jpg"},
		{name: "absolute storage", path: filepath.Join(absolute, "d.txt"), wantUID: external, wantID: "/d.txt"},
		{name: "fallback", path: "/typo3conf/ext/e.txt", wantUID: resourcekit.FallbackStorageUID, wantID: "/typo3conf/ext/e.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, id, err := repo.FindBestMatchingStorageByLocalPath(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUID, s.UID())
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRepositoryForeignProcessingFolder(t *testing.T) {
	ctx := context.Background()
	originals := memoryRecord(1, t.Name()+"-originals")
	originals.ProcessingFolder = "2:/processed/"
	store := resourcekit.NewMemoryRecordStore(originals, memoryRecord(2, t.Name()+"-processed"))
	repo, err := resourcekit.NewRepository(store, resourcekit.WithConfig(testConfig(t)))
	require.NoError(t, err)

	seed(t, memory.Shared(t.Name()+"-originals"), map[string]string{"photo.jpg": "jpeg"})

	s1, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)
	s2, err := repo.FindByUID(ctx, 2)
	require.NoError(t, err)

	original, err := s1.GetFile(ctx, "/photo.jpg")
	require.NoError(t, err)
	p, err := s1.ProcessedFileFor(ctx, original, "Image.CropScaleMask", map[string]string{"width": "100"})
	require.NoError(t, err)
	assert.Same(t, s2, p.Storage())
	assert.True(t, strings.HasPrefix(p.Identifier(), "/processed/"), p.Identifier())
	assert.True(t, s2.IsWithinProcessingFolder(p.Identifier()))

	require.NoError(t, s1.UpdateProcessedFile(ctx, localFile(t, "out.jpg", "scaled"), p))
	r, err := s1.OpenProcessedFile(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "scaled", string(data))

	exists, err := memory.Shared(t.Name()+"-processed").FileExists(ctx, strings.TrimPrefix(p.Identifier(), "/"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepositorySharesIndex(t *testing.T) {
	ctx := context.Background()
	store := resourcekit.NewMemoryRecordStore(memoryRecord(1, t.Name()+"-a"), memoryRecord(2, t.Name()+"-b"))
	repo, err := resourcekit.NewRepository(store, resourcekit.WithConfig(testConfig(t)))
	require.NoError(t, err)
	seed(t, memory.Shared(t.Name()+"-a"), map[string]string{"x.txt": "x"})

	s1, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)
	s2, err := repo.FindByUID(ctx, 2)
	require.NoError(t, err)

	f, err := s1.GetFile(ctx, "/x.txt")
	require.NoError(t, err)
	root, err := s2.GetRootLevelFolder(ctx, false)
	require.NoError(t, err)
	moved, err := s2.MoveFile(ctx, f, root, "", resourcekit.ConflictCancel)
	require.NoError(t, err)

	rec, err := repo.Index().FindByUID(ctx, moved.IndexUID())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.StorageUID)
	assert.Equal(t, "/x.txt", rec.Identifier)
	assert.Equal(t, f.IndexUID(), moved.IndexUID())

	repo.Flush()
	fresh, err := repo.FindByUID(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, s1, fresh)
}
