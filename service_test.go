package resourcekit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/resourcekit"
	"github.com/gobeaver/resourcekit/driver/memory"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	store := resourcekit.NewMemoryRecordStore(memoryRecord(1, t.Name()))
	seed(t, memory.Shared(t.Name()), map[string]string{"team/a.txt": "a", "private/b.txt": "b"})

	svc, err := resourcekit.NewService(testConfig(t), store)
	require.NoError(t, err)
	require.NotNil(t, svc.Dispatcher())

	var added []string
	resourcekit.Listen(svc.Dispatcher(), func(_ context.Context, e *resourcekit.AfterFolderAddedEvent) {
		added = append(added, e.Folder.CombinedIdentifier())
	})

	t.Run("without subject", func(t *testing.T) {
		repo, err := svc.Repository(nil)
		require.NoError(t, err)
		s, err := repo.FindByUID(ctx, 1)
		require.NoError(t, err)
		assert.False(t, s.EvaluatePermissions())
		_, err = s.GetFile(ctx, "/private/b.txt")
		require.NoError(t, err)
	})

	t.Run("with subject", func(t *testing.T) {
		repo, err := svc.Repository(mountedAt(1, resourcekit.MountDefinition{Identifier: "/team/"}))
		require.NoError(t, err)
		s, err := repo.FindByUID(ctx, 1)
		require.NoError(t, err)
		assert.True(t, s.EvaluatePermissions())

		_, err = s.GetFolder(ctx, "/private/")
		assert.True(t, resourcekit.IsPermission(err), "got %v", err)

		team, err := s.GetFolder(ctx, "/team/")
		require.NoError(t, err)
		_, err = s.CreateFolder(ctx, "drafts", team)
		require.NoError(t, err)
		assert.Equal(t, []string{"1:/team/drafts/"}, added, "repositories share the service dispatcher")
	})

	t.Run("system repository", func(t *testing.T) {
		sys, err := svc.System()
		require.NoError(t, err)
		again, err := svc.System()
		require.NoError(t, err)
		assert.Same(t, sys, again)

		s, err := sys.FindByUID(ctx, 1)
		require.NoError(t, err)
		assert.False(t, s.EvaluatePermissions())
	})

	t.Run("repositories share the index", func(t *testing.T) {
		r1, err := svc.Repository(nil)
		require.NoError(t, err)
		r2, err := svc.Repository(resourcekit.AdminSubject{})
		require.NoError(t, err)
		assert.Same(t, r1.Index(), r2.Index())
	})
}

func TestNewServiceInvalidConfig(t *testing.T) {
	cfg := resourcekit.DefaultConfig()
	cfg.ProcessingFolderLevels = 20
	_, err := resourcekit.NewService(cfg, nil)
	assert.True(t, resourcekit.IsInvalidArgument(err), "got %v", err)
}

func TestDefaultService(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BEAVER_RESOURCEKIT_PUBLIC_PATH", dir)
	resourcekit.Reset()
	t.Cleanup(resourcekit.Reset)

	svc, err := resourcekit.Default()
	require.NoError(t, err)
	assert.Equal(t, dir, svc.Config().PublicPath)

	again, err := resourcekit.Default()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	resourcekit.Reset()
	cfg := testConfig(t)
	require.NoError(t, resourcekit.Init(cfg))
	svc, err = resourcekit.Default()
	require.NoError(t, err)
	assert.Equal(t, cfg.PublicPath, svc.Config().PublicPath)
}

func TestBuilderPrefix(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_RESOURCEKIT_PUBLIC_PATH", dir)
	t.Setenv("APP_RESOURCEKIT_MAX_UPLOAD_SIZE", "1024")

	svc, err := resourcekit.WithPrefix("APP_").New(nil)
	require.NoError(t, err)
	assert.Equal(t, dir, svc.Config().PublicPath)
	assert.Equal(t, int64(1024), svc.Config().MaxUploadSize)
	assert.Equal(t, "fileadmin", svc.Config().DefaultStorageDir)
}
