package zip

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/resourcekit"
)

// createTestZip writes files into a new archive. Parent directories are
// left implicit.
func createTestZip(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.Copy(fw, strings.NewReader(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestOpenIndexesImplicitDirectories(t *testing.T) {
	ctx := context.Background()
	a, err := Open(createTestZip(t, map[string]string{
		"a.txt":          "a",
		"docs/deep/b.md": "# b",
	}))
	require.NoError(t, err)
	defer a.Close()

	ok, err := a.DirExists(ctx, "docs/deep")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := a.ListContents(ctx, "", false)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"a.txt", "docs"}, paths)

	entries, err = a.ListContents(ctx, "docs", true)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	a, err := Open(createTestZip(t, map[string]string{"a.txt": "hello"}))
	require.NoError(t, err)
	defer a.Close()

	r, err := a.Read(ctx, "/a.txt")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = a.Read(ctx, "missing.txt")
	assert.True(t, resourcekit.IsNotExist(err))

	e, err := a.Stat(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.Size)
}

func TestWritesAreRejected(t *testing.T) {
	ctx := context.Background()
	a, err := Open(createTestZip(t, map[string]string{"a.txt": "hello"}))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, resourcekit.IsNotSupported(a.Write(ctx, "b.txt", strings.NewReader("x"))))
	assert.True(t, resourcekit.IsNotSupported(a.Delete(ctx, "a.txt")))
	assert.True(t, resourcekit.IsNotSupported(a.CreateDir(ctx, "d")))
	assert.True(t, resourcekit.IsNotSupported(a.DeleteDir(ctx, "d")))
}

func TestChecksum(t *testing.T) {
	ctx := context.Background()
	a, err := Open(createTestZip(t, map[string]string{"a.txt": "hello"}))
	require.NoError(t, err)
	defer a.Close()

	fromDirectory, err := a.Checksum(ctx, "a.txt", resourcekit.ChecksumCRC32)
	require.NoError(t, err)
	computed, err := resourcekit.CalculateChecksum(strings.NewReader("hello"), resourcekit.ChecksumCRC32)
	require.NoError(t, err)
	assert.Equal(t, computed, fromDirectory)
}

func TestDriverIsNotWritable(t *testing.T) {
	archive := createTestZip(t, map[string]string{"a.txt": "hello"})
	d, err := NewDriver(resourcekit.DriverConfig{Options: map[string]any{"archive": archive}})
	require.NoError(t, err)
	assert.False(t, d.Capabilities().Writable)
	assert.True(t, d.Capabilities().Browsable)

	_, err = NewDriver(resourcekit.DriverConfig{})
	assert.True(t, resourcekit.IsInvalidArgument(err))
}
