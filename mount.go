package resourcekit

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MountDefinition is a file mount as supplied by the permission subject.
type MountDefinition struct {
	// Identifier of the mounted folder inside the storage.
	Identifier string `mapstructure:"identifier" validate:"required"`
	Title      string `mapstructure:"title"`
	ReadOnly   bool   `mapstructure:"readOnly"`
	// UserMount marks a personal home folder rather than a group mount.
	UserMount bool `mapstructure:"userMount"`
}

// FileMount restricts a caller to a subtree of a storage. Mounts are
// filters; they own nothing.
type FileMount struct {
	Identifier string
	Title      string
	ReadOnly   bool
	UserMount  bool
	Folder     *Folder
}

// ============================================================================
// Local path resolution
// ============================================================================

// localPathTable maps local base paths to storage uids and resolves a path
// to the storage with the longest matching base path.
type localPathTable struct {
	mu       sync.RWMutex
	prefixes map[string]int
	// sorted prefixes for longest-prefix matching
	sortedPaths []string
}

func newLocalPathTable() *localPathTable {
	return &localPathTable{prefixes: make(map[string]int)}
}

// add registers a base path; the stored form always ends in "/".
func (t *localPathTable) add(basePath string, uid int) {
	p := normalizeLocalPath(basePath)
	if p == "" {
		return
	}
	if p != "/" {
		p += "/"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.prefixes[p]; exists {
		return
	}
	t.prefixes[p] = uid
	t.updateSortedPaths()
}

// resolve returns the uid of the best matching storage and the remainder
// of p as an identifier with a leading "/". ok is false when nothing
// matches.
func (t *localPathTable) resolve(localPath string) (uid int, identifier string, ok bool) {
	p := normalizeLocalPath(localPath)
	if p == "" {
		return 0, "", false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, prefix := range t.sortedPaths {
		if p+"/" == prefix {
			return t.prefixes[prefix], "/", true
		}
		if strings.HasPrefix(p, prefix) {
			return t.prefixes[prefix], p[len(prefix)-1:], true
		}
	}
	return 0, p, false
}

// updateSortedPaths must be called with the lock held.
func (t *localPathTable) updateSortedPaths() {
	paths := make([]string, 0, len(t.prefixes))
	for p := range t.prefixes {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})
	t.sortedPaths = paths
}

// normalizeLocalPath cleans p, converts separators to "/" and ensures a
// leading slash. Trailing slashes are removed except for the root.
func normalizeLocalPath(p string) string {
	if p == "" {
		return ""
	}
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
