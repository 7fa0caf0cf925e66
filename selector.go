package resourcekit

import (
	"strings"

	"github.com/gobwas/glob"
)

// NameFilter decides whether a listed entry is returned. It receives the
// entry's name, its identifier and whether it is a folder.
//
// Filters compose with AllOf and AnyOf:
//
//	files, err := storage.FilesInFolder(ctx, folder, false,
//	    resourcekit.AllOf(resourcekit.HideHidden(), resourcekit.GlobFilter("*.jpg")))
type NameFilter interface {
	Match(name, identifier string, isFolder bool) bool
}

// FilterFunc adapts a function to NameFilter.
type FilterFunc func(name, identifier string, isFolder bool) bool

func (f FilterFunc) Match(name, identifier string, isFolder bool) bool {
	return f(name, identifier, isFolder)
}

// HideHidden drops entries whose name starts with a dot. Storages apply it
// to every listing unless WithListHidden is set.
func HideHidden() NameFilter {
	return FilterFunc(func(name, _ string, _ bool) bool {
		return !strings.HasPrefix(name, ".")
	})
}

type globFilter struct {
	g glob.Glob
}

// GlobFilter keeps files whose name matches pattern. Folders always pass so
// recursive listings are not cut short.
func GlobFilter(pattern string) NameFilter {
	g, err := glob.Compile(pattern)
	if err != nil {
		return FilterFunc(func(string, string, bool) bool { return false })
	}
	return &globFilter{g: g}
}

func (f *globFilter) Match(name, _ string, isFolder bool) bool {
	return isFolder || f.g.Match(name)
}

// AllOf passes entries accepted by every filter.
func AllOf(filters ...NameFilter) NameFilter {
	return FilterFunc(func(name, id string, isFolder bool) bool {
		for _, f := range filters {
			if !f.Match(name, id, isFolder) {
				return false
			}
		}
		return true
	})
}

// AnyOf passes entries accepted by at least one filter.
func AnyOf(filters ...NameFilter) NameFilter {
	return FilterFunc(func(name, id string, isFolder bool) bool {
		for _, f := range filters {
			if f.Match(name, id, isFolder) {
				return true
			}
		}
		return false
	})
}

func matchAll(filters []NameFilter, name, id string, isFolder bool) bool {
	for _, f := range filters {
		if f != nil && !f.Match(name, id, isFolder) {
			return false
		}
	}
	return true
}
