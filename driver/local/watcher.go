package local

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/gobeaver/resourcekit"
)

// Watch implements resourcekit.CanWatch. The returned token fires once on
// the first create, write, remove or rename of an entry matching pattern
// and the watcher is released afterwards or when ctx is done. Patterns
// containing "**" watch every directory below the static prefix.
func (a *Adapter) Watch(ctx context.Context, pattern string) (resourcekit.ChangeToken, error) {
	if pattern == "" {
		pattern = "**"
	}
	matcher, err := glob.Compile(strings.TrimPrefix(pattern, "/"), '/')
	if err != nil {
		return nil, &resourcekit.PathError{Op: "watch", Path: pattern, Err: resourcekit.ErrInvalidArgument}
	}

	watchPath := a.root
	if idx := strings.IndexAny(pattern, "*?[{"); idx > 0 {
		if slash := strings.LastIndex(pattern[:idx], "/"); slash > 0 {
			watchPath = filepath.Join(a.root, filepath.FromSlash(pattern[:slash]))
		}
	} else if idx < 0 {
		watchPath = filepath.Join(a.root, filepath.FromSlash(filepath.Dir(pattern)))
	}
	if !isPathUnderRoot(a.root, watchPath) {
		return nil, &resourcekit.PathError{Op: "watch", Path: pattern, Err: resourcekit.ErrPermission}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &resourcekit.PathError{Op: "watch", Path: pattern, Err: err}
	}
	if err := w.Add(watchPath); err != nil {
		w.Close()
		return nil, pathError("watch", pattern, err)
	}
	if strings.Contains(pattern, "**") {
		_ = filepath.WalkDir(watchPath, func(p string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() && p != watchPath {
				_ = w.Add(p)
			}
			return nil
		})
	}

	token := resourcekit.NewCallbackChangeToken()
	log := clog.FromContext(ctx)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				rel, err := filepath.Rel(a.root, event.Name)
				if err != nil {
					continue
				}
				rel = filepath.ToSlash(rel)
				if matcher.Match(rel) || matcher.Match(filepath.Base(rel)) {
					token.SignalChange()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("watching %s: %v", watchPath, err)
			}
		}
	}()
	return token, nil
}
