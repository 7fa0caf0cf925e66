package resourcekit_test

import (
	"os"
	"path/filepath"
)

// exampleLocalFile writes content to a temporary file for examples, which
// have no *testing.T.
func exampleLocalFile(name, content string) (string, func()) {
	dir, err := os.MkdirTemp("", "resourcekit-example-*")
	if err != nil {
		panic(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		panic(err)
	}
	return p, func() { os.RemoveAll(dir) }
}
