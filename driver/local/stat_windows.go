//go:build windows

package local

import (
	"io/fs"
	"os"

	"github.com/gobeaver/resourcekit"
)

// accessOf derives access from the mode bits; Windows has no access(2).
func accessOf(p string) resourcekit.Permissions {
	info, err := os.Stat(p)
	if err != nil {
		return resourcekit.Permissions{}
	}
	return resourcekit.Permissions{Read: true, Write: info.Mode().Perm()&0o200 != 0}
}

// Owner information requires GetSecurityInfo and is not reported.
func ownerOf(fs.FileInfo) string { return "" }
