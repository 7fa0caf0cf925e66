//go:build unix

package local

import (
	"io/fs"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gobeaver/resourcekit"
)

// accessOf asks the kernel which access the current process has on p.
func accessOf(p string) resourcekit.Permissions {
	return resourcekit.Permissions{
		Read:  unix.Access(p, unix.R_OK) == nil,
		Write: unix.Access(p, unix.W_OK) == nil,
	}
}

// ownerOf returns the numeric owner uid of an entry.
func ownerOf(info fs.FileInfo) string {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	return strconv.FormatUint(uint64(stat.Uid), 10)
}
