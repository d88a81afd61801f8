//go:build unix

package fs

import (
	"fmt"
	"io/fs"
	"syscall"
)

// stableID returns "device:inode", which survives renames within one filesystem.
func stableID(info fs.FileInfo) string {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d:%d", uint64(stat.Dev), uint64(stat.Ino))
}
