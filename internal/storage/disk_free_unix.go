//go:build !windows

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// DiskUsage returns total and available bytes on the filesystem holding path.
// Both are zero when path is not an existing directory.
func DiskUsage(path string) (total, free int64) {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0, 0
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0
	}

	return int64(fs.Blocks) * int64(fs.Bsize), int64(fs.Bavail) * int64(fs.Bsize)
}
