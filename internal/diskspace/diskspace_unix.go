//go:build !windows

package diskspace

import "golang.org/x/sys/unix"

// availableBytes reports blocks available to non-root users times block size.
func availableBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
