//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// actualFileSize returns actual disk usage in bytes on Unix systems, using
// allocated blocks so sparse files report what they really occupy.
func actualFileSize(path string, info os.FileInfo) (int64, error) {
	sys := info.Sys()
	if sys == nil {
		return info.Size(), nil
	}

	stat, ok := sys.(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}

	// blocks are 512 bytes regardless of filesystem block size
	return stat.Blocks * 512, nil
}
