package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskMonitor tracks disk usage of the fast and slow tiers, cached so the
// stats endpoint never triggers back-to-back directory walks.
type DiskMonitor struct {
	dataDir       string
	archiveDir    string
	cacheDuration time.Duration

	mu         sync.Mutex
	cachedData int64
	cachedArch int64
	lastCheck  time.Time
}

// NewDiskMonitor creates a disk monitor. archiveDir may be empty when
// rotation is disabled.
func NewDiskMonitor(dataDir, archiveDir string) *DiskMonitor {
	return &DiskMonitor{
		dataDir:       dataDir,
		archiveDir:    archiveDir,
		cacheDuration: 10 * time.Second,
	}
}

// Usage returns fast-tier and slow-tier disk usage in bytes.
func (dm *DiskMonitor) Usage() (data, archive int64, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) < dm.cacheDuration {
		return dm.cachedData, dm.cachedArch, nil
	}

	data, err = dirSize(dm.dataDir)
	if err != nil {
		return 0, 0, err
	}
	if dm.archiveDir != "" {
		archive, err = dirSize(dm.archiveDir)
		if err != nil {
			return 0, 0, err
		}
	}

	dm.cachedData = data
	dm.cachedArch = archive
	dm.lastCheck = time.Now()
	return data, archive, nil
}

// dirSize walks a directory, summing actual disk usage so sparse value-log
// files are not over-counted.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			actual, err := actualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actual
			}
		}
		return nil
	})
	return size, err
}
