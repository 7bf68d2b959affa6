package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskMonitorUsage(t *testing.T) {
	dataDir := t.TempDir()
	archDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "a"), make([]byte, 4096), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(archDir, "b"), make([]byte, 8192), 0o644))

	dm := NewDiskMonitor(dataDir, archDir)
	data, arch, err := dm.Usage()
	require.NoError(t, err)
	assert.Greater(t, data, int64(0))
	assert.Greater(t, arch, int64(0))
}

func TestDiskMonitorCaching(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "a"), make([]byte, 4096), 0o644))

	dm := NewDiskMonitor(dataDir, "")
	first, _, err := dm.Usage()
	require.NoError(t, err)

	// growth inside the cache window is not observed
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "b"), make([]byte, 1<<20), 0o644))
	second, _, err := dm.Usage()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDiskMonitorMissingDir(t *testing.T) {
	dm := NewDiskMonitor(filepath.Join(t.TempDir(), "missing"), "")
	data, arch, err := dm.Usage()
	require.NoError(t, err)
	assert.Zero(t, data)
	assert.Zero(t, arch)
}
