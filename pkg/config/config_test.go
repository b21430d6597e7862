package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const libraryYAML = `
drives:
  - id: D1
    devname: /dev/IBMtape0
    slot: 256
  - id: D2
    devname: /dev/IBMtape1
    slot: 257
cartridges:
  - id: T00001L6
    slot: 4096
    capacity: 2.5TB
    used: 500GB
    mounted_in: D1
  - id: T00002L6
    slot: 4097
    capacity: 2.5TB
`

func TestLoadLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(libraryYAML), 0644))

	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	require.Len(t, lib.Drives, 2)
	require.Equal(t, "/dev/IBMtape1", lib.Drives[1].DevName)
	require.Equal(t, 257, lib.Drives[1].Slot)
	require.Len(t, lib.Cartridges, 2)
	require.Equal(t, "D1", lib.Cartridges[0].MountedIn)

	total, remaining, err := lib.Cartridges[0].CapacityBytes()
	require.NoError(t, err)
	require.Equal(t, uint64(2_500_000_000_000), total)
	require.Equal(t, uint64(2_000_000_000_000), remaining)

	_, err = LoadLibrary(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestCartridgeDescription_CapacityBytes(t *testing.T) {
	_, _, err := CartridgeDescription{ID: "T1", Capacity: "lots"}.CapacityBytes()
	require.Error(t, err)

	total, remaining, err := CartridgeDescription{ID: "T1", Capacity: "1kB", Used: "5kB"}.CapacityBytes()
	require.NoError(t, err)
	require.Equal(t, uint64(1000), total)
	require.Equal(t, uint64(0), remaining)
}

func TestMapConfig_TypedKeys(t *testing.T) {
	c := NewMapConfig(map[string]string{
		"TAPEHSM_WORKERS":               "12",
		"TAPEHSM_MOUNT_DELAY_MS":        "250",
		"TAPEHSM_PROGRESS_INTERVAL_SEC": "1m30s",
		"TAPEHSM_BAD_DURATION":          "soon",
		"TAPEHSM_VERBOSE":               "true",
	})

	require.Equal(t, 12, c.GetIntKeyWithDefault("TAPEHSM_WORKERS", 8))
	require.Equal(t, 3, c.GetIntKeyWithDefault("TAPEHSM_MAX_POOLS", 3))
	require.Equal(t, 250*time.Millisecond, c.GetDurationKeyWithDefault("TAPEHSM_MOUNT_DELAY_MS", time.Millisecond, 0))
	require.Equal(t, 90*time.Second, c.GetDurationKeyWithDefault("TAPEHSM_PROGRESS_INTERVAL_SEC", time.Second, 10*time.Second))
	require.Equal(t, 10*time.Second, c.GetDurationKeyWithDefault("TAPEHSM_BAD_DURATION", time.Second, 10*time.Second))
	require.True(t, c.GetBoolKeyWithDefault("TAPEHSM_VERBOSE", false))
	require.Equal(t, "localhost:7450", c.GetKeyWithDefault("TAPEHSM_LISTEN", "localhost:7450"))

	c.Set("TAPEHSM_LISTEN", ":9000")
	require.Equal(t, ":9000", c.GetKey("TAPEHSM_LISTEN"))
}

func TestDotenvConfig_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tapehsm.env")
	require.NoError(t, os.WriteFile(path, []byte("TAPEHSM_TEST_CONFIG_KEY=from-file\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("TAPEHSM_TEST_CONFIG_KEY") })

	c := NewDotenvConfig(path)
	require.NoError(t, c.Load())
	require.Equal(t, "from-file", c.GetKey("TAPEHSM_TEST_CONFIG_KEY"))
}
