//go:build linux

package libcuda

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadLibraryPaths(t *testing.T) {
	dir := t.TempDir()
	confDir := filepath.Join(dir, "ld.so.conf.d")
	require.NoError(t, os.Mkdir(confDir, 0o755))
	writeFile(t, filepath.Join(confDir, "cuda.conf"), "# CUDA\n/usr/local/cuda/lib64\n")
	writeFile(t, filepath.Join(confDir, "zz.conf"), "  /opt/zz/lib  \n\n")
	conf := filepath.Join(dir, "ld.so.conf")
	writeFile(t, conf, "/opt/first\ninclude ld.so.conf.d/*.conf\n   # comment\n\n/opt/last\n")

	paths := loadLibraryPaths([]string{"/already"}, conf)
	require.Equal(t, []string{"/already", "/opt/first", "/usr/local/cuda/lib64", "/opt/zz/lib", "/opt/last"}, paths)

	// Missing files are not an error.
	paths = loadLibraryPaths(nil, filepath.Join(dir, "missing.conf"))
	require.Empty(t, paths)
}

func TestSearchPaths(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "ld.so.conf")
	writeFile(t, conf, "/opt/conf\n/custom/first\n")
	saved := ldSoConf
	ldSoConf = conf
	defer func() { ldSoConf = saved }()

	t.Setenv(LibraryPathEnv, "/custom/first:relative/ignored:/custom/second/")
	t.Setenv("LD_LIBRARY_PATH", "/ld/path::/custom/first")
	paths := SearchPaths()
	require.Equal(t, []string{"/custom/first", "/custom/second", "/ld/path", "/opt/conf"}, paths[:4])
	require.Equal(t, len(standardLibraryPaths), len(paths)-4)
}

func TestChecksEnabled(t *testing.T) {
	for value, want := range map[string]bool{"": true, "1": true, "yes": true, "True": true, "0": false, "no": false} {
		t.Setenv(ChecksEnv, value)
		require.Equalf(t, want, checksEnabled(), "%s=%q", ChecksEnv, value)
	}
}

func TestDeviceInfo(t *testing.T) {
	info := DeviceInfo{
		Ordinal: 0, Name: "Tesla T4", TotalMemory: 16 << 30, ComputeCapability: [2]int{7, 5},
		Multiprocessors: 40, MaxThreadsPerBlock: 1024, WarpSize: 32,
	}
	require.Equal(t, "#0 Tesla T4 (sm_75, 16 GiB, 40 SMs, 1024 threads/block, warp 32)", info.String())
}
