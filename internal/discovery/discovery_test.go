package discovery

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

func TestDiscoverer_NotFound(t *testing.T) {
	discoverer := NewDiscoverer(&Config{
		HostPath:         "/nonexistent/path/to/workerbridge-host",
		SkipVersionCheck: true,
	})

	_, err := discoverer.Discover(context.Background())

	require.Error(t, err)
	require.IsType(t, &errors.HostNotFoundError{}, err)
	require.Contains(t, err.Error(), "/nonexistent/path/to/workerbridge-host")
}

func TestDiscoverer_ExplicitPath(t *testing.T) {
	fakeHost := filepath.Join(t.TempDir(), HostBinary)

	err := os.WriteFile(fakeHost, []byte("#!/bin/sh\necho workerbridge-host 0.3.1"), 0o755)
	require.NoError(t, err)

	discoverer := NewDiscoverer(&Config{HostPath: fakeHost, SkipVersionCheck: true})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fakeHost, path)
}

func TestDiscoverer_PathLookup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test requires Unix executables")
	}

	dir := t.TempDir()
	fakeHost := filepath.Join(dir, HostBinary)

	err := os.WriteFile(fakeHost, []byte("#!/bin/sh\necho workerbridge-host 0.0.1"), 0o755)
	require.NoError(t, err)

	t.Setenv("PATH", dir)

	// Version check runs and only warns for an old host
	path, err := NewDiscoverer(nil).Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fakeHost, path)
}

func TestParseVersion(t *testing.T) {
	v, ok := ParseVersion("workerbridge-host 1.2.3\n")
	require.True(t, ok)
	require.Equal(t, "1.2.3", v)

	_, ok = ParseVersion("dev build")
	require.False(t, ok)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{name: "equal versions", a: "1.0.0", b: "1.0.0", expected: 0},
		{name: "major version less", a: "1.0.0", b: "2.0.0", expected: -1},
		{name: "minor version less", a: "1.0.0", b: "1.1.0", expected: -1},
		{name: "patch version less", a: "1.0.0", b: "1.0.1", expected: -1},
		{name: "minor rollover", a: "1.99.0", b: "2.0.0", expected: -1},
		{name: "major version greater", a: "2.0.0", b: "1.0.0", expected: 1},
		{name: "patch version greater", a: "1.0.1", b: "1.0.0", expected: 1},
		{name: "below minimum", a: "0.0.9", b: MinimumHostVersion, expected: -1},
		{name: "at minimum", a: MinimumHostVersion, b: MinimumHostVersion, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CompareVersions(tt.a, tt.b)
			require.Equal(t, tt.expected, result, "CompareVersions(%q, %q)", tt.a, tt.b)
		})
	}
}
