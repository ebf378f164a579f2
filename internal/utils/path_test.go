package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ResolvePath("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), resolved)

	_, err = ResolvePath("")
	assert.Error(t, err)
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b/c.txt", NormPath(filepath.Join("a", "b", "c.txt")))
	assert.Equal(t, "a.txt", NormPath("/a.txt"))
}

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()
	nested := filepath.Join(tmp, "x", "y")
	require.NoError(t, EnsureDir(nested))
	assert.DirExists(t, nested)

	// idempotent
	require.NoError(t, EnsureDir(nested))
}

func TestFileExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "f.txt")
	assert.False(t, FileExists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(tmp)) // dirs are not files
}
