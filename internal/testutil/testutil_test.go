package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
	assert.True(t, FileExists(filepath.Join(root, "cmd", "detmap")))
}

func TestGetFixturesDir(t *testing.T) {
	dir := GetFixturesDir(t)
	assert.Equal(t, "fixtures", filepath.Base(dir))
	assert.True(t, FileExists(filepath.Join(dir, "perfect_match.json")))
}

func TestFindModuleRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, EnsureDir(nested))

	found, err := FindModuleRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	_, err = FindModuleRoot(filepath.Join(string(filepath.Separator), "no", "such", "module", "dir"))
	assert.Error(t, err)
}

func TestValidateProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example\n"), 0o600))

	err := ValidateProjectRoot(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join("cmd", "detmap"))

	for _, rel := range []string{"cmd/detmap", "internal/evaluation", "testdata/fixtures"} {
		require.NoError(t, EnsureDir(filepath.Join(root, filepath.FromSlash(rel))))
	}
	assert.NoError(t, ValidateProjectRoot(root))
}

func TestFileExists(t *testing.T) {
	assert.False(t, FileExists("/non/existent/file"))

	dir := t.TempDir()
	assert.True(t, FileExists(dir))

	path := filepath.Join(dir, "f.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	assert.True(t, FileExists(path))
}
