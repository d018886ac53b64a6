package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/board-bound/workspace/internal/project"
)

func TestClean_RemovesCachesOnly(t *testing.T) {
	root := t.TempDir()

	var projects []*project.Project

	for _, dir := range []string{"sdk", "plugin-chess", "plugin-go"} {
		path := filepath.Join(root, dir)
		require.NoError(t, os.MkdirAll(filepath.Join(path, "src"), 0o755))
		projects = append(projects, &project.Project{Dir: dir, Path: path})
	}

	for _, dir := range []string{"sdk", "plugin-go"} {
		cache := filepath.Join(root, dir, ".parcel-cache", "data")
		require.NoError(t, os.MkdirAll(cache, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cache, "lock.mdb"), []byte("x"), 0o644))
	}

	cleaned, err := Clean(projects, []string{".parcel-cache"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sdk", "plugin-go"}, cleaned)

	for _, p := range projects {
		assert.NoDirExists(t, filepath.Join(p.Path, ".parcel-cache"))
		assert.DirExists(t, filepath.Join(p.Path, "src"), "sources stay")
	}
}

func TestClean_NothingToDo(t *testing.T) {
	p := &project.Project{Dir: "sdk", Path: t.TempDir()}

	cleaned, err := Clean([]*project.Project{p}, []string{".parcel-cache"}, nil)
	require.NoError(t, err)
	assert.Empty(t, cleaned)
}
