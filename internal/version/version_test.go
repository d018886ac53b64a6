package version

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/board-bound/workspace/internal/project"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "none", info.GitCommit)
	assert.Equal(t, "unknown", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestInfoString(t *testing.T) {
	info := GetInfo()
	s := info.String()

	assert.Contains(t, s, "bbdev")
	assert.Contains(t, s, info.Version)
	assert.Contains(t, s, info.GoVersion)
	assert.Contains(t, s, info.Platform)
}

func TestInfoJSON(t *testing.T) {
	info := GetInfo()

	jsonStr, err := info.JSON()
	require.NoError(t, err)

	var parsed Info
	require.NoError(t, json.Unmarshal([]byte(jsonStr), &parsed))

	assert.Equal(t, info.Version, parsed.Version)
	assert.Equal(t, info.GitCommit, parsed.GitCommit)
	assert.Equal(t, info.BuildDate, parsed.BuildDate)
	assert.Equal(t, info.GoVersion, parsed.GoVersion)
	assert.Equal(t, info.Platform, parsed.Platform)
}

func TestRepositories(t *testing.T) {
	root := t.TempDir()

	sdk := filepath.Join(root, "sdk")
	require.NoError(t, os.MkdirAll(filepath.Join(sdk, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sdk, ".git", "HEAD"), []byte("ref: refs/heads/feature/dice\n"), 0o644))

	chess := filepath.Join(root, "plugin-chess")
	require.NoError(t, os.MkdirAll(filepath.Join(chess, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chess, ".git", "HEAD"), []byte("3f2a9c1d0e8b7a6f\n"), 0o644))

	repos := Repositories([]*project.Project{
		{Dir: "sdk", Path: sdk, Descriptor: &project.Descriptor{Name: "@board-bound/sdk", Version: "2.1.0"}},
		{Dir: "plugin-chess", Path: chess, Descriptor: &project.Descriptor{Name: "plugin-chess"}},
		{Dir: "plugin-go", Path: filepath.Join(root, "plugin-go"), Descriptor: &project.Descriptor{Name: "plugin-go", Version: "0.1.0"}},
	})

	assert.Equal(t, []Repository{
		{Dir: "sdk", Name: "@board-bound/sdk", Version: "2.1.0", Head: "feature/dice"},
		{Dir: "plugin-chess", Name: "plugin-chess", Head: "3f2a9c1"},
		{Dir: "plugin-go", Name: "plugin-go", Version: "0.1.0"},
	}, repos)

	info := GetInfo()
	info.Repositories = repos

	lines := strings.Split(info.String(), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "  sdk          @board-bound/sdk 2.1.0 (feature/dice)", lines[1])
	assert.Equal(t, "  plugin-chess plugin-chess - (3f2a9c1)", lines[2])
	assert.Equal(t, "  plugin-go    plugin-go 0.1.0", lines[3])
}

func TestInfoJSON_OmitsRepositoriesUnlessScanned(t *testing.T) {
	jsonStr, err := GetInfo().JSON()
	require.NoError(t, err)
	assert.NotContains(t, jsonStr, "repositories")
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"long SHA truncated", "abc1234def5678", "abc1234"},
		{"exact 7 unchanged", "abc1234", "abc1234"},
		{"short unchanged", "abc", "abc"},
		{"empty unchanged", "", ""},
		{"none unchanged", "none", "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shortCommit(tt.input))
		})
	}
}
