// Package version provides build-time metadata for the bbdev binary and
// the versions of the repositories it manages.
// Version, GitCommit, and BuildDate are injected at compile time via -ldflags.
package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/board-bound/workspace/internal/project"
)

// Build-time values injected via -ldflags.
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

// Info holds the build metadata for the binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`

	// Repositories is filled only when the workspace was scanned.
	Repositories []Repository `json:"repositories,omitempty"`
}

// Repository is one project of the workspace as found on disk.
type Repository struct {
	Dir     string `json:"dir"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	// Head is the checked-out branch, or the short commit of a detached
	// head. Empty when the project is not its own repository.
	Head string `json:"head,omitempty"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return Info{
		Version:   version,
		GitCommit: shortCommit(gitCommit),
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Repositories describes every project in projects.
func Repositories(projects []*project.Project) []Repository {
	repos := make([]Repository, 0, len(projects))

	for _, p := range projects {
		repos = append(repos, Repository{
			Dir:     p.Dir,
			Name:    p.Descriptor.Name,
			Version: p.Descriptor.Version,
			Head:    readHead(p.Path),
		})
	}

	return repos
}

// readHead resolves the HEAD of the repository in dir without running git.
func readHead(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	if err != nil {
		return ""
	}

	head := string(bytes.TrimSpace(data))
	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/")
	}

	return shortCommit(head)
}

// String returns a human-readable version string: one line for the binary,
// followed by one line per scanned repository.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "bbdev %s (commit: %s, built: %s, %s %s)",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)

	width := 0
	for _, r := range i.Repositories {
		width = max(width, len(r.Dir))
	}

	for _, r := range i.Repositories {
		v := r.Version
		if v == "" {
			v = "-"
		}

		fmt.Fprintf(&b, "\n  %-*s %s %s", width, r.Dir, r.Name, v)

		if r.Head != "" {
			fmt.Fprintf(&b, " (%s)", r.Head)
		}
	}

	return b.String()
}

// JSON returns the version info as indented JSON.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling version info: %w", err)
	}

	return string(data), nil
}

// shortCommit truncates a commit SHA to 7 characters.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}

	return commit
}
