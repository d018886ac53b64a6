package devmode

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lithammer/dedent"
)

// GuardMarker identifies a pre-commit hook written by bbdev.
const GuardMarker = "# bbdev: dev-mode commit guard"

// backupSuffix is appended to a foreign pre-commit hook displaced by the
// guard.
const backupSuffix = ".bbdev-backup"

// GuardScript is the pre-commit hook installed while dev mode is enabled.
var GuardScript = strings.TrimLeft(dedent.Dedent(`
	#!/bin/sh
	`+GuardMarker+`
	echo "bbdev: dev mode is enabled." >&2
	echo "package.json and tsconfig.json point at local sibling sources and must not be committed." >&2
	echo "Run 'bbdev dev disable' and commit again." >&2
	exit 1
`), "\n")

// HookPath returns the pre-commit hook of the repository in dir.
func HookPath(dir string) string {
	return filepath.Join(dir, ".git", "hooks", "pre-commit")
}

// IsGuard reports whether data is a hook written by bbdev.
func IsGuard(data []byte) bool {
	return bytes.Contains(data, []byte(GuardMarker))
}

// hasRepository reports whether dir is the top of a git work tree.
func hasRepository(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// readOptional returns the content of path or nil when it does not exist.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	return data, err
}

// installGuard returns the changes that put the guard in place at path.
// A foreign hook is moved aside and restored by removeGuard.
func installGuard(path string) ([]Change, error) {
	current, err := readOptional(path)
	if err != nil {
		return nil, err
	}

	if current != nil && IsGuard(current) {
		return nil, nil
	}

	var changes []Change

	if current != nil {
		changes = append(changes, Change{
			Path:  path + backupSuffix,
			After: current,
			Mode:  fileMode(path, 0o755),
		})
	}

	return append(changes, Change{
		Path:   path,
		Before: current,
		After:  []byte(GuardScript),
		Mode:   0o755,
	}), nil
}

// removeGuard returns the changes that take the guard at path away and
// bring back a displaced foreign hook. Foreign hooks are left alone.
func removeGuard(path string) ([]Change, error) {
	current, err := readOptional(path)
	if err != nil || current == nil || !IsGuard(current) {
		return nil, err
	}

	backup, err := readOptional(path + backupSuffix)
	if err != nil {
		return nil, err
	}

	if backup == nil {
		return []Change{{Path: path, Before: current}}, nil
	}

	return []Change{
		{Path: path, Before: current, After: backup, Mode: fileMode(path+backupSuffix, 0o755)},
		{Path: path + backupSuffix, Before: backup},
	}, nil
}
