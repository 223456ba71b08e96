// Package fileutil provides filesystem helpers for the exercise root shared
// by the configuration and the file watcher. It has no HTTP dependencies.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrForbiddenPath is returned when a path lies outside the exercise root.
var ErrForbiddenPath = errors.New("forbidden path")

// ErrNotDirectory is returned when the exercise root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// ResolveRoot returns dir as an absolute path with symlinks evaluated. The
// directory must exist.
func ResolveRoot(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("empty path: %w", ErrNotDirectory)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", resolved, ErrNotDirectory)
	}
	return resolved, nil
}

// RelWithin returns path relative to root as a slash-separated path.
// It rejects paths that are not inside root; root itself yields ".".
// Both arguments must be absolute.
func RelWithin(root, path string) (string, error) {
	if !filepath.IsAbs(root) || !filepath.IsAbs(path) {
		return "", ErrForbiddenPath
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return "", ErrForbiddenPath
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrForbiddenPath
	}
	return filepath.ToSlash(rel), nil
}
