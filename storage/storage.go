package storage

import (
	"os"
	"path/filepath"
)

// EnsurePath creates the directory structure if it doesn't exist
func EnsurePath(basePath string, subDirs ...string) (string, error) {
	fullPath := filepath.Join(append([]string{basePath}, subDirs...)...)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return "", err
	}
	return fullPath, nil
}

// RemoveFiles deletes every path, ignoring files that are already gone.
// It returns the paths that could not be removed.
func RemoveFiles(paths []string) []string {
	var failed []string
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			failed = append(failed, p)
		}
	}
	return failed
}
