package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Expand expands a leading ~ and environment variables in path and returns
// it absolute. Empty paths are returned unchanged.
func Expand(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}

	return filepath.Abs(os.ExpandEnv(path))
}

// NormalizeForLookup returns an absolute, symlink-resolved path suitable for
// comparisons. On case-insensitive systems the result is lowercased.
func NormalizeForLookup(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	canonicalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Not created yet.
		canonicalPath = absPath
	}

	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(canonicalPath), nil
	}
	return canonicalPath, nil
}

// SamePath reports whether both paths refer to the same location.
func SamePath(a, b string) (bool, error) {
	normA, err := NormalizeForLookup(a)
	if err != nil {
		return false, err
	}
	normB, err := NormalizeForLookup(b)
	if err != nil {
		return false, err
	}
	return normA == normB, nil
}
