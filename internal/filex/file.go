// Package filex contains small filesystem helpers used by the fallback
// spool: directory creation, file listing and atomic renames.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// EnsureDir creates dir (and parents) if absent and returns its absolute
// path. Idempotent.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// ListFiles returns the sorted paths of regular files in dir whose names end
// with ext. A missing directory yields an empty list, not an error.
func ListFiles(dir string, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("readdir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext != "" && filepath.Ext(e.Name()) != ext {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// RenameWithSuffix renames path to path+suffix and returns the new path.
// Used to claim a spool file before draining it.
func RenameWithSuffix(path, suffix string) (string, error) {
	dst := path + suffix
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return dst, nil
}
