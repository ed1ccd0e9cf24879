// Package file holds path helpers for translation inputs and outputs.
package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path for ext. A path without an
// extension gets ext appended; dotfiles keep their name.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, name := filepath.Split(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+ext)
}

// WithSuffix inserts suffix before the extension: ("en.json", "_es") -> "en_es.json".
func WithSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	if ext == filepath.Base(path) {
		ext = ""
	}
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// BackupPath is where the previous version of path is kept before an overwrite.
func BackupPath(path string) string {
	return path + ".bak"
}
