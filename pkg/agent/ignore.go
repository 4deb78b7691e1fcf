package agent

import (
	"path/filepath"
	"strings"
)

// ignoredDirNames are directory basenames skipped entirely — hidden
// directories, VCS metadata, and the most common build-artifact directories
// across the ecosystems a student workspace is likely to contain.
var ignoredDirNames = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// ignoredFileSuffixes are transient or generated file suffixes ignored on
// both directions of sync.
var ignoredFileSuffixes = []string{
	".swp", ".swx", ".tmp", "~", ".pyc", ".o", ".class",
}

// shouldIgnorePath reports whether path (relative to the workspace root)
// must be skipped on both the filesystem-to-CRDT and CRDT-to-filesystem
// directions, per spec.md §4.5's ignore policy.
func shouldIgnorePath(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == "" {
			continue
		}
		// Hidden entries (dotfiles and dotdirs) are categorically ignored,
		// same as any name on the explicit build-artifact/VCS list.
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
		if ignoredDirNames[part] {
			return true
		}
	}

	base := filepath.Base(relPath)
	for _, suffix := range ignoredFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
