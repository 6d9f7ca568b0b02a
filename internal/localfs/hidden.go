// Package localfs walks the local filesystem to collect upload sources.
// Hidden entries and the transfer engine's own artifacts (lock files,
// metadata sidecars, staging directories) are never uploaded.
package localfs

import (
	"path/filepath"
	"strings"
)

// artifactMarkers identify files written by the transfer engine itself.
var artifactMarkers = []string{".blobxfer.lock", ".blobxfer-meta.json", ".blobxfer-staging-", ".blobxfer-commit-"}

// IsHidden returns true if the file or directory at the given path is hidden.
// On Unix systems, this checks if the base name starts with a dot.
// The path can be relative or absolute.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName returns true if the given filename (not path) represents a hidden file.
// Special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

// IsTransferArtifact reports whether name was written by a transfer
// (lock file, metadata sidecar, staging or commit temp).
func IsTransferArtifact(name string) bool {
	for _, marker := range artifactMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
