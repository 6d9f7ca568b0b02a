package localfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileEntry represents a file or directory in the local filesystem.
type FileEntry struct {
	Path    string      // Full path to the file
	Name    string      // Base name of the file
	Size    int64       // Size in bytes (0 for directories)
	IsDir   bool        // True if this is a directory
	ModTime time.Time   // Last modification time
	Mode    fs.FileMode // File mode/permissions
}

// WalkFunc is the callback signature for Walk.
// Return filepath.SkipDir to skip a directory, or any other error to stop walking.
type WalkFunc func(entry FileEntry) error

// Walk traverses a directory tree depth-first, calling fn for each file and
// directory. Unreadable entries are skipped.
func Walk(root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		name := d.Name()
		if path != root {
			if d.IsDir() && !opts.Recursive {
				return filepath.SkipDir
			}
			if !opts.IncludeHidden && IsHiddenName(name) {
				if d.IsDir() && opts.SkipHiddenDirs {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		return fn(FileEntry{
			Path:    path,
			Name:    name,
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		})
	})
}

// WalkFiles is Walk restricted to regular files.
func WalkFiles(root string, opts WalkOptions, fn WalkFunc) error {
	return Walk(root, opts, func(entry FileEntry) error {
		if entry.IsDir || !entry.Mode.IsRegular() {
			return nil
		}
		return fn(entry)
	})
}

// Source is one file to upload.
type Source struct {
	Path    string // Local path
	RelPath string // Slash-separated blob name relative to the destination prefix
	Size    int64
}

// CollectSources expands file and directory arguments into upload sources.
// A file argument uploads under its base name; files under a directory
// argument keep their path relative to that directory. Sources are sorted
// by RelPath and must have unique names.
func CollectSources(paths []string, opts WalkOptions) ([]Source, error) {
	var sources []Source
	seen := make(map[string]string)

	add := func(src Source) error {
		if prev, dup := seen[src.RelPath]; dup {
			return fmt.Errorf("%s and %s both map to %q", prev, src.Path, src.RelPath)
		}
		seen[src.RelPath] = src.Path
		sources = append(sources, src)
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("%s is not a regular file", p)
			}
			if err := add(Source{Path: p, RelPath: filepath.Base(p), Size: info.Size()}); err != nil {
				return nil, err
			}
			continue
		}

		err = WalkFiles(p, opts, func(entry FileEntry) error {
			if IsTransferArtifact(entry.Name) {
				return nil
			}
			rel, err := filepath.Rel(p, entry.Path)
			if err != nil {
				return err
			}
			return add(Source{Path: entry.Path, RelPath: filepath.ToSlash(rel), Size: entry.Size})
		})
		if err != nil {
			return nil, err
		}
	}

	if len(sources) == 0 {
		return nil, errors.New("no files to upload")
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].RelPath < sources[j].RelPath })
	return sources, nil
}
