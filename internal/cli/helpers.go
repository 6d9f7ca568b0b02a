package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
)

// expandGlobPatterns expands glob patterns like *.mp4, even when quoted.
// Returns a deduplicated list of absolute paths.
func expandGlobPatterns(patterns []string) ([]string, error) {
	var expanded []string
	seen := make(map[string]bool)

	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", p, err)
		}
		if !seen[abs] {
			expanded = append(expanded, abs)
			seen[abs] = true
		}
		return nil
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[]") {
			if err := add(pattern); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", pattern)
		}
		for _, match := range matches {
			if err := add(match); err != nil {
				return nil, err
			}
		}
	}

	return expanded, nil
}

// resolveKey returns the AES-256 key given by --key or --key-file, or nil
// when neither is set.
func resolveKey(key, keyFile string) ([]byte, error) {
	if key != "" && keyFile != "" {
		return nil, errors.New("--key and --key-file are mutually exclusive")
	}
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		key = string(data)
	}
	if key == "" {
		return nil, nil
	}
	return encryption.ParseKey(key)
}

// fileIV returns the IV for name: the explicit --iv, a derived one, or nil
// to let the engine pick (random on upload, metadata on download).
func fileIV(key []byte, ivFlag string, derive bool, name string) ([]byte, error) {
	switch {
	case key == nil && (ivFlag != "" || derive):
		return nil, errors.New("--iv and --derive-iv require an encryption key")
	case ivFlag != "" && derive:
		return nil, errors.New("--iv and --derive-iv are mutually exclusive")
	case ivFlag != "":
		return encryption.ParseIV(ivFlag)
	case derive:
		return encryption.DeriveFileIV(key, name)
	}
	return nil, nil
}

// joinBlobURI appends a slash-separated blob name to a destination prefix,
// keeping any query string (such as a SAS token) intact.
func joinBlobURI(prefix, name string) (string, error) {
	u, err := url.Parse(prefix)
	if err != nil {
		return "", fmt.Errorf("invalid destination %q: %w", prefix, err)
	}
	u.Path = path.Join(u.Path, name)
	u.RawPath = ""
	return u.String(), nil
}

// isPrefixURI reports whether a destination names a container or directory
// rather than a single blob.
func isPrefixURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.Path == "" || strings.HasSuffix(u.Path, "/")
}

// blobName returns the last path segment of a blob URI.
func blobName(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid source %q: %w", uri, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("source %q does not name a blob", uri)
	}
	return name, nil
}
