package localfs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"normal", false},
		{"/path/to/.hidden", true},
		{"/path/to/visible.txt", false},
		{"../.hidden", true},
		{"../visible.txt", false},
		{"..", false}, // Special case: parent dir reference
		{".", false},  // Special case: current dir reference
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := IsHidden(tt.path)
			if result != tt.expected {
				t.Errorf("IsHidden(%q) = %v, want %v", tt.path, result, tt.expected)
			}
		})
	}
}

func TestIsHiddenName(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"normal", false},
		{"..", false}, // Parent dir reference starts with . but is special
		{".", false},  // Current dir reference
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsHiddenName(tt.name)
			if result != tt.expected {
				t.Errorf("IsHiddenName(%q) = %v, want %v", tt.name, result, tt.expected)
			}
		})
	}
}

func TestIsTransferArtifact(t *testing.T) {
	for name, want := range map[string]bool{
		"data.bin.blobxfer.lock":      true,
		"data.bin.blobxfer-meta.json": true,
		".blobxfer-staging-1234":      true,
		".blobxfer-commit-99":         true,
		"data.bin":                    false,
		"blobxfer.conf":               false,
	} {
		if got := IsTransferArtifact(name); got != want {
			t.Errorf("IsTransferArtifact(%q) = %v, want %v", name, got, want)
		}
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWalkFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":          "a",
		".hidden":        "h",
		"sub/b.txt":      "bb",
		".secret/c.txt":  "ccc",
		"sub/deep/d.txt": "dddd",
	})

	collect := func(opts WalkOptions) []string {
		var names []string
		err := WalkFiles(root, opts, func(e FileEntry) error {
			rel, _ := filepath.Rel(root, e.Path)
			names = append(names, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			t.Fatalf("WalkFiles() error = %v", err)
		}
		return names
	}

	if got, want := collect(WalkOptions{}), []string{"a.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("non-recursive = %v, want %v", got, want)
	}
	if got, want := collect(WalkOptions{Recursive: true, SkipHiddenDirs: true}), []string{"a.txt", "sub/b.txt", "sub/deep/d.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("recursive = %v, want %v", got, want)
	}
	if got := collect(WalkOptions{Recursive: true, IncludeHidden: true}); len(got) != 5 {
		t.Errorf("with hidden = %v, want 5 files", got)
	}
}

func TestCollectSources(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"dir/x.bin":                    "xx",
		"dir/nested/y.bin":             "yyy",
		"dir/x.bin.blobxfer.lock":      "{}",
		"dir/x.bin.blobxfer-meta.json": "{}",
		"single.bin":                   "s",
	})

	sources, err := CollectSources(
		[]string{filepath.Join(root, "dir"), filepath.Join(root, "single.bin")},
		WalkOptions{Recursive: true, SkipHiddenDirs: true},
	)
	if err != nil {
		t.Fatalf("CollectSources() error = %v", err)
	}

	want := []Source{
		{Path: filepath.Join(root, "dir", "nested", "y.bin"), RelPath: "nested/y.bin", Size: 3},
		{Path: filepath.Join(root, "single.bin"), RelPath: "single.bin", Size: 1},
		{Path: filepath.Join(root, "dir", "x.bin"), RelPath: "x.bin", Size: 2},
	}
	if !reflect.DeepEqual(sources, want) {
		t.Errorf("CollectSources() = %+v, want %+v", sources, want)
	}
}

func TestCollectSources_Errors(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a/f.bin": "1", "b/f.bin": "2"})

	if _, err := CollectSources([]string{filepath.Join(root, "a", "f.bin"), filepath.Join(root, "b", "f.bin")}, WalkOptions{}); err == nil {
		t.Error("duplicate blob names accepted")
	}
	if _, err := CollectSources([]string{filepath.Join(root, "missing")}, WalkOptions{}); !os.IsNotExist(err) {
		t.Errorf("missing path error = %v", err)
	}
	empty := filepath.Join(root, "empty")
	os.Mkdir(empty, 0755)
	if _, err := CollectSources([]string{empty}, WalkOptions{}); err == nil {
		t.Error("empty directory accepted")
	}
}
