package fileutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tourlab/termbroker/internal/fileutil"
)

func TestResolveRoot(t *testing.T) {
	base := t.TempDir()
	_ = os.MkdirAll(filepath.Join(base, "exercises", "ex01_hello"), 0o755)
	file := filepath.Join(base, "README.md")
	_ = os.WriteFile(file, []byte("# hi"), 0o644)

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		t.Fatal(err)
	}

	got, err := fileutil.ResolveRoot(filepath.Join(base, "exercises"))
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	if want := filepath.Join(realBase, "exercises"); got != want {
		t.Errorf("ResolveRoot = %q, want %q", got, want)
	}

	if _, err := fileutil.ResolveRoot(file); !errors.Is(err, fileutil.ErrNotDirectory) {
		t.Errorf("ResolveRoot(file) error = %v, want ErrNotDirectory", err)
	}
	if _, err := fileutil.ResolveRoot(filepath.Join(base, "missing")); err == nil {
		t.Error("ResolveRoot(missing) = nil error")
	}
	if _, err := fileutil.ResolveRoot(""); err == nil {
		t.Error("ResolveRoot(\"\") = nil error")
	}
}

func TestResolveRootFollowsSymlink(t *testing.T) {
	target := t.TempDir()
	link := filepath.Join(t.TempDir(), "exercises")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks not supported:", err)
	}

	got, err := fileutil.ResolveRoot(link)
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(target)
	if got != want {
		t.Errorf("ResolveRoot = %q, want %q", got, want)
	}
}

func TestRelWithin(t *testing.T) {
	root := filepath.FromSlash("/srv/exercises")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		// ── Inside the root ────────────────────────────────────────────────
		{name: "root itself", path: "/srv/exercises", want: "."},
		{name: "exercise dir", path: "/srv/exercises/ex01_hello", want: "ex01_hello"},
		{name: "nested file", path: "/srv/exercises/ex01_hello/src/main.rs", want: "ex01_hello/src/main.rs"},
		{name: "uncleaned", path: "/srv/exercises/ex01/../ex02/x.go", want: "ex02/x.go"},

		// ── Outside the root ───────────────────────────────────────────────
		{name: "parent", path: "/srv", wantErr: true},
		{name: "sibling", path: "/srv/exercises-old/x", wantErr: true},
		{name: "escape", path: "/srv/exercises/../../etc/passwd", wantErr: true},
		{name: "relative", path: "ex01/main.rs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fileutil.RelWithin(root, filepath.FromSlash(tt.path))
			if tt.wantErr {
				if err == nil {
					t.Errorf("RelWithin(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RelWithin(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("RelWithin(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
