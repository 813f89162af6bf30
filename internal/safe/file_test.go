package safe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestReadFile(t *testing.T) {
	t.Run("reads regular file", func(t *testing.T) {
		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "bundle.json")
		content := []byte(`{"contexts":[]}`)

		if err := os.WriteFile(src, content, 0o644); err != nil {
			t.Fatal(err)
		}

		got, err := ReadFile(src, nil)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}

		if string(got) != string(content) {
			t.Errorf("got %q, want %q", got, content)
		}
	})

	t.Run("rejects symlink by default", func(t *testing.T) {
		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "bundle.json")
		link := filepath.Join(tmpDir, "link.json")

		if err := os.WriteFile(src, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := os.Symlink(src, link); err != nil {
			t.Fatal(err)
		}

		if _, err := ReadFile(link, nil); err == nil {
			t.Fatal("expected error for symlink, got nil")
		}

		if _, err := ReadFile(link, &ReadOptions{AllowSymlinks: true}); err != nil {
			t.Fatalf("expected symlink to be followed when allowed: %v", err)
		}
	})

	t.Run("rejects file exceeding max size", func(t *testing.T) {
		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "bundle.json")

		if err := os.WriteFile(src, make([]byte, 1024), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := ReadFile(src, &ReadOptions{MaxSize: 512}); err == nil {
			t.Fatal("expected error for oversized file, got nil")
		}
	})

	t.Run("rejects directory", func(t *testing.T) {
		if _, err := ReadFile(t.TempDir(), nil); err == nil {
			t.Fatal("expected error for directory, got nil")
		}
	})
}

func TestWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	dst := filepath.Join(tmpDir, "calltree.json")

	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(dst, []byte("new"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Errorf("got permissions %o, want %o", perm, 0o640)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected temporary file to be cleaned up, found %d entries", len(entries))
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClose(t *testing.T) {
	called := false
	Close(closerFunc(func() error {
		called = true
		return errors.New("boom")
	}), zerolog.Nop(), "failed to close")

	if !called {
		t.Error("expected Close to be called")
	}

	// A nil closer is ignored.
	Close(nil, zerolog.Nop(), "unused")
}
