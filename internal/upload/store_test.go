package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveKeepsExtension(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	path, err := s.Save("Chart.PNG", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".png" || filepath.Dir(path) != s.Dir() {
		t.Fatalf("path = %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "png-bytes" {
		t.Fatalf("content = %q, err = %v", b, err)
	}

	other, err := s.Save("chart.png", strings.NewReader("x"))
	if err != nil || other == path {
		t.Fatalf("second save = %q, %v", other, err)
	}
}

func TestSaveRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStore(dir, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("script.sh", strings.NewReader("echo")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("ext err = %v", err)
	}
	if _, err := s.Save("big.jpg", bytes.NewReader(make([]byte, 9))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("size err = %v", err)
	}
	if _, err := s.Save("empty.gif", strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty err = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads left %d files behind", len(entries))
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	path, err := s.Save("a.webp", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists: %v", err)
	}
	if err := s.Remove(filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Fatal("remove outside the store should fail")
	}
}
