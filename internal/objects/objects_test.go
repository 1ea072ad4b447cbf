package objects

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPutWritesFile(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}

	content := []byte("png bytes")
	if err := dir.Put(context.Background(), "tokens/abc/logo.png", bytes.NewReader(content)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir.root, "tokens", "abc", "logo.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}

	key := "tokens/abc/metadata.json"
	if err := dir.Put(context.Background(), key, bytes.NewReader([]byte(`{"v":1}`))); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := dir.Put(context.Background(), key, bytes.NewReader([]byte(`{"v":2}`))); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir.root, "tokens", "abc", "metadata.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("expected second write to win, got %q", got)
	}
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := dir.Put(context.Background(), "tokens/x/logo.png", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("put: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir.root, "tokens", "x"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "logo.png" {
			t.Fatalf("stray file left behind: %s", e.Name())
		}
	}
}

func TestPing(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := dir.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	if err := os.RemoveAll(dir.root); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	if err := dir.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail after root removal")
	}
}
