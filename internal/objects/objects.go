// Package objects stores uploaded blobs under restricted keys. The server
// validates keys before they reach a Store; implementations treat keys as
// already-sanitized relative paths.
package objects

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Ping(ctx context.Context) error
}

// Dir is a filesystem-backed Store rooted at a single directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

// Put writes the blob to a temp file and renames it into place, so readers
// never observe a partial object.
func (d *Dir) Put(ctx context.Context, key string, r io.Reader) error {
	dest := filepath.Join(d.root, filepath.FromSlash(key))
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (d *Dir) Ping(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("object root %s is not a directory", d.root)
	}
	return nil
}
