package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FsStore keeps blobs as plain files under a root directory.
// This is the default backend, rooted at ./module-store.
type FsStore struct {
	root string
}

// NewFsStore creates the root directory if needed.
func NewFsStore(root string) (*FsStore, error) {
	if root == "" {
		root = "./module-store"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FsStore{root: root}, nil
}

func (s *FsStore) List(_ context.Context, prefix string) ([]Entry, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(prefix))
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		// Dot-prefixed names are in-flight temp writes, not committed blobs.
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *FsStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	return data, nil
}

// Writer streams into a temp file in the same directory; Close renames it
// into place so a committed blob is never observed half-written.
func (s *FsStore) Writer(_ context.Context, name string) (Writer, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	return &fsWriter{f: tmp, dst: dst}, nil
}

func (s *FsStore) Close() error { return nil }

type fsWriter struct {
	f   *os.File
	dst string
}

func (w *fsWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fsWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.f.Name())
		return fmt.Errorf("sync blob: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(w.f.Name(), w.dst); err != nil {
		os.Remove(w.f.Name())
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

func (w *fsWriter) Abort() error {
	w.f.Close()
	return os.Remove(w.f.Name())
}
