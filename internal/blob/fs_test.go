package blob

import (
	"context"
	"errors"
	"testing"
)

func TestFsStoreRoundTrip(t *testing.T) {
	store, err := NewFsStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	w, err := store.Writer(context.Background(), "echo.wasm")
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if _, err := w.Write([]byte("module ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("bytes")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := store.Read(context.Background(), "echo.wasm")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "module bytes" {
		t.Fatalf("read = %q, want %q", data, "module bytes")
	}

	entries, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "echo.wasm" || entries[0].IsDir {
		t.Fatalf("entries = %+v, want one file echo.wasm", entries)
	}
	if entries[0].Size != int64(len("module bytes")) {
		t.Fatalf("size = %d, want %d", entries[0].Size, len("module bytes"))
	}
}

func TestFsStoreUncommittedWriteInvisible(t *testing.T) {
	store, err := NewFsStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	w, err := store.Writer(context.Background(), "partial.wasm")
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if _, err := w.Write([]byte("half")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Not closed: must not be readable.
	if _, err := store.Read(context.Background(), "partial.wasm"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read uncommitted = %v, want ErrNotFound", err)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	entries, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after abort = %+v, want none", entries)
	}
}

func TestFsStoreReadMissing(t *testing.T) {
	store, err := NewFsStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := store.Read(context.Background(), "nope.wasm"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read missing = %v, want ErrNotFound", err)
	}
}

func TestFsStoreOverwrite(t *testing.T) {
	store, err := NewFsStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	for _, content := range []string{"v1", "v2"} {
		w, err := store.Writer(context.Background(), "a.wasm")
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
		w.Write([]byte(content))
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	data, err := store.Read(context.Background(), "a.wasm")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("read = %q, want v2", data)
	}
}
