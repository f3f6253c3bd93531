package registry

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/rvmlabs/rvm/internal/blob"
)

type fakeWorker struct {
	artifact []byte
	stopped  atomic.Bool
	invoked  atomic.Int64
}

func (w *fakeWorker) Invoke(_ context.Context, _ *http.Request) (*http.Response, error) {
	w.invoked.Add(1)
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

func (w *fakeWorker) Stop() { w.stopped.Store(true) }

type fakeSpawner struct {
	workers []*fakeWorker
	failOn  map[string]error
}

func (s *fakeSpawner) spawn(_ context.Context, key string, artifact []byte) (Worker, error) {
	if err := s.failOn[key]; err != nil {
		return nil, err
	}
	w := &fakeWorker{artifact: artifact}
	s.workers = append(s.workers, w)
	return w, nil
}

func newTestRegistry(t *testing.T, spawner *fakeSpawner) (*Registry, blob.Store) {
	t.Helper()
	store, err := blob.NewFsStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return newWithSpawner(store, spawner.spawn), store
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"echo", true},
		{"tenant-42", true},
		{"", false},
		{"a/b", false},
		{"a\nb", false},
		{"\x00", false},
	}

	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.ok && err != nil {
			t.Fatalf("ValidateKey(%q) = %v, want nil", tt.key, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("ValidateKey(%q) = %v, want ErrInvalidKey", tt.key, err)
		}
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("module-bytes"))
	b := Hash([]byte("module-bytes"))
	if a != b {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64", len(a))
	}
	if c := Hash([]byte("other-bytes")); c == a {
		t.Fatalf("distinct inputs produced identical hash %s", a)
	}
}

func TestDeployRegistersAndPersists(t *testing.T) {
	spawner := &fakeSpawner{}
	reg, store := newTestRegistry(t, spawner)

	hash, err := reg.Deploy(context.Background(), "echo", []byte("artifact"))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if hash != Hash([]byte("artifact")) {
		t.Fatalf("hash = %s, want %s", hash, Hash([]byte("artifact")))
	}

	if _, err := reg.Invoke(context.Background(), "echo", nil); err != nil {
		t.Fatalf("invoke after deploy: %v", err)
	}

	data, err := store.Read(context.Background(), "echo.wasm")
	if err != nil {
		t.Fatalf("read persisted artifact: %v", err)
	}
	if string(data) != "artifact" {
		t.Fatalf("persisted bytes = %q", data)
	}
}

func TestRedeployReplacesWorker(t *testing.T) {
	spawner := &fakeSpawner{}
	reg, _ := newTestRegistry(t, spawner)

	if _, err := reg.Deploy(context.Background(), "a", []byte("v1")); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if _, err := reg.Deploy(context.Background(), "a", []byte("v2")); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}

	if len(spawner.workers) != 2 {
		t.Fatalf("spawned %d workers, want 2", len(spawner.workers))
	}
	if !spawner.workers[0].stopped.Load() {
		t.Fatal("previous worker was not stopped")
	}
	if spawner.workers[1].stopped.Load() {
		t.Fatal("replacement worker was stopped")
	}

	// Invocations after the swap land on the new worker.
	if _, err := reg.Invoke(context.Background(), "a", nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if spawner.workers[0].invoked.Load() != 0 || spawner.workers[1].invoked.Load() != 1 {
		t.Fatalf("invocations = (%d, %d), want (0, 1)",
			spawner.workers[0].invoked.Load(), spawner.workers[1].invoked.Load())
	}
}

func TestDeploySpawnFailureLeavesRegistryUntouched(t *testing.T) {
	spawner := &fakeSpawner{failOn: map[string]error{"bad": errors.New("invalid magic")}}
	reg, store := newTestRegistry(t, spawner)

	if _, err := reg.Deploy(context.Background(), "good", []byte("ok")); err != nil {
		t.Fatalf("deploy good: %v", err)
	}

	if _, err := reg.Deploy(context.Background(), "bad", []byte("junk")); err == nil {
		t.Fatal("deploy of malformed artifact succeeded")
	}

	if keys := reg.Keys(); len(keys) != 1 || keys[0] != "good" {
		t.Fatalf("keys after failed deploy = %v, want [good]", keys)
	}
	if _, err := store.Read(context.Background(), "bad.wasm"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("malformed artifact was persisted: %v", err)
	}
}

func TestDeployPersistFailureStopsNewWorker(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newWithSpawner(failingStore{}, spawner.spawn)

	if _, err := reg.Deploy(context.Background(), "a", []byte("v1")); err == nil {
		t.Fatal("deploy succeeded despite storage failure")
	}
	if len(spawner.workers) != 1 || !spawner.workers[0].stopped.Load() {
		t.Fatal("worker spawned for failed deploy was not stopped")
	}
	if len(reg.Keys()) != 0 {
		t.Fatalf("registry mutated on persist failure: %v", reg.Keys())
	}
}

func TestInvokeUnknownKey(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeSpawner{})
	if _, err := reg.Invoke(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("invoke = %v, want ErrUnknownKey", err)
	}
}

func TestRecoverSpawnsPersistedModules(t *testing.T) {
	spawner := &fakeSpawner{}
	reg, store := newTestRegistry(t, spawner)

	for _, name := range []string{"a.wasm", "b.wasm"} {
		w, err := store.Writer(context.Background(), name)
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
		if _, err := w.Write([]byte("bytes-" + name)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	if err := reg.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	keys := reg.Keys()
	if len(keys) != 2 {
		t.Fatalf("recovered keys = %v, want 2 entries", keys)
	}
	for _, key := range []string{"a", "b"} {
		if _, err := reg.Invoke(context.Background(), key, nil); err != nil {
			t.Fatalf("invoke %q after recovery: %v", key, err)
		}
	}
}

func TestRecoverAbortsOnBadModule(t *testing.T) {
	spawner := &fakeSpawner{failOn: map[string]error{"corrupt": errors.New("invalid magic")}}
	reg, store := newTestRegistry(t, spawner)

	w, err := store.Writer(context.Background(), "corrupt.wasm")
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	w.Write([]byte("junk"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := reg.Recover(context.Background()); err == nil {
		t.Fatal("recover succeeded despite corrupt module")
	}
}

// failingStore refuses every write.
type failingStore struct{}

func (failingStore) List(context.Context, string) ([]blob.Entry, error) { return nil, nil }
func (failingStore) Read(context.Context, string) ([]byte, error)      { return nil, blob.ErrNotFound }
func (failingStore) Writer(context.Context, string) (blob.Writer, error) {
	return nil, errors.New("store offline")
}
func (failingStore) Close() error { return nil }
