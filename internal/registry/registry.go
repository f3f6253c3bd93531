// Package registry maps module keys to live instance workers and mediates
// deploy, invoke and startup recovery.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"lukechampine.com/blake3"

	"github.com/rvmlabs/rvm/internal/blob"
	"github.com/rvmlabs/rvm/internal/engine"
	"github.com/rvmlabs/rvm/internal/logging"
	"github.com/rvmlabs/rvm/internal/metrics"
	"github.com/rvmlabs/rvm/internal/observability"
	"github.com/rvmlabs/rvm/internal/worker"
)

const artifactSuffix = ".wasm"

var (
	// ErrUnknownKey means no worker is registered under the key.
	ErrUnknownKey = errors.New("registry: unknown key")
	// ErrInvalidKey rejects keys that are empty, non-printable or contain '/'.
	ErrInvalidKey = errors.New("registry: invalid key")
)

// Worker is the handle the registry holds per key.
type Worker interface {
	Invoke(ctx context.Context, req *http.Request) (*http.Response, error)
	Stop()
}

// SpawnFunc builds a live worker for an artifact.
type SpawnFunc func(ctx context.Context, key string, artifact []byte) (Worker, error)

// Registry is the in-memory key -> worker mapping. Invoke takes the read
// lock just long enough to grab a handle; deploy and recovery hold the
// write lock across the whole swap.
type Registry struct {
	storage blob.Store
	spawn   SpawnFunc

	mu      sync.RWMutex
	workers map[string]Worker
}

// New builds a registry whose workers run on eng.
func New(eng *engine.Engine, storage blob.Store) *Registry {
	return newWithSpawner(storage, func(ctx context.Context, key string, artifact []byte) (Worker, error) {
		return worker.Start(ctx, key, eng, artifact)
	})
}

func newWithSpawner(storage blob.Store, spawn SpawnFunc) *Registry {
	return &Registry{
		storage: storage,
		spawn:   spawn,
		workers: make(map[string]Worker),
	}
}

// Hash returns the BLAKE3 digest of an artifact as lowercase hex.
func Hash(artifact []byte) string {
	sum := blake3.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

// ValidateKey enforces the module-key shape: non-empty printable string
// without '/'.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r == '/' || !unicode.IsPrint(r) {
			return ErrInvalidKey
		}
	}
	return nil
}

// Deploy admits an artifact under key: spawn a fresh worker, persist the
// bytes, swap the mapping. Worker spawn comes first so compile failures
// are diagnosed before anything is committed; the map insert comes last so
// a partial failure leaves no dangling entry. The previous worker, if any,
// is stopped after the swap.
func (r *Registry) Deploy(ctx context.Context, key string, artifact []byte) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	ctx, span := observability.DeploySpan(ctx, key, len(artifact))
	defer span.End()

	hash := Hash(artifact)

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.spawn(ctx, key, artifact)
	if err != nil {
		if m := metrics.Global(); m != nil {
			m.RecordDeploy("spawn_failed")
		}
		observability.RecordError(span, err)
		return "", fmt.Errorf("spawn worker: %w", err)
	}

	if err := r.persist(ctx, key, artifact); err != nil {
		next.Stop()
		if m := metrics.Global(); m != nil {
			m.RecordDeploy("persist_failed")
		}
		observability.RecordError(span, err)
		return "", err
	}

	prev := r.workers[key]
	r.workers[key] = next
	if prev != nil {
		prev.Stop()
	}

	if m := metrics.Global(); m != nil {
		m.RecordDeploy("success")
	}
	logging.ForModule(key).Info("deployed module", "hash", hash, "bytes", len(artifact))
	return hash, nil
}

func (r *Registry) persist(ctx context.Context, key string, artifact []byte) error {
	w, err := r.storage.Writer(ctx, key+artifactSuffix)
	if err != nil {
		return fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(artifact); err != nil {
		w.Abort()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// Invoke routes one request to the worker registered under key.
func (r *Registry) Invoke(ctx context.Context, key string, req *http.Request) (*http.Response, error) {
	ctx, span := observability.InvokeSpan(ctx, key)
	defer span.End()

	r.mu.RLock()
	w, ok := r.workers[key]
	r.mu.RUnlock()
	if !ok {
		observability.RecordError(span, ErrUnknownKey)
		return nil, ErrUnknownKey
	}

	resp, err := w.Invoke(ctx, req)
	observability.RecordError(span, err)
	return resp, err
}

// Recover rehydrates the registry from the object store: one worker per
// persisted artifact. Any failure aborts — a module that deployed
// successfully must come back on restart.
func (r *Registry) Recover(ctx context.Context) error {
	entries, err := r.storage.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list module store: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir {
			continue
		}

		artifact, err := r.storage.Read(ctx, entry.Name)
		if err != nil {
			return fmt.Errorf("read artifact %q: %w", entry.Name, err)
		}

		key := strings.TrimSuffix(entry.Name, artifactSuffix)
		logging.ForModule(key).Info("restarting previously deployed module",
			"hash", Hash(artifact), "bytes", len(artifact))

		w, err := r.spawn(ctx, key, artifact)
		if err != nil {
			return fmt.Errorf("restart module %q: %w", key, err)
		}
		r.workers[key] = w
	}
	return nil
}

// Keys returns the registered module keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.workers))
	for key := range r.workers {
		keys = append(keys, key)
	}
	return keys
}

// Close stops every worker.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, w := range r.workers {
		w.Stop()
		delete(r.workers, key)
	}
}
