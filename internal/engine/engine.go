// Package engine owns the process-wide sandbox configuration: one shared
// compilation cache, one runtime configuration, a hard cap on concurrent
// instances, and per-instance fuel budgets. The engine is immutable after
// construction and borrowed by every worker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"

	"github.com/rvmlabs/rvm/internal/config"
)

// ErrPoolExhausted is returned when the instance pool is at its ceiling;
// admitting another instance would exceed the multitenancy cap.
var ErrPoolExhausted = errors.New("engine: instance pool exhausted")

const wasmPageSize = 64 * 1024

// Engine is the shared sandbox engine.
type Engine struct {
	runtimeConfig wazero.RuntimeConfig
	cache         wazero.CompilationCache
	slots         chan struct{}
	fuelBudget    uint64
}

// New builds the engine. The on-disk compilation cache means repeated
// identical modules skip recompilation across deploys and restarts.
func New(cfg config.EngineConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create compile cache dir: %w", err)
	}
	cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open compile cache: %w", err)
	}

	memoryLimitPages := uint32(cfg.MemoryLimitMiB) * (1 << 20 / wasmPageSize)

	// CloseOnContextDone is what turns fuel-exhaustion cancellation into a
	// terminal trap inside the guest.
	runtimeConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithMemoryLimitPages(memoryLimitPages).
		WithCloseOnContextDone(true)

	return &Engine{
		runtimeConfig: runtimeConfig,
		cache:         cache,
		slots:         make(chan struct{}, cfg.MaxInstances),
		fuelBudget:    cfg.FuelBudget,
	}, nil
}

// FuelBudget is the fuel ceiling seeded into each new instance.
func (e *Engine) FuelBudget() uint64 {
	return e.fuelBudget
}

// InstanceSlots returns (in use, capacity) for the instance pool.
func (e *Engine) InstanceSlots() (int, int) {
	return len(e.slots), cap(e.slots)
}

// acquireSlot claims a pool slot without blocking. Refusal leaves every
// existing instance undisturbed.
func (e *Engine) acquireSlot() error {
	select {
	case e.slots <- struct{}{}:
		return nil
	default:
		return ErrPoolExhausted
	}
}

func (e *Engine) releaseSlot() {
	<-e.slots
}

// Close releases the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}
