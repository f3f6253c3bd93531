package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/rvmlabs/rvm/internal/abi"
	"github.com/rvmlabs/rvm/internal/host"
)

var (
	// ErrOutOfFuel marks a fuel-exhaustion trap. Once returned, every later
	// invocation on the same instance fails the same way.
	ErrOutOfFuel = errors.New("engine: out of fuel")
	// ErrNoResponse means the handler returned without delivering a response.
	ErrNoResponse = errors.New("engine: guest returned no response")
)

// Instance is one instantiated module. It is owned by exactly one worker,
// which serializes all invocations against it; nothing here is safe for
// concurrent use.
type Instance struct {
	runtime wazero.Runtime
	module  api.Module
	handle  api.Function
	bridge  *abi.Bridge
	meter   *FuelMeter
	engine  *Engine
	closed  bool
}

// NewInstance claims a pool slot, compiles the artifact (cache-backed) and
// instantiates it with the bridge, the lambda/host capabilities, and the
// system interface. The fuel meter is seeded with the engine budget.
func (e *Engine) NewInstance(ctx context.Context, key string, artifact []byte) (*Instance, error) {
	if err := e.acquireSlot(); err != nil {
		return nil, err
	}

	meter := NewFuelMeter(e.fuelBudget)
	listenCtx := experimental.WithFunctionListenerFactory(ctx,
		newFuelListenerFactory(meter, abi.BridgeModule, host.Module, wasi_snapshot_preview1.ModuleName))

	runtime := wazero.NewRuntimeWithConfig(listenCtx, e.runtimeConfig)

	inst, err := e.instantiate(listenCtx, runtime, key, artifact, meter)
	if err != nil {
		runtime.Close(ctx)
		e.releaseSlot()
		return nil, err
	}
	return inst, nil
}

func (e *Engine) instantiate(ctx context.Context, runtime wazero.Runtime, key string, artifact []byte, meter *FuelMeter) (*Instance, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	bridge := &abi.Bridge{}
	if err := bridge.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("instantiate http bridge: %w", err)
	}

	caps := &host.Capabilities{}
	if err := caps.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("instantiate host capabilities: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	// Reactor-style init only; stdio is inherited so guest prints land in
	// the daemon's logs.
	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(key).
		WithStartFunctions("_initialize").
		WithStdout(os.Stdout).
		WithStderr(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	handle := module.ExportedFunction(abi.HandleFunc)
	if handle == nil {
		return nil, fmt.Errorf("module does not export %q", abi.HandleFunc)
	}

	return &Instance{
		runtime: runtime,
		module:  module,
		handle:  handle,
		bridge:  bridge,
		meter:   meter,
		engine:  e,
	}, nil
}

// HandleHTTP runs one invocation through the guest handler.
func (i *Instance) HandleHTTP(ctx context.Context, req *http.Request) (*http.Response, error) {
	if i.meter.Exhausted() {
		return nil, ErrOutOfFuel
	}

	data, err := abi.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	reqLen := i.bridge.SetRequest(data)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	i.meter.BindInvocation(cancel)

	// The listener charges per function entry; a guest spinning in a
	// call-free loop never reaches it. The watchdog exhausts the meter
	// once the remaining fuel's wall-clock equivalent is spent.
	watchdog := time.AfterFunc(i.meter.Backstop(), i.meter.Exhaust)
	_, callErr := i.handle.Call(callCtx, uint64(reqLen))
	watchdog.Stop()
	i.meter.BindInvocation(nil)

	if callErr != nil {
		if i.meter.Exhausted() {
			return nil, ErrOutOfFuel
		}
		return nil, fmt.Errorf("guest trap: %w", callErr)
	}

	resp := i.bridge.TakeResponse()
	if resp == nil {
		return nil, ErrNoResponse
	}
	return abi.DecodeResponse(resp)
}

// Fuel returns the remaining fuel after the last invocation.
func (i *Instance) Fuel() uint64 {
	return i.meter.Remaining()
}

// Close tears the instance down and releases its pool slot.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	err := i.runtime.Close(ctx)
	i.engine.releaseSlot()
	return err
}
