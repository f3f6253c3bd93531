package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// Fuel cost per call class. Consumption is deterministic: a given guest
// execution performs the same calls and is charged the same total.
const (
	guestCallCost = 100
	hostCallCost  = 1_000
)

// wallClockPerFuelUnit converts remaining fuel into the wall-clock ceiling
// for one handler call. The listener only observes function entries, so a
// call-free busy loop (plain loop/br back-edges) would otherwise never be
// charged; the backstop exhausts the meter for that class of guest too.
// One unit per microsecond puts the default budget at ~100s.
const wallClockPerFuelUnit = time.Microsecond

// FuelMeter is the per-instance execution budget. It is seeded once at
// instance creation and only ever decreases; when it runs out the current
// invocation is cancelled and every later one is refused until the
// instance is replaced.
type FuelMeter struct {
	remaining atomic.Int64
	exhausted atomic.Bool
	cancel    atomic.Pointer[context.CancelFunc]
}

func NewFuelMeter(budget uint64) *FuelMeter {
	m := &FuelMeter{}
	m.remaining.Store(int64(budget))
	return m
}

// Remaining returns the fuel left, clamped at zero.
func (m *FuelMeter) Remaining() uint64 {
	r := m.remaining.Load()
	if r < 0 {
		return 0
	}
	return uint64(r)
}

// Exhausted reports whether the budget has run out.
func (m *FuelMeter) Exhausted() bool {
	return m.exhausted.Load()
}

// Backstop returns how long the remaining fuel lets a handler call run on
// the wall clock.
func (m *FuelMeter) Backstop() time.Duration {
	return time.Duration(m.Remaining()) * wallClockPerFuelUnit
}

// BindInvocation installs the cancel function for the in-flight handler
// call; exhaustion mid-call cancels it, which the runtime surfaces as a
// terminal trap.
func (m *FuelMeter) BindInvocation(cancel context.CancelFunc) {
	if cancel == nil {
		m.cancel.Store(nil)
		return
	}
	m.cancel.Store(&cancel)
}

// Charge deducts units. Reaching or passing zero marks the meter exhausted
// and stops the current invocation.
func (m *FuelMeter) Charge(units int64) {
	if m.remaining.Add(-units) <= 0 {
		m.markExhausted()
	}
}

// Exhaust drains the meter unconditionally. The instance's watchdog calls
// this when a handler outlives the wall-clock budget without making any
// meterable call.
func (m *FuelMeter) Exhaust() {
	m.remaining.Store(0)
	m.markExhausted()
}

func (m *FuelMeter) markExhausted() {
	if m.exhausted.CompareAndSwap(false, true) {
		if cancel := m.cancel.Load(); cancel != nil {
			(*cancel)()
		}
	}
}

// fuelListenerFactory charges the meter on every function entry observed
// by the runtime, classed by whether the callee is a host function.
type fuelListenerFactory struct {
	meter       *FuelMeter
	hostModules map[string]struct{}
}

func newFuelListenerFactory(meter *FuelMeter, hostModules ...string) *fuelListenerFactory {
	mods := make(map[string]struct{}, len(hostModules))
	for _, m := range hostModules {
		mods[m] = struct{}{}
	}
	return &fuelListenerFactory{meter: meter, hostModules: mods}
}

func (f *fuelListenerFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	cost := int64(guestCallCost)
	if _, ok := f.hostModules[def.ModuleName()]; ok {
		cost = hostCallCost
	}
	return &fuelListener{meter: f.meter, cost: cost}
}

type fuelListener struct {
	meter *FuelMeter
	cost  int64
}

func (l *fuelListener) Before(context.Context, api.Module, api.FunctionDefinition, []uint64, experimental.StackIterator) {
	l.meter.Charge(l.cost)
}

func (l *fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (l *fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
