// Package host exposes the lambda/host capability surface into guests.
// The set is deliberately minimal: an arithmetic example and a fixed
// demonstration secret.
package host

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Module is the import name guests bind against.
const Module = "lambda/host"

const clientSecret = "THIS IS A SECRET!"

const (
	i32 = api.ValueTypeI32
	f32 = api.ValueTypeF32
)

// Capabilities implements the lambda/host functions.
type Capabilities struct{}

// Instantiate registers the lambda/host module on r.
func (c *Capabilities) Instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(Module).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(c.multiply), []api.ValueType{f32, f32}, []api.ValueType{f32}).
		WithParameterNames("a", "b").
		Export("multiply").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(c.clientSecret), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("ptr", "cap").
		Export("client_secret").
		Instantiate(ctx)
	return err
}

func (c *Capabilities) multiply(_ context.Context, _ api.Module, stack []uint64) {
	a := api.DecodeF32(stack[0])
	b := api.DecodeF32(stack[1])
	stack[0] = api.EncodeF32(a * b)
}

// clientSecret writes the secret into the guest buffer at ptr (up to cap
// bytes) and returns the full secret length so a short buffer is
// detectable guest-side.
func (c *Capabilities) clientSecret(_ context.Context, m api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	size := api.DecodeU32(stack[1])

	secret := []byte(clientSecret)
	n := len(secret)
	if uint32(n) > size {
		n = int(size)
	}
	m.Memory().Write(ptr, secret[:n])
	stack[0] = api.EncodeU32(uint32(len(secret)))
}
