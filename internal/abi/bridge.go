package abi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	// BridgeModule is the host module carrying request/response bytes.
	BridgeModule = "rvm/http"
	// HandleFunc is the guest-exported handler entry point.
	HandleFunc = "handle"
)

const i32 = api.ValueTypeI32

// Bridge moves one invocation's request and response bytes across linear
// memory. Invocations on an instance are serialized by its worker, so the
// pending fields are never accessed concurrently.
type Bridge struct {
	request  []byte
	response []byte
}

// SetRequest stages the encoded request for the next handler call and
// returns its length (the handle argument).
func (b *Bridge) SetRequest(data []byte) uint32 {
	b.request = data
	b.response = nil
	return uint32(len(data))
}

// TakeResponse returns the bytes the guest delivered, or nil if the guest
// returned without calling write_response.
func (b *Bridge) TakeResponse() []byte {
	resp := b.response
	b.response = nil
	return resp
}

// Instantiate registers the rvm/http host module on r.
func (b *Bridge) Instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(BridgeModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.readRequest), []api.ValueType{i32}, []api.ValueType{}).
		WithParameterNames("ptr").
		Export("read_request").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.writeResponse), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("ptr", "len").
		Export("write_response").
		Instantiate(ctx)
	return err
}

// readRequest copies the pending request into guest memory at ptr. The
// guest sizes its buffer from the handle argument.
func (b *Bridge) readRequest(_ context.Context, m api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	m.Memory().Write(ptr, b.request)
}

// writeResponse copies len response bytes out of guest memory at ptr.
func (b *Bridge) writeResponse(_ context.Context, m api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	size := api.DecodeU32(stack[1])
	if data, ok := m.Memory().Read(ptr, size); ok {
		b.response = append([]byte(nil), data...)
	}
}
