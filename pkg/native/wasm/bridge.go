package wasm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/kaoskorobase/banga/pkg/native"
)

// Guest export names.
const (
	exportMalloc              = "malloc"
	exportFree                = "free"
	exportEngineOptionsNew    = "methcla_engine_options_new"
	exportEngineOptionsFree   = "methcla_engine_options_free"
	exportDriverOptionsNew    = "methcla_audio_driver_options_new"
	exportDriverOptionsFree   = "methcla_audio_driver_options_free"
	exportAudioDriverNew      = "methcla_audio_driver_new"
	exportEngineNewWithDriver = "methcla_engine_new_with_driver"
	exportEngineSend          = "methcla_engine_send"
	exportEngineFree          = "methcla_engine_free"
	exportErrorMessage        = "methcla_error_message"
)

// bridge calls the guest's exported functions. It is not safe for
// concurrent use; Library serializes access.
type bridge struct {
	module api.Module
	memory api.Memory

	malloc api.Function
	free   api.Function

	engineOptionsNew    api.Function
	engineOptionsFree   api.Function
	driverOptionsNew    api.Function
	driverOptionsFree   api.Function
	audioDriverNew      api.Function
	engineNewWithDriver api.Function
	engineSend          api.Function
	engineFree          api.Function
	errorMessage        api.Function

	// out is a guest word receiving handles from *_new calls.
	out uint32

	// scratch is a reusable guest buffer for outgoing packets.
	scratch    uint32
	scratchCap uint32
}

func newBridge(ctx context.Context, module api.Module) (*bridge, error) {
	b := &bridge{module: module}

	// Memory() wraps a nil instance for modules without memory, so look
	// the export up by name.
	b.memory = module.ExportedMemory("memory")
	if b.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	for _, f := range []struct {
		name string
		dst  *api.Function
	}{
		{exportMalloc, &b.malloc},
		{exportFree, &b.free},
		{exportEngineOptionsNew, &b.engineOptionsNew},
		{exportEngineOptionsFree, &b.engineOptionsFree},
		{exportDriverOptionsNew, &b.driverOptionsNew},
		{exportDriverOptionsFree, &b.driverOptionsFree},
		{exportAudioDriverNew, &b.audioDriverNew},
		{exportEngineNewWithDriver, &b.engineNewWithDriver},
		{exportEngineSend, &b.engineSend},
		{exportEngineFree, &b.engineFree},
		{exportErrorMessage, &b.errorMessage},
	} {
		fn := module.ExportedFunction(f.name)
		if fn == nil {
			return nil, fmt.Errorf("WASM module does not export %s function", f.name)
		}
		*f.dst = fn
	}

	out, err := b.allocate(ctx, 4)
	if err != nil {
		return nil, err
	}
	b.out = out

	return b, nil
}

// callNew calls a constructor that reports a code and writes a handle to
// the out word, which is appended as the last argument.
func (b *bridge) callNew(ctx context.Context, fn api.Function, args ...uint64) (uint32, error) {
	args = append(args, uint64(b.out))
	if err := b.callCode(ctx, fn, args...); err != nil {
		return 0, err
	}
	h, ok := b.memory.ReadUint32Le(b.out)
	if !ok {
		return 0, fmt.Errorf("failed to read handle from WASM memory")
	}
	return h, nil
}

// callCode calls fn and converts its i32 result into a native error.
func (b *bridge) callCode(ctx context.Context, fn api.Function, args ...uint64) error {
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("%s trapped: %w", fn.Definition().Name(), err)
	}
	if len(results) == 0 {
		return fmt.Errorf("%s returned no results", fn.Definition().Name())
	}
	code := native.ErrorCode(int32(uint32(results[0])))
	if code == native.NoError {
		return nil
	}
	return native.Check(code, b.lastError(ctx))
}

func (b *bridge) callVoid(ctx context.Context, fn api.Function, args ...uint64) error {
	if _, err := fn.Call(ctx, args...); err != nil {
		return fmt.Errorf("%s trapped: %w", fn.Definition().Name(), err)
	}
	return nil
}

// lastError reads the guest's error message; an unreadable message yields "".
func (b *bridge) lastError(ctx context.Context) string {
	results, err := b.errorMessage.Call(ctx)
	if err != nil || len(results) == 0 {
		return ""
	}
	ptr, n := unpack(results[0])
	if n == 0 {
		return ""
	}
	msg, ok := b.memory.Read(ptr, n)
	if !ok {
		return ""
	}
	return string(msg)
}

// write copies data into a fresh guest allocation. The caller frees it.
func (b *bridge) write(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, err := b.allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !b.memory.Write(ptr, data) {
		_ = b.deallocate(ctx, ptr)
		return 0, fmt.Errorf("failed to write %d bytes to WASM memory", len(data))
	}
	return ptr, nil
}

// writePacket copies packet into the scratch buffer, growing it as needed.
func (b *bridge) writePacket(ctx context.Context, packet []byte) (uint32, error) {
	n := uint32(len(packet))
	if n > b.scratchCap {
		if b.scratch != 0 {
			if err := b.deallocate(ctx, b.scratch); err != nil {
				return 0, err
			}
			b.scratch, b.scratchCap = 0, 0
		}
		ptr, err := b.allocate(ctx, growScratch(n))
		if err != nil {
			return 0, err
		}
		b.scratch, b.scratchCap = ptr, growScratch(n)
	}
	if n > 0 && !b.memory.Write(b.scratch, packet) {
		return 0, fmt.Errorf("failed to write packet to WASM memory")
	}
	return b.scratch, nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, native.Check(native.MemoryError, fmt.Sprintf("malloc(%d) returned null pointer", size))
	}
	return ptr, nil
}

func (b *bridge) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := b.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}

// growScratch rounds n up to the next power of two, at least 1 KiB.
func growScratch(n uint32) uint32 {
	if n > 1<<31 {
		return n
	}
	c := uint32(1024)
	for c < n {
		c <<= 1
	}
	return c
}

func unpack(v uint64) (ptr, n uint32) {
	return uint32(v >> 32), uint32(v)
}

func joinPaths(paths []string) []byte {
	if len(paths) == 0 {
		return nil
	}
	return []byte(strings.Join(paths, "\x00"))
}
