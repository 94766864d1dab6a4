package wasm

import (
	"context"

	"github.com/kaoskorobase/banga/pkg/native"
)

type engineOptions struct {
	lib    *Library
	handle uint32
	freed  bool
}

func (o *engineOptions) Free() {
	if o.freed {
		return
	}
	o.freed = true
	_ = o.lib.call(func(ctx context.Context, b *bridge) error {
		return b.callVoid(ctx, b.engineOptionsFree, uint64(o.handle))
	})
}

type driverOptions struct {
	lib    *Library
	handle uint32
	freed  bool
}

func (o *driverOptions) Free() {
	if o.freed {
		return
	}
	o.freed = true
	_ = o.lib.call(func(ctx context.Context, b *bridge) error {
		return b.callVoid(ctx, b.driverOptionsFree, uint64(o.handle))
	})
}

type audioDriver struct {
	handle uint32
}

// NewEngineOptions implements native.Library.
func (l *Library) NewEngineOptions(s native.EngineSettings) (native.EngineOptions, error) {
	var h uint32
	err := l.call(func(ctx context.Context, b *bridge) error {
		paths, err := b.write(ctx, joinPaths(s.PluginPaths))
		if err != nil {
			return err
		}
		if paths != 0 {
			defer b.deallocate(ctx, paths)
		}
		h, err = b.callNew(ctx, b.engineOptionsNew,
			i32(s.SampleRate),
			i32(s.BlockSize),
			i32(s.RealtimeMemorySize),
			i32(s.MaxNumNodes),
			i32(s.MaxNumAudioBuses),
			uint64(paths),
			uint64(len(joinPaths(s.PluginPaths))),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &engineOptions{lib: l, handle: h}, nil
}

// NewAudioDriverOptions implements native.Library.
func (l *Library) NewAudioDriverOptions(s native.DriverSettings) (native.DriverOptions, error) {
	var h uint32
	err := l.call(func(ctx context.Context, b *bridge) (err error) {
		h, err = b.callNew(ctx, b.driverOptionsNew,
			i32(s.SampleRate),
			i32(s.BufferSize),
			i32(s.NumInputs),
			i32(s.NumOutputs),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &driverOptions{lib: l, handle: h}, nil
}

// OpenAudioDriver implements native.Library.
func (l *Library) OpenAudioDriver(options native.DriverOptions) (native.AudioDriver, error) {
	opts, ok := options.(*driverOptions)
	if !ok || opts.lib != l || opts.freed {
		return nil, native.Check(native.ArgumentError, "invalid audio driver options")
	}
	var h uint32
	err := l.call(func(ctx context.Context, b *bridge) (err error) {
		h, err = b.callNew(ctx, b.audioDriverNew, uint64(opts.handle))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &audioDriver{handle: h}, nil
}

// OpenEngine implements native.Library.
func (l *Library) OpenEngine(options native.EngineOptions, driver native.AudioDriver) (native.Handle, error) {
	opts, ok := options.(*engineOptions)
	if !ok || opts.lib != l || opts.freed {
		return nil, native.Check(native.ArgumentError, "invalid engine options")
	}
	drv, ok := driver.(*audioDriver)
	if !ok {
		return nil, native.Check(native.ArgumentError, "invalid audio driver")
	}
	var h uint32
	err := l.call(func(ctx context.Context, b *bridge) (err error) {
		h, err = b.callNew(ctx, b.engineNewWithDriver, uint64(opts.handle), uint64(drv.handle))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &handle{lib: l, engine: h}, nil
}

type handle struct {
	lib    *Library
	engine uint32
}

// Send copies packet into guest memory and enqueues it.
func (h *handle) Send(packet []byte) error {
	return h.lib.call(func(ctx context.Context, b *bridge) error {
		ptr, err := b.writePacket(ctx, packet)
		if err != nil {
			return err
		}
		return b.callCode(ctx, b.engineSend, uint64(h.engine), uint64(ptr), uint64(len(packet)))
	})
}

// Free stops the engine.
func (h *handle) Free() {
	_ = h.lib.call(func(ctx context.Context, b *bridge) error {
		return b.callVoid(ctx, b.engineFree, uint64(h.engine))
	})
}

// i32 passes a Go int as a wasm i32 argument.
func i32(v int) uint64 {
	return uint64(uint32(int32(v)))
}

