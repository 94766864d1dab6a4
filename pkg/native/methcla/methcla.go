//go:build methcla

// Package methcla binds the native engine library libmethcla with cgo.
//
// Build with -tags methcla and point CGO_CFLAGS and CGO_LDFLAGS at the
// library's include and build directories. Plugins are the ones linked into
// libmethcla; EngineSettings.PluginPaths is not used by this backend.
package methcla

/*
#cgo LDFLAGS: -lmethcla
#include <stdlib.h>
#include <methcla/engine.h>

static Methcla_Error banga_engine_send(Methcla_Engine* engine, const void* data, size_t size) {
	Methcla_OSCPacket packet = { data, size };
	return methcla_engine_send(engine, &packet);
}
*/
import "C"

import (
	"unsafe"

	"github.com/kaoskorobase/banga/pkg/native"
)

// Library is the libmethcla C API.
type Library struct{}

var _ native.Library = Library{}

// New returns the cgo library.
func New() Library {
	return Library{}
}

func check(e C.Methcla_Error) error {
	code := native.ErrorCode(e.error_code)
	if code == native.NoError {
		return nil
	}
	var msg string
	if e.error_message != nil {
		msg = C.GoString(e.error_message)
	}
	return native.Check(code, msg)
}

type engineOptions struct {
	ptr *C.Methcla_EngineOptions
}

func (o *engineOptions) Free() {
	if o.ptr != nil {
		C.methcla_engine_options_free(o.ptr)
		o.ptr = nil
	}
}

type driverOptions struct {
	ptr *C.Methcla_AudioDriverOptions
}

func (o *driverOptions) Free() {
	if o.ptr != nil {
		C.methcla_audio_driver_options_free(o.ptr)
		o.ptr = nil
	}
}

type audioDriver struct {
	ptr *C.Methcla_AudioDriver
}

// NewEngineOptions implements native.Library.
func (Library) NewEngineOptions(s native.EngineSettings) (native.EngineOptions, error) {
	var ptr *C.Methcla_EngineOptions
	if err := check(C.methcla_engine_options_new(&ptr)); err != nil {
		return nil, err
	}
	C.methcla_engine_options_set_sample_rate(ptr, C.int(s.SampleRate))
	C.methcla_engine_options_set_block_size(ptr, C.int(s.BlockSize))
	C.methcla_engine_options_set_realtime_memory_size(ptr, C.size_t(s.RealtimeMemorySize))
	C.methcla_engine_options_set_max_num_nodes(ptr, C.size_t(s.MaxNumNodes))
	C.methcla_engine_options_set_max_num_audio_buses(ptr, C.size_t(s.MaxNumAudioBuses))
	return &engineOptions{ptr: ptr}, nil
}

// NewAudioDriverOptions implements native.Library.
func (Library) NewAudioDriverOptions(s native.DriverSettings) (native.DriverOptions, error) {
	var ptr *C.Methcla_AudioDriverOptions
	if err := check(C.methcla_audio_driver_options_new(&ptr)); err != nil {
		return nil, err
	}
	C.methcla_audio_driver_options_set_sample_rate(ptr, C.int(s.SampleRate))
	C.methcla_audio_driver_options_set_buffer_size(ptr, C.int(s.BufferSize))
	C.methcla_audio_driver_options_set_num_inputs(ptr, C.int(s.NumInputs))
	C.methcla_audio_driver_options_set_num_outputs(ptr, C.int(s.NumOutputs))
	return &driverOptions{ptr: ptr}, nil
}

// OpenAudioDriver implements native.Library.
func (Library) OpenAudioDriver(options native.DriverOptions) (native.AudioDriver, error) {
	opts, ok := options.(*driverOptions)
	if !ok || opts.ptr == nil {
		return nil, native.Check(native.ArgumentError, "invalid audio driver options")
	}
	var drv *C.Methcla_AudioDriver
	if err := check(C.methcla_default_audio_driver(opts.ptr, &drv)); err != nil {
		return nil, err
	}
	return &audioDriver{ptr: drv}, nil
}

// OpenEngine implements native.Library.
func (Library) OpenEngine(options native.EngineOptions, driver native.AudioDriver) (native.Handle, error) {
	opts, ok := options.(*engineOptions)
	if !ok || opts.ptr == nil {
		return nil, native.Check(native.ArgumentError, "invalid engine options")
	}
	drv, ok := driver.(*audioDriver)
	if !ok || drv.ptr == nil {
		return nil, native.Check(native.ArgumentError, "invalid audio driver")
	}
	var eng *C.Methcla_Engine
	if err := check(C.methcla_engine_new_with_driver(opts.ptr, drv.ptr, &eng)); err != nil {
		return nil, err
	}
	return &handle{ptr: eng}, nil
}

type handle struct {
	ptr *C.Methcla_Engine
}

// Send enqueues packet. libmethcla copies the packet before returning.
func (h *handle) Send(packet []byte) error {
	if len(packet) == 0 {
		return native.Check(native.ArgumentError, "empty packet")
	}
	return check(C.banga_engine_send(h.ptr, unsafe.Pointer(&packet[0]), C.size_t(len(packet))))
}

func (h *handle) Free() {
	if h.ptr != nil {
		C.methcla_engine_free(h.ptr)
		h.ptr = nil
	}
}
