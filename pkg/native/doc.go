// Package native defines the boundary between Go and the synthesis engine's
// C API.
//
// The engine exposes a small surface: option records that are created,
// filled and freed around startup, an audio driver handle, an engine handle,
// and a send entrypoint that enqueues an encoded OSC packet for the audio
// thread. Library captures that surface so the engine package can be written
// once against several backends:
//
//   - loopback: an in-process double that records packets (tests, dry runs)
//   - wasm: the engine compiled to WebAssembly, hosted with wazero
//   - methcla: a cgo binding to libmethcla (build tag "methcla")
//
// Every native call reports a (code, message) pair. Backends convert it with
// Check so that no native result is used without inspecting the code.
package native
