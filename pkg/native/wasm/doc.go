// Package wasm hosts the synthesis engine compiled to WebAssembly
// (wasm32-wasi) with wazero and exposes it as a native.Library.
//
// The guest module must export its linear memory, malloc and free, and the
// following functions. Every methcla_* function that can fail returns an
// i32 error code (0 on success) and writes its result handle, an i32, to
// the out pointer it is given.
//
//	methcla_engine_options_new(sample_rate, block_size, rt_memory, max_nodes,
//	    max_buses, plugin_paths_ptr, plugin_paths_len, out) -> code
//	methcla_engine_options_free(options)
//	methcla_audio_driver_options_new(sample_rate, buffer_size, inputs,
//	    outputs, out) -> code
//	methcla_audio_driver_options_free(options)
//	methcla_audio_driver_new(options, out) -> code
//	methcla_engine_new_with_driver(options, driver, out) -> code
//	methcla_engine_send(engine, packet_ptr, packet_len) -> code
//	methcla_engine_free(engine)
//	methcla_error_message() -> i64   (ptr << 32 | len, guest owned)
//
// Plugin paths are passed as one NUL-separated string. Plugin directories
// given to Load are mounted read-only at the same path in the guest.
//
// The host provides env.methcla_log(level, ptr, len) so the guest can log
// through the host's logger.
package wasm
