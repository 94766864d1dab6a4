package native

// EngineSettings are applied to a native engine options record.
type EngineSettings struct {
	SampleRate         int
	BlockSize          int
	RealtimeMemorySize int
	MaxNumNodes        int
	MaxNumAudioBuses   int
	PluginPaths        []string
}

// DriverSettings are applied to a native audio driver options record.
type DriverSettings struct {
	SampleRate int
	BufferSize int
	NumInputs  int
	NumOutputs int
}

// EngineOptions is a native engine options record. It must be freed once
// the engine has been created from it (or creation failed).
type EngineOptions interface {
	Free()
}

// DriverOptions is a native audio driver options record. It must be freed
// once the driver has been opened from it (or opening failed).
type DriverOptions interface {
	Free()
}

// AudioDriver is an opaque audio driver handle. Ownership passes to the
// engine when it is handed to OpenEngine.
type AudioDriver interface{}

// Handle is a running native engine.
type Handle interface {
	// Send enqueues an encoded OSC packet for the audio thread. It does not
	// block on and does not allocate in the real-time context.
	Send(packet []byte) error
	// Free stops the engine and releases the handle. Calling any method
	// after Free is undefined.
	Free()
}

// Library is the native engine API.
type Library interface {
	NewEngineOptions(settings EngineSettings) (EngineOptions, error)
	NewAudioDriverOptions(settings DriverSettings) (DriverOptions, error)
	OpenAudioDriver(options DriverOptions) (AudioDriver, error)
	OpenEngine(options EngineOptions, driver AudioDriver) (Handle, error)
}
