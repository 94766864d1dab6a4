package engine

import (
	"github.com/go-playground/validator/v10"

	"github.com/kaoskorobase/banga/pkg/native"
)

var validate = validator.New()

// Config holds the engine startup parameters. It is immutable once the
// engine is open; Open copies it.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate" validate:"required,gt=0"`

	// BlockSize is the number of frames processed per audio callback.
	BlockSize int `yaml:"block_size" json:"block_size" validate:"required,gt=0"`

	// RealtimeMemorySize is the engine's real-time memory budget in bytes.
	RealtimeMemorySize int `yaml:"realtime_memory_size" json:"realtime_memory_size" validate:"required,gt=0"`

	// MaxNumNodes bounds the node id pool. Id 0 is the root group, so at
	// least two slots are needed to create anything.
	MaxNumNodes int `yaml:"max_num_nodes" json:"max_num_nodes" validate:"required,gt=1,lte=1048576"`

	// MaxNumAudioBuses bounds the audio bus id pool.
	MaxNumAudioBuses int `yaml:"max_num_audio_buses" json:"max_num_audio_buses" validate:"gte=0,lte=1048576"`

	// NumHardwareInputs is the number of audio driver input channels.
	NumHardwareInputs int `yaml:"num_hardware_inputs" json:"num_hardware_inputs" validate:"gte=0"`

	// NumHardwareOutputs is the number of audio driver output channels.
	NumHardwareOutputs int `yaml:"num_hardware_outputs" json:"num_hardware_outputs" validate:"gte=0"`

	// PluginDirectories are searched for engine plugins.
	PluginDirectories []string `yaml:"plugin_directories,omitempty" json:"plugin_directories,omitempty" validate:"dive,required"`
}

// DefaultConfig returns the engine defaults: 44.1 kHz, 512 frame blocks,
// 1 MiB real-time memory, 1024 nodes and buses, stereo in and out.
func DefaultConfig() Config {
	return Config{
		SampleRate:         44100,
		BlockSize:          512,
		RealtimeMemorySize: 1024 * 1024,
		MaxNumNodes:        1024,
		MaxNumAudioBuses:   1024,
		NumHardwareInputs:  2,
		NumHardwareOutputs: 2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validate.Struct(c)
}

func (c Config) engineSettings() native.EngineSettings {
	return native.EngineSettings{
		SampleRate:         c.SampleRate,
		BlockSize:          c.BlockSize,
		RealtimeMemorySize: c.RealtimeMemorySize,
		MaxNumNodes:        c.MaxNumNodes,
		MaxNumAudioBuses:   c.MaxNumAudioBuses,
		PluginPaths:        append([]string(nil), c.PluginDirectories...),
	}
}

func (c Config) driverSettings() native.DriverSettings {
	return native.DriverSettings{
		SampleRate: c.SampleRate,
		BufferSize: c.BlockSize,
		NumInputs:  c.NumHardwareInputs,
		NumOutputs: c.NumHardwareOutputs,
	}
}
