// Package loopback is an in-process stand-in for the native engine. It
// applies no DSP; it records the settings it was opened with and every packet
// sent to it, and it can be told to fail any call with a native error.
package loopback

import (
	"fmt"
	"sync"

	"github.com/kaoskorobase/banga/pkg/native"
)

// Call names accepted by FailOn.
const (
	CallNewEngineOptions      = "engine_options_new"
	CallNewAudioDriverOptions = "audio_driver_options_new"
	CallOpenAudioDriver       = "audio_driver_open"
	CallOpenEngine            = "engine_new_with_driver"
	CallSend                  = "engine_send"
)

// Library implements native.Library in memory.
type Library struct {
	mu       sync.Mutex
	failures map[string]*native.Error

	engineSettings native.EngineSettings
	driverSettings native.DriverSettings

	optionsAllocated int
	optionsFreed     int
	enginesFreed     int

	packets [][]byte
}

// New returns an empty loopback library.
func New() *Library {
	return &Library{failures: make(map[string]*native.Error)}
}

// FailOn makes every subsequent call named call fail with code and message.
func (l *Library) FailOn(call string, code native.ErrorCode, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[call] = &native.Error{Code: code, Message: message}
}

// Heal clears an injected failure.
func (l *Library) Heal(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, call)
}

func (l *Library) check(call string) error {
	if f, ok := l.failures[call]; ok {
		return native.Check(f.Code, f.Message)
	}
	return nil
}

type engineOptions struct {
	lib      *Library
	settings native.EngineSettings
	freed    bool
}

func (o *engineOptions) Free() {
	o.lib.release(&o.freed)
}

type driverOptions struct {
	lib      *Library
	settings native.DriverSettings
	freed    bool
}

func (o *driverOptions) Free() {
	o.lib.release(&o.freed)
}

func (l *Library) release(freed *bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if *freed {
		panic("loopback: options record freed twice")
	}
	*freed = true
	l.optionsFreed++
}

type audioDriver struct {
	settings native.DriverSettings
}

// NewEngineOptions implements native.Library.
func (l *Library) NewEngineOptions(settings native.EngineSettings) (native.EngineOptions, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(CallNewEngineOptions); err != nil {
		return nil, err
	}
	l.optionsAllocated++
	settings.PluginPaths = append([]string(nil), settings.PluginPaths...)
	return &engineOptions{lib: l, settings: settings}, nil
}

// NewAudioDriverOptions implements native.Library.
func (l *Library) NewAudioDriverOptions(settings native.DriverSettings) (native.DriverOptions, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(CallNewAudioDriverOptions); err != nil {
		return nil, err
	}
	l.optionsAllocated++
	return &driverOptions{lib: l, settings: settings}, nil
}

// OpenAudioDriver implements native.Library.
func (l *Library) OpenAudioDriver(options native.DriverOptions) (native.AudioDriver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	opts, ok := options.(*driverOptions)
	if !ok || opts.freed {
		return nil, native.Check(native.ArgumentError, "invalid audio driver options")
	}
	if err := l.check(CallOpenAudioDriver); err != nil {
		return nil, err
	}
	return &audioDriver{settings: opts.settings}, nil
}

// OpenEngine implements native.Library.
func (l *Library) OpenEngine(options native.EngineOptions, driver native.AudioDriver) (native.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	opts, ok := options.(*engineOptions)
	if !ok || opts.freed {
		return nil, native.Check(native.ArgumentError, "invalid engine options")
	}
	drv, ok := driver.(*audioDriver)
	if !ok {
		return nil, native.Check(native.ArgumentError, "invalid audio driver")
	}
	if err := l.check(CallOpenEngine); err != nil {
		return nil, err
	}
	l.engineSettings = opts.settings
	l.driverSettings = drv.settings
	return &handle{lib: l}, nil
}

type handle struct {
	lib   *Library
	freed bool
}

func (h *handle) Send(packet []byte) error {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	if h.freed {
		return native.Check(native.LogicError, "engine already freed")
	}
	if err := h.lib.check(CallSend); err != nil {
		return err
	}
	h.lib.packets = append(h.lib.packets, append([]byte(nil), packet...))
	return nil
}

func (h *handle) Free() {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	if h.freed {
		panic("loopback: engine freed twice")
	}
	h.freed = true
	h.lib.enginesFreed++
}

// Packets returns copies of all packets received so far, in order.
func (l *Library) Packets() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.packets))
	for i, p := range l.packets {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// EngineSettings returns the settings of the last engine opened.
func (l *Library) EngineSettings() native.EngineSettings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engineSettings
}

// DriverSettings returns the settings of the last audio driver opened.
func (l *Library) DriverSettings() native.DriverSettings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driverSettings
}

// Stats reports resource counters.
type Stats struct {
	OptionsAllocated int
	OptionsFreed     int
	EnginesFreed     int
	PacketsReceived  int
}

// Stats returns the current resource counters.
func (l *Library) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		OptionsAllocated: l.optionsAllocated,
		OptionsFreed:     l.optionsFreed,
		EnginesFreed:     l.enginesFreed,
		PacketsReceived:  len(l.packets),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("options %d/%d freed, engines freed %d, packets %d",
		s.OptionsFreed, s.OptionsAllocated, s.EnginesFreed, s.PacketsReceived)
}
