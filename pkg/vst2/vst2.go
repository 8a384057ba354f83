// Package vst2 loads VST2 plugin libraries and talks to their AEffect.
//
// The interfaces in this file have no cgo dependency so that code driving a
// plugin can be tested against fakes. The cgo implementation lives in
// library.go and effect.go.
package vst2

import (
	"errors"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

var (
	// ErrNoEntryPoint is returned when a library exports none of
	// EntryPointNames.
	ErrNoEntryPoint = errors.New("library exports no VST2 entry point")
	// ErrUnsupported is returned by Open on builds without cgo.
	ErrUnsupported = errors.New("loading VST2 libraries requires cgo")
)

// EntryPointNames are the exported symbols tried in order. The last two are
// legacy names still found in older plugins.
var EntryPointNames = []string{"VSTPluginMain", "main_plugin", "main"}

// RegistrationMagic marks an AEffect whose host reserved pointer carries a
// registration made with Effect.Register.
const RegistrationMagic uintptr = 0xdeadbeef + 420

// HostCallback receives every audioMaster call a plugin makes. effect is nil
// when the plugin passes a null AEffect.
type HostCallback func(effect Effect, ev *wire.Event) *wire.EventResult

// EntryPoint is a plugin's exported factory function.
type EntryPoint interface {
	// Call instantiates the plugin. It returns nil when the plugin failed
	// to initialize.
	Call(cb HostCallback) Effect
}

// Library is a loaded plugin library.
type Library interface {
	Lookup(symbol string) (EntryPoint, bool)
	Close() error
}

// ResolveEntryPoint returns the first entry point lib exports together with
// its symbol name.
func ResolveEntryPoint(lib Library) (EntryPoint, string, error) {
	for _, name := range EntryPointNames {
		if entry, ok := lib.Lookup(name); ok {
			return entry, name, nil
		}
	}
	return nil, "", ErrNoEntryPoint
}

// Retained is a MIDI event list copied into memory the plugin may keep
// referencing until the next audio block has been processed.
type Retained interface {
	Release()
}

// Effect is an instantiated plugin.
type Effect interface {
	// Descriptor returns the current values of the AEffect fields.
	Descriptor() wire.Descriptor
	// Dispatch calls the plugin's dispatcher. ev.Payload selects how the
	// data argument is built and how the result payload is read back.
	Dispatch(ev *wire.Event) *wire.EventResult
	// RetainEvents copies events into plugin visible memory.
	RetainEvents(events wire.Events) Retained
	// ProcessEvents dispatches effProcessEvents with a retained list.
	ProcessEvents(r Retained) int64

	GetParameter(index int32) float32
	SetParameter(index int32, value float32)

	// CanProcessReplacing reports whether processReplacing is implemented.
	CanProcessReplacing() bool
	ProcessReplacing(inputs, outputs [][]float32, frames int32)
	// Process is the deprecated accumulating process function.
	Process(inputs, outputs [][]float32, frames int32)
	ProcessDoubleReplacing(inputs, outputs [][]float64, frames int32)

	// Register stores v in the AEffect's host reserved fields together
	// with RegistrationMagic.
	Register(v any)
	// Registered returns the value stored by Register.
	Registered() (any, bool)
	Unregister()
}
