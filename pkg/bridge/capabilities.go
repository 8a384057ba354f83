package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/n0izn0iz/vst-bridge/pkg/vst2"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// ErrUnsupported is returned for calls that need a capability the plugin or
// this process lacks.
var ErrUnsupported = errors.New("unsupported")

// Capability is one optional feature of a hosted plugin.
type Capability uint8

const (
	CapabilityEditor Capability = iota
	CapabilityChunks
	CapabilityReplacing
	CapabilityDoublePrecision
	CapabilitySynth
	numCapabilities
)

var capabilityNames = [...]string{
	CapabilityEditor:          "editor",
	CapabilityChunks:          "chunks",
	CapabilityReplacing:       "replacing",
	CapabilityDoublePrecision: "double-precision",
	CapabilitySynth:           "synth",
}

func (c Capability) String() string {
	if int(c) < len(capabilityNames) {
		return capabilityNames[c]
	}
	return fmt.Sprintf("capability(%d)", c)
}

// Capabilities is the set of features negotiated for one instance.
type Capabilities uint32

// Has reports whether c is part of the set.
func (s Capabilities) Has(c Capability) bool {
	return s&(1<<c) != 0
}

// With returns the set with c added.
func (s Capabilities) With(c Capability) Capabilities {
	return s | 1<<c
}

// Require returns an error wrapping ErrUnsupported when c is missing.
func (s Capabilities) Require(c Capability) error {
	if !s.Has(c) {
		return fmt.Errorf("%s: %w", c, ErrUnsupported)
	}
	return nil
}

func (s Capabilities) String() string {
	var names []string
	for c := Capability(0); c < numCapabilities; c++ {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return strings.Join(names, ",")
}

// Negotiate derives the capabilities of a freshly instantiated plugin. The
// editor is only available when this process can create editor windows.
func Negotiate(desc wire.Descriptor, effect vst2.Effect, editors EditorFactory) Capabilities {
	var caps Capabilities
	if desc.Flags&wire.FlagHasEditor != 0 && editors != nil {
		caps = caps.With(CapabilityEditor)
	}
	if desc.Flags&wire.FlagProgramChunks != 0 {
		caps = caps.With(CapabilityChunks)
	}
	if effect.CanProcessReplacing() {
		caps = caps.With(CapabilityReplacing)
	}
	if desc.Flags&wire.FlagCanDoubleReplacing != 0 {
		caps = caps.With(CapabilityDoublePrecision)
	}
	if desc.Flags&wire.FlagIsSynth != 0 {
		caps = caps.With(CapabilitySynth)
	}
	return caps
}

// requiredCapability maps dispatcher calls to the capability serving them.
var requiredCapability = map[int32]Capability{
	wire.EffEditGetRect: CapabilityEditor,
	wire.EffEditOpen:    CapabilityEditor,
	wire.EffEditClose:   CapabilityEditor,
	wire.EffEditIdle:    CapabilityEditor,
	wire.EffEditTop:     CapabilityEditor,
	wire.EffGetChunk:    CapabilityChunks,
	wire.EffSetChunk:    CapabilityChunks,
}

// unsupportedResult is the answer to a call whose capability is missing. Its
// payload is valid for the opcode's response shape.
func unsupportedResult(opcode int32) *wire.EventResult {
	if opcode == wire.EffGetChunk {
		return &wire.EventResult{Payload: wire.Chunk{}}
	}
	return &wire.EventResult{Payload: wire.None{}}
}
