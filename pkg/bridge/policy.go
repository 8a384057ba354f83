package bridge

import "github.com/n0izn0iz/vst-bridge/pkg/wire"

type opcodeSet map[int32]struct{}

func newOpcodeSet(opcodes ...int32) opcodeSet {
	s := make(opcodeSet, len(opcodes))
	for _, op := range opcodes {
		s[op] = struct{}{}
	}
	return s
}

func (s opcodeSet) has(opcode int32) bool {
	_, ok := s[opcode]
	return ok
}

var (
	// mainThreadOnly dispatcher calls touch the editor or the plugin's
	// lifecycle and must run on the GUI thread.
	mainThreadOnly = newOpcodeSet(
		wire.EffOpen,
		wire.EffClose,
		wire.EffEditGetRect,
		wire.EffEditOpen,
		wire.EffEditClose,
		wire.EffEditIdle,
		wire.EffEditTop,
		wire.EffMainsChanged,
		wire.EffGetChunk,
		wire.EffSetChunk,
	)

	// realtimeOnMainThread calls may spawn the plugin's own audio threads,
	// which inherit the priority of the calling thread.
	realtimeOnMainThread = newOpcodeSet(
		wire.EffOpen,
		wire.EffMainsChanged,
	)

	// safeRecursive calls may arrive while the plugin's main thread is
	// blocked in a mutually recursive callback, and must then run on that
	// thread.
	safeRecursive = newOpcodeSet(
		wire.EffGetProgram,
		wire.EffGetProgramName,
	)

	// mutuallyRecursiveCallbacks are host callbacks during which the host
	// calls back into the plugin on the same thread.
	mutuallyRecursiveCallbacks = newOpcodeSet(
		wire.AudioMasterUpdateDisplay,
	)
)

// affinity is where a dispatcher call gets executed.
type affinity uint8

const (
	affinityInline affinity = iota
	affinityMainThread
	affinityRecursive
)

func (a affinity) String() string {
	switch a {
	case affinityMainThread:
		return "main"
	case affinityRecursive:
		return "recursive"
	}
	return "inline"
}

func affinityOf(opcode int32) affinity {
	switch {
	case mainThreadOnly.has(opcode):
		return affinityMainThread
	case safeRecursive.has(opcode):
		return affinityRecursive
	}
	return affinityInline
}
