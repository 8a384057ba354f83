package wire

import (
	"fmt"
	"strings"
)

// Direction tells which of the two event channels an opcode belongs to.
type Direction uint8

const (
	// Dispatch events travel from the host to the plugin.
	Dispatch Direction = iota
	// Callback events travel from the plugin to the host.
	Callback
)

func (d Direction) String() string {
	if d == Callback {
		return "callback"
	}
	return "dispatch"
}

// KindSet is a set of payload kinds.
type KindSet uint32

// Kinds builds a KindSet.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Has reports whether k is part of the set.
func (s KindSet) Has(k Kind) bool {
	return s&(1<<k) != 0
}

func (s KindSet) String() string {
	var names []string
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Shape declares which payload kinds an opcode accepts in its request and in
// its response.
type Shape struct {
	Request  KindSet
	Response KindSet
}

// Generic is the shape of every opcode without a registration.
var Generic = Shape{
	Request:  Kinds(KindNone, KindNumeric, KindString, KindWantsString, KindChunk, KindWantsChunk, KindStruct, KindRect),
	Response: Kinds(KindNone, KindNumeric, KindString, KindChunk, KindStruct, KindRect),
}

// ProtocolError reports a payload that does not match its opcode. It is an
// invariant violation, not a recoverable condition.
type ProtocolError struct {
	Direction Direction
	Opcode    int32
	Response  bool
	Got       Kind
	Want      KindSet
}

func (e *ProtocolError) Error() string {
	what := "request"
	if e.Response {
		what = "response"
	}
	return fmt.Sprintf("%s %s for %s carries a %s payload, expected one of %s",
		e.Direction, what, OpcodeName(e.Direction, e.Opcode), e.Got, e.Want)
}

type registryKey struct {
	dir    Direction
	opcode int32
}

// Registry maps opcodes to their payload shapes.
type Registry struct {
	shapes map[registryKey]Shape
}

// NewRegistry returns an empty registry where every opcode is Generic.
func NewRegistry() *Registry {
	return &Registry{shapes: make(map[registryKey]Shape)}
}

// Register declares the shape of an opcode.
func (r *Registry) Register(dir Direction, opcode int32, shape Shape) {
	r.shapes[registryKey{dir, opcode}] = shape
}

// Shape returns the declared shape of an opcode, or Generic.
func (r *Registry) Shape(dir Direction, opcode int32) Shape {
	if shape, ok := r.shapes[registryKey{dir, opcode}]; ok {
		return shape
	}
	return Generic
}

// ValidateRequest checks the payload of an incoming or outgoing event.
func (r *Registry) ValidateRequest(dir Direction, ev *Event) error {
	shape := r.Shape(dir, ev.Opcode)
	if kind := KindOf(ev.Payload); !shape.Request.Has(kind) {
		return &ProtocolError{Direction: dir, Opcode: ev.Opcode, Got: kind, Want: shape.Request}
	}
	return nil
}

// ValidateResponse checks the payload of the result for opcode.
func (r *Registry) ValidateResponse(dir Direction, opcode int32, res *EventResult) error {
	shape := r.Shape(dir, opcode)
	if kind := KindOf(res.Payload); !shape.Response.Has(kind) {
		return &ProtocolError{Direction: dir, Opcode: opcode, Response: true, Got: kind, Want: shape.Response}
	}
	return nil
}

// MustValidateRequest panics with a *ProtocolError on mismatch.
func (r *Registry) MustValidateRequest(dir Direction, ev *Event) {
	if err := r.ValidateRequest(dir, ev); err != nil {
		panic(err)
	}
}

// MustValidateResponse panics with a *ProtocolError on mismatch.
func (r *Registry) MustValidateResponse(dir Direction, opcode int32, res *EventResult) {
	if err := r.ValidateResponse(dir, opcode, res); err != nil {
		panic(err)
	}
}

var (
	none        = Kinds(KindNone)
	wantsString = Shape{Request: Kinds(KindWantsString), Response: Kinds(KindString)}
	noData      = Shape{Request: none, Response: none}
)

// DefaultRegistry returns the shapes of the VST2 opcodes the bridge treats
// specially.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, op := range []int32{
		EffOpen, EffClose, EffSetProgram, EffGetProgram, EffSetSampleRate,
		EffSetBlockSize, EffEditClose, EffEditIdle, EffEditTop,
		EffSetProcessPrecision, EffStartProcess, EffStopProcess,
		EffBeginSetProgram, EffEndSetProgram, EffGetVendorVersion,
		EffGetVstVersion, EffGetTailSize, EffGetPlugCategory, EffSetBypass,
	} {
		r.Register(Dispatch, op, noData)
	}
	for _, op := range []int32{
		EffGetProgramName, EffGetParamLabel, EffGetParamDisplay, EffGetParamName,
		EffGetEffectName, EffGetVendorString, EffGetProductString,
	} {
		r.Register(Dispatch, op, wantsString)
	}
	r.Register(Dispatch, EffSetProgramName, Shape{Request: Kinds(KindString), Response: none})
	r.Register(Dispatch, EffCanDo, Shape{Request: Kinds(KindString), Response: none})
	r.Register(Dispatch, EffMainsChanged, Shape{Request: none, Response: Kinds(KindNone, KindBufferConfig)})
	r.Register(Dispatch, EffEditGetRect, Shape{Request: none, Response: Kinds(KindNone, KindRect)})
	r.Register(Dispatch, EffEditOpen, Shape{Request: Kinds(KindNumeric), Response: none})
	r.Register(Dispatch, EffGetChunk, Shape{Request: Kinds(KindWantsChunk), Response: Kinds(KindChunk)})
	r.Register(Dispatch, EffSetChunk, Shape{Request: Kinds(KindChunk), Response: none})
	r.Register(Dispatch, EffProcessEvents, Shape{Request: Kinds(KindEvents), Response: none})

	for _, op := range []int32{
		AudioMasterAutomate, AudioMasterVersion, AudioMasterCurrentID,
		AudioMasterIdle, AudioMasterWantMidi, AudioMasterSizeWindow,
		AudioMasterGetSampleRate, AudioMasterGetBlockSize,
		AudioMasterGetInputLatency, AudioMasterGetOutputLatency,
		AudioMasterGetCurrentProcessLevel, AudioMasterGetAutomationState,
		AudioMasterGetVendorVersion, AudioMasterGetLanguage,
		AudioMasterUpdateDisplay, AudioMasterBeginEdit, AudioMasterEndEdit,
		AudioMasterDeadBeef,
	} {
		r.Register(Callback, op, noData)
	}
	r.Register(Callback, AudioMasterGetTime, Shape{Request: Kinds(KindWantsTimeInfo), Response: Kinds(KindNone, KindTimeInfo)})
	r.Register(Callback, AudioMasterIOChanged, Shape{Request: Kinds(KindDescriptor), Response: none})
	r.Register(Callback, AudioMasterProcessEvents, Shape{Request: Kinds(KindEvents), Response: none})
	r.Register(Callback, AudioMasterGetVendorString, wantsString)
	r.Register(Callback, AudioMasterGetProductString, wantsString)
	r.Register(Callback, AudioMasterCanDo, Shape{Request: Kinds(KindString), Response: none})

	return r
}
