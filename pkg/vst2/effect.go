//go:build cgo

package vst2

/*
#include <stdlib.h>
#include "aeffect.h"
*/
import "C"

import (
	"runtime"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// stringBufferSize is the size of the zeroed buffer handed to dispatcher
// calls that write a string.
const stringBufferSize = 1024

var (
	effectsMu sync.Mutex
	effects   = make(map[*C.AEffect]*effect)
)

type effect struct {
	ptr *C.AEffect

	inputs  pointerArray
	outputs pointerArray

	// timeInfo backs the pointer returned from audioMasterGetTime. It
	// stays valid until the next call.
	timeInfo *C.VstTimeInfo
}

// wrap returns the single wrapper of ptr, so per effect C allocations are
// shared between dispatcher calls and host callbacks.
func wrap(ptr *C.AEffect) *effect {
	effectsMu.Lock()
	defer effectsMu.Unlock()
	if e, ok := effects[ptr]; ok {
		return e
	}
	e := &effect{ptr: ptr}
	effects[ptr] = e
	return e
}

func (e *effect) forget() {
	effectsMu.Lock()
	delete(effects, e.ptr)
	effectsMu.Unlock()

	e.inputs.free()
	e.outputs.free()
	if e.timeInfo != nil {
		C.free(unsafe.Pointer(e.timeInfo))
		e.timeInfo = nil
	}
}

func (e *effect) Descriptor() wire.Descriptor {
	p := e.ptr
	return wire.Descriptor{
		Magic:        int32(p.magic),
		NumPrograms:  int32(p.numPrograms),
		NumParams:    int32(p.numParams),
		NumInputs:    int32(p.numInputs),
		NumOutputs:   int32(p.numOutputs),
		Flags:        int32(p.flags),
		InitialDelay: int32(p.initialDelay),
		UniqueID:     int32(p.uniqueID),
		Version:      int32(p.version),
	}
}

func (e *effect) dispatch(ev *wire.Event, data unsafe.Pointer) int64 {
	return int64(C.vst2Dispatch(e.ptr, C.int32_t(ev.Opcode), C.int32_t(ev.Index),
		C.intptr_t(ev.Value), data, C.float(ev.Option)))
}

func (e *effect) Dispatch(ev *wire.Event) *wire.EventResult {
	res := &wire.EventResult{Payload: wire.None{}}

	switch p := ev.Payload.(type) {
	case wire.Numeric:
		// window handles and other integers smuggled through the pointer
		res.ReturnValue = int64(C.vst2DispatchHandle(e.ptr, C.int32_t(ev.Opcode), C.int32_t(ev.Index),
			C.intptr_t(ev.Value), C.uintptr_t(p), C.float(ev.Option)))
	case wire.String:
		s := C.CString(string(p))
		defer C.free(unsafe.Pointer(s))
		res.ReturnValue = e.dispatch(ev, unsafe.Pointer(s))
	case wire.WantsString:
		buf := C.calloc(1, stringBufferSize)
		defer C.free(buf)
		res.ReturnValue = e.dispatch(ev, buf)
		res.Payload = wire.String(C.GoStringN((*C.char)(buf), C.int(cStringLen(buf, stringBufferSize))))
	case wire.Chunk:
		data := C.CBytes(p)
		defer C.free(data)
		res.ReturnValue = e.dispatch(ev, data)
	case wire.WantsChunk:
		var chunk unsafe.Pointer
		res.ReturnValue = e.dispatch(ev, unsafe.Pointer(&chunk))
		if chunk != nil && res.ReturnValue > 0 {
			res.Payload = wire.Chunk(C.GoBytes(chunk, C.int(res.ReturnValue)))
		} else {
			res.Payload = wire.Chunk{}
		}
	case wire.Struct:
		data := C.calloc(1, C.size_t(max(len(p.Data), 1)))
		defer C.free(data)
		copy(unsafe.Slice((*byte)(data), len(p.Data)), p.Data)
		res.ReturnValue = e.dispatch(ev, data)
		res.Payload = wire.Struct{Type: p.Type, Data: C.GoBytes(data, C.int(len(p.Data)))}
	case wire.Rect:
		rect := (*C.ERect)(C.calloc(1, C.sizeof_ERect))
		defer C.free(unsafe.Pointer(rect))
		rect.top, rect.left = C.int16_t(p.Top), C.int16_t(p.Left)
		rect.bottom, rect.right = C.int16_t(p.Bottom), C.int16_t(p.Right)
		res.ReturnValue = e.dispatch(ev, unsafe.Pointer(rect))
	case wire.Events:
		r := e.RetainEvents(p)
		defer r.Release()
		res.ReturnValue = e.ProcessEvents(r)
	default:
		if ev.Opcode == wire.EffEditGetRect {
			var rect *C.ERect
			res.ReturnValue = e.dispatch(ev, unsafe.Pointer(&rect))
			if rect != nil {
				res.Payload = wire.Rect{
					Top:    int16(rect.top),
					Left:   int16(rect.left),
					Bottom: int16(rect.bottom),
					Right:  int16(rect.right),
				}
			}
			break
		}
		res.ReturnValue = e.dispatch(ev, nil)
	}

	if ev.Opcode == wire.EffClose {
		e.forget()
	}
	return res
}

func cStringLen(p unsafe.Pointer, limit int) int {
	b := unsafe.Slice((*byte)(p), limit)
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return limit
}

type retained struct {
	list *C.VstEvents
	once sync.Once
}

func (r *retained) Release() {
	r.once.Do(func() { C.vst2FreeEvents(r.list) })
}

func (e *effect) RetainEvents(events wire.Events) Retained {
	list := C.vst2AllocEvents(C.int32_t(len(events)))
	for i, m := range events {
		var ev unsafe.Pointer
		if m.Type == wire.SysExEventType {
			sysex := (*C.VstMidiSysexEvent)(C.calloc(1, C.sizeof_VstMidiSysexEvent))
			sysex._type = C.int32_t(m.Type)
			sysex.byteSize = C.int32_t(C.sizeof_VstMidiSysexEvent)
			sysex.deltaFrames = C.int32_t(m.DeltaFrames)
			sysex.flags = C.int32_t(m.Flags)
			sysex.dumpBytes = C.int32_t(len(m.Data))
			sysex.sysexDump = (*C.char)(C.CBytes(m.Data))
			ev = unsafe.Pointer(sysex)
		} else {
			midi := (*C.VstMidiEvent)(C.calloc(1, C.sizeof_VstMidiEvent))
			midi._type = C.int32_t(m.Type)
			midi.byteSize = C.int32_t(C.sizeof_VstMidiEvent)
			midi.deltaFrames = C.int32_t(m.DeltaFrames)
			midi.flags = C.int32_t(m.Flags)
			midi.noteLength = C.int32_t(m.NoteLength)
			midi.noteOffset = C.int32_t(m.NoteOffset)
			for j := 0; j < len(m.Data) && j < len(midi.midiData); j++ {
				midi.midiData[j] = C.char(m.Data[j])
			}
			midi.detune = C.char(m.Detune)
			midi.noteOffVelocity = C.char(m.NoteOffVelocity)
			ev = unsafe.Pointer(midi)
		}
		C.vst2SetEvent(list, C.int32_t(i), (*C.VstEvent)(ev))
	}
	return &retained{list: list}
}

func (e *effect) ProcessEvents(r Retained) int64 {
	list := r.(*retained).list
	return e.dispatch(&wire.Event{Opcode: wire.EffProcessEvents}, unsafe.Pointer(list))
}

// readEvents converts a VstEvents list passed by a plugin.
func readEvents(list *C.VstEvents) wire.Events {
	if list == nil {
		return wire.Events{}
	}
	events := make(wire.Events, 0, int(list.numEvents))
	for i := C.int32_t(0); i < list.numEvents; i++ {
		ev := C.vst2GetEvent(list, i)
		if ev == nil {
			continue
		}
		m := wire.MidiEvent{
			Type:        int32(ev._type),
			DeltaFrames: int32(ev.deltaFrames),
			Flags:       int32(ev.flags),
		}
		if m.Type == wire.SysExEventType {
			sysex := (*C.VstMidiSysexEvent)(unsafe.Pointer(ev))
			m.Data = C.GoBytes(unsafe.Pointer(sysex.sysexDump), C.int(sysex.dumpBytes))
		} else {
			midi := (*C.VstMidiEvent)(unsafe.Pointer(ev))
			m.NoteLength = int32(midi.noteLength)
			m.NoteOffset = int32(midi.noteOffset)
			m.Data = C.GoBytes(unsafe.Pointer(&midi.midiData[0]), C.int(len(midi.midiData)))
			m.Detune = int8(midi.detune)
			m.NoteOffVelocity = uint8(midi.noteOffVelocity)
		}
		events = append(events, m)
	}
	return events
}

func (e *effect) GetParameter(index int32) float32 {
	return float32(C.vst2GetParameter(e.ptr, C.int32_t(index)))
}

func (e *effect) SetParameter(index int32, value float32) {
	C.vst2SetParameter(e.ptr, C.int32_t(index), C.float(value))
}

func (e *effect) CanProcessReplacing() bool {
	return e.ptr.processReplacing != nil
}

func (e *effect) ProcessReplacing(inputs, outputs [][]float32, frames int32) {
	e.process(e.ptr.processReplacing, inputs, outputs, frames)
}

func (e *effect) Process(inputs, outputs [][]float32, frames int32) {
	e.process(e.ptr.process, inputs, outputs, frames)
}

func (e *effect) process(proc C.ProcessProc, inputs, outputs [][]float32, frames int32) {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	in := fillChannels(&pinner, &e.inputs, inputs)
	out := fillChannels(&pinner, &e.outputs, outputs)
	C.vst2Process(proc, e.ptr, (**C.float)(in), (**C.float)(out), C.int32_t(frames))
}

func (e *effect) ProcessDoubleReplacing(inputs, outputs [][]float64, frames int32) {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	in := fillChannels(&pinner, &e.inputs, inputs)
	out := fillChannels(&pinner, &e.outputs, outputs)
	C.vst2ProcessDouble(e.ptr, (**C.double)(in), (**C.double)(out), C.int32_t(frames))
}

func (e *effect) Register(v any) {
	magic := RegistrationMagic
	e.ptr.resvd1 = C.intptr_t(cgo.NewHandle(v))
	e.ptr.resvd2 = C.intptr_t(magic)
}

func (e *effect) Registered() (any, bool) {
	if uintptr(e.ptr.resvd2) != RegistrationMagic {
		return nil, false
	}
	return cgo.Handle(e.ptr.resvd1).Value(), true
}

func (e *effect) Unregister() {
	if uintptr(e.ptr.resvd2) != RegistrationMagic {
		return
	}
	cgo.Handle(e.ptr.resvd1).Delete()
	e.ptr.resvd1 = 0
	e.ptr.resvd2 = 0
}

// storeTimeInfo copies ti into the effect's time info storage and returns a
// pointer the plugin may read until the next audioMasterGetTime call.
func (e *effect) storeTimeInfo(ti wire.TimeInfo) unsafe.Pointer {
	if e.timeInfo == nil {
		e.timeInfo = (*C.VstTimeInfo)(C.calloc(1, C.sizeof_VstTimeInfo))
	}
	t := e.timeInfo
	t.samplePos = C.double(ti.SamplePos)
	t.sampleRate = C.double(ti.SampleRate)
	t.nanoSeconds = C.double(ti.NanoSeconds)
	t.ppqPos = C.double(ti.PpqPos)
	t.tempo = C.double(ti.Tempo)
	t.barStartPos = C.double(ti.BarStartPos)
	t.cycleStartPos = C.double(ti.CycleStartPos)
	t.cycleEndPos = C.double(ti.CycleEndPos)
	t.timeSigNumerator = C.int32_t(ti.TimeSigNumerator)
	t.timeSigDenominator = C.int32_t(ti.TimeSigDenominator)
	t.smpteOffset = C.int32_t(ti.SmpteOffset)
	t.smpteFrameRate = C.int32_t(ti.SmpteFrameRate)
	t.samplesToNextClock = C.int32_t(ti.SamplesToNextClock)
	t.flags = C.int32_t(ti.Flags)
	return unsafe.Pointer(t)
}

// pointerArray is a C allocated array of channel pointers reused across
// audio blocks.
type pointerArray struct {
	ptr unsafe.Pointer
	n   int
}

func (a *pointerArray) slots(n int) []unsafe.Pointer {
	n = max(n, 1)
	if n > a.n {
		a.free()
		a.ptr = C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(uintptr(0))))
		a.n = n
	}
	return unsafe.Slice((*unsafe.Pointer)(a.ptr), n)
}

func (a *pointerArray) free() {
	if a.ptr != nil {
		C.free(a.ptr)
		a.ptr, a.n = nil, 0
	}
}

func fillChannels[T float32 | float64](pinner *runtime.Pinner, arr *pointerArray, channels [][]T) unsafe.Pointer {
	slots := arr.slots(len(channels))
	for i := range slots {
		slots[i] = nil
	}
	for i, ch := range channels {
		if len(ch) == 0 {
			continue
		}
		pinner.Pin(&ch[0])
		slots[i] = unsafe.Pointer(&ch[0])
	}
	return arr.ptr
}
