//go:build cgo

package vst2

/*
#include "aeffect.h"
*/
import "C"

import (
	"unsafe"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

//export goHostCallback
func goHostCallback(ptr *C.AEffect, opcode, index C.int32_t, value C.intptr_t, data unsafe.Pointer, option C.float) C.intptr_t {
	cb := hostCallback.Load()
	if cb == nil {
		return 0
	}

	var (
		e   *effect
		eff Effect
	)
	if ptr != nil {
		e = wrap(ptr)
		eff = e
	}

	ev := &wire.Event{
		Opcode:  int32(opcode),
		Index:   int32(index),
		Value:   int64(value),
		Payload: readCallbackData(e, int32(opcode), data),
		Option:  float32(option),
	}
	res := (*cb)(eff, ev)
	if res == nil {
		return 0
	}
	return C.intptr_t(writeCallbackResult(e, ev.Opcode, data, res))
}

func readCallbackData(e *effect, opcode int32, data unsafe.Pointer) wire.Payload {
	switch opcode {
	case wire.AudioMasterGetTime:
		return wire.WantsTimeInfo{}
	case wire.AudioMasterIOChanged:
		if e == nil {
			return wire.Descriptor{}
		}
		return e.Descriptor()
	case wire.AudioMasterProcessEvents:
		return readEvents((*C.VstEvents)(data))
	case wire.AudioMasterGetVendorString, wire.AudioMasterGetProductString:
		return wire.WantsString{}
	case wire.AudioMasterAutomate, wire.AudioMasterVersion, wire.AudioMasterCurrentID,
		wire.AudioMasterIdle, wire.AudioMasterWantMidi, wire.AudioMasterSizeWindow,
		wire.AudioMasterGetSampleRate, wire.AudioMasterGetBlockSize,
		wire.AudioMasterGetInputLatency, wire.AudioMasterGetOutputLatency,
		wire.AudioMasterGetCurrentProcessLevel, wire.AudioMasterGetAutomationState,
		wire.AudioMasterGetVendorVersion, wire.AudioMasterGetLanguage,
		wire.AudioMasterUpdateDisplay, wire.AudioMasterBeginEdit,
		wire.AudioMasterEndEdit, wire.AudioMasterDeadBeef:
		// some plugins pass garbage through data for these
		return wire.None{}
	}

	if data == nil {
		return wire.None{}
	}
	// a zeroed buffer means the plugin expects a string back
	if *(*byte)(data) == 0 {
		return wire.WantsString{}
	}
	return wire.String(C.GoString((*C.char)(data)))
}

func writeCallbackResult(e *effect, opcode int32, data unsafe.Pointer, res *wire.EventResult) uintptr {
	if opcode == wire.AudioMasterGetTime {
		ti, ok := res.Payload.(wire.TimeInfo)
		if !ok || e == nil {
			return 0
		}
		return uintptr(e.storeTimeInfo(ti))
	}

	if s, ok := res.Payload.(wire.String); ok && data != nil {
		dst := unsafe.Slice((*byte)(data), len(s)+1)
		copy(dst, s)
		dst[len(s)] = 0
	}
	return uintptr(res.ReturnValue)
}
