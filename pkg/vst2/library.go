//go:build cgo

package vst2

/*
#cgo linux LDFLAGS: -ldl
#include <stdlib.h>
#include <string.h>
#ifdef _WIN32
#include <windows.h>
#else
#include <dlfcn.h>
#endif
#include "aeffect.h"

static intptr_t hostCallback(AEffect* e, int32_t opcode, int32_t index, intptr_t value, void* data, float option) {
	return goHostCallback(e, opcode, index, value, data, option);
}

#ifdef _WIN32
void* vst2Open(const char* path) { return (void*)LoadLibraryA(path); }
const char* vst2Error(void) { return "LoadLibrary failed"; }
void* vst2Symbol(void* lib, const char* name) { return (void*)GetProcAddress((HMODULE)lib, name); }
int vst2Close(void* lib) { return FreeLibrary((HMODULE)lib) ? 0 : -1; }
#else
void* vst2Open(const char* path) { return dlopen(path, RTLD_NOW | RTLD_LOCAL); }
const char* vst2Error(void) {
	const char* err = dlerror();
	return err ? err : "unknown dlopen error";
}
void* vst2Symbol(void* lib, const char* name) { return dlsym(lib, name); }
int vst2Close(void* lib) { return dlclose(lib); }
#endif

AEffect* vst2CallEntry(void* entry) {
	return ((AEffect * (*)(HostCallbackProc)) entry)(hostCallback);
}

intptr_t vst2Dispatch(AEffect* e, int32_t opcode, int32_t index, intptr_t value, void* data, float option) {
	return e->dispatcher(e, opcode, index, value, data, option);
}

intptr_t vst2DispatchHandle(AEffect* e, int32_t opcode, int32_t index, intptr_t value, uintptr_t data, float option) {
	return e->dispatcher(e, opcode, index, value, (void*)data, option);
}

float vst2GetParameter(AEffect* e, int32_t index) { return e->getParameter(e, index); }

void vst2SetParameter(AEffect* e, int32_t index, float value) { e->setParameter(e, index, value); }

void vst2Process(ProcessProc proc, AEffect* e, float** inputs, float** outputs, int32_t frames) {
	if (proc) {
		proc(e, inputs, outputs, frames);
	}
}

void vst2ProcessDouble(AEffect* e, double** inputs, double** outputs, int32_t frames) {
	if (e->processDoubleReplacing) {
		e->processDoubleReplacing(e, inputs, outputs, frames);
	}
}

VstEvents* vst2AllocEvents(int32_t n) {
	VstEvents* events = calloc(1, sizeof(VstEvents) + (size_t)n * sizeof(VstEvent*));
	events->numEvents = n;
	return events;
}

void vst2SetEvent(VstEvents* events, int32_t i, VstEvent* ev) { events->events[i] = ev; }

VstEvent* vst2GetEvent(VstEvents* events, int32_t i) { return events->events[i]; }

void vst2FreeEvents(VstEvents* events) {
	for (int32_t i = 0; i < events->numEvents; i++) {
		VstEvent* ev = events->events[i];
		if (ev && ev->type == 6) {
			free(((VstMidiSysexEvent*)ev)->sysexDump);
		}
		free(ev);
	}
	free(events);
}
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

var hostCallback atomic.Pointer[HostCallback]

type library struct {
	path   string
	handle unsafe.Pointer
}

// Open loads the plugin library at path.
func Open(path string) (Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.vst2Open(cpath)
	if handle == nil {
		return nil, fmt.Errorf("load %s: %s", path, C.GoString(C.vst2Error()))
	}
	return &library{path: path, handle: handle}, nil
}

func (l *library) Lookup(symbol string) (EntryPoint, bool) {
	csym := C.CString(symbol)
	defer C.free(unsafe.Pointer(csym))

	sym := C.vst2Symbol(l.handle, csym)
	if sym == nil {
		return nil, false
	}
	return entryPoint{sym}, true
}

func (l *library) Close() error {
	if C.vst2Close(l.handle) != 0 {
		return fmt.Errorf("unload %s: %s", l.path, C.GoString(C.vst2Error()))
	}
	return nil
}

type entryPoint struct {
	fn unsafe.Pointer
}

// Call installs cb as the process wide host callback and instantiates the
// plugin. Every plugin loaded by the process shares the same callback.
func (e entryPoint) Call(cb HostCallback) Effect {
	hostCallback.Store(&cb)
	ptr := C.vst2CallEntry(e.fn)
	if ptr == nil {
		return nil
	}
	return wrap(ptr)
}
