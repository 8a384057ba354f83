// Command plugin is built with -buildmode=c-shared and linked into the thin
// C plugin the DAW loads. Every AEffect created by that plugin gets a bridge
// session driving a surrogate process through a proxy.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/logging"
	"github.com/n0izn0iz/vst-bridge/pkg/procutil"
	"github.com/n0izn0iz/vst-bridge/pkg/proxy"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// HostBinaryEnv overrides the surrogate binary looked up in PATH.
const HostBinaryEnv = "VST_BRIDGE_HOST"

type session struct {
	p      *proxy.Proxy
	cmd    *exec.Cmd
	logger *zap.Logger

	in32, out32 [][]float32
	in64, out64 [][]float64
}

type registry struct {
	mu       sync.Mutex
	sessions map[uintptr]*session
}

func (r *registry) add(cplug uintptr, s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[cplug]; ok {
		return fmt.Errorf("bridge already allocated for %#x", cplug)
	}
	r.sessions[cplug] = s
	return nil
}

func (r *registry) get(cplug uintptr) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[cplug]
	return s, ok
}

func (r *registry) remove(cplug uintptr) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[cplug]
	delete(r.sessions, cplug)
	return s, ok
}

var bridges = &registry{sessions: make(map[uintptr]*session)}

func newLogger() *zap.Logger {
	logger, err := logging.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init zap logger:", err)
		return zap.NewNop()
	}
	return logger
}

// hostCallback answers the plugin on behalf of a DAW that is not reachable
// from Go.
func hostCallback(ev *wire.Event) *wire.EventResult {
	switch ev.Opcode {
	case wire.AudioMasterVersion:
		return &wire.EventResult{ReturnValue: 2400}
	case wire.AudioMasterGetCurrentProcessLevel:
		return &wire.EventResult{ReturnValue: 2}
	}
	return nil
}

func hostBinary() string {
	if bin := os.Getenv(HostBinaryEnv); bin != "" {
		return bin
	}
	return "vst-bridge-host"
}

func startSession(pluginPath string, logger *zap.Logger) (*session, error) {
	baseDir, err := procutil.EndpointBaseDir(filepath.Base(pluginPath))
	if err != nil {
		return nil, err
	}
	p, err := proxy.Listen(proxy.Options{
		BaseDir:      baseDir,
		Config:       wire.Config{FrameRate: 60, CacheTimeInfo: true},
		HostCallback: hostCallback,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(hostBinary(),
		"-plugin-path", pluginPath,
		"-endpoint-base-dir", baseDir,
		"-parent-pid", strconv.Itoa(os.Getpid()))
	cmd.Stdout, cmd.Stderr = os.Stderr, os.Stderr
	if err := cmd.Start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start surrogate: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	return &session{p: p, cmd: cmd, logger: logger}, nil
}

//export NewBridge
func NewBridge(cplug uintptr, pluginPath *C.char) int32 {
	logger := newLogger().With(zap.Uintptr("cplug", cplug))
	logger.Debug("NewBridge")

	s, err := startSession(C.GoString(pluginPath), logger)
	if err != nil {
		logger.Error("failed to start bridge", zap.Error(err))
		return -1
	}
	if err := bridges.add(cplug, s); err != nil {
		logger.Error("failed to register bridge", zap.Error(err))
		s.close()
		return -1
	}
	return 0
}

func (s *session) close() {
	if err := s.p.Close(); err != nil {
		s.logger.Error("failed to close proxy", zap.Error(err))
	}
	if err := s.cmd.Wait(); err != nil {
		s.logger.Warn("surrogate exited", zap.Error(err))
	}
	s.logger.Sync()
}

//export CloseBridge
func CloseBridge(cplug uintptr) {
	s, ok := bridges.remove(cplug)
	if !ok {
		fmt.Fprintln(os.Stderr, "warning: tried to close unallocated bridge", cplug)
		return
	}
	s.logger.Debug("CloseBridge")
	s.close()
}

// Dispatch forwards dispatcher calls that carry no data pointer.
//
//export Dispatch
func Dispatch(cplug uintptr, opcode int32, index int32, value int64, opt float32) int64 {
	s, ok := bridges.get(cplug)
	if !ok {
		return 0
	}
	res, err := s.p.Dispatch(&wire.Event{Opcode: opcode, Index: index, Value: value, Option: opt, Payload: wire.None{}})
	if err != nil {
		s.logger.Error("Dispatch", zap.String("opcode", wire.OpcodeName(wire.Dispatch, opcode)), zap.Error(err))
		return 0
	}
	return res.ReturnValue
}

//export GetParameter
func GetParameter(cplug uintptr, index int32) float32 {
	s, ok := bridges.get(cplug)
	if !ok {
		return 0
	}
	v, err := s.p.GetParameter(index)
	if err != nil {
		s.logger.Error("GetParameter", zap.Error(err))
		return 0
	}
	return v
}

//export SetParameter
func SetParameter(cplug uintptr, index int32, value float32) {
	s, ok := bridges.get(cplug)
	if !ok {
		return
	}
	if err := s.p.SetParameter(index, value); err != nil {
		s.logger.Error("SetParameter", zap.Error(err))
	}
}

// channels views a host's channel pointer array as Go slices, reusing views.
func channels[T float32 | float64](views [][]T, ptrs **T, n int, frames int32) [][]T {
	if cap(views) < n {
		views = make([][]T, n)
	}
	views = views[:n]
	if n == 0 {
		return views
	}
	for ch, p := range unsafe.Slice(ptrs, n) {
		views[ch] = unsafe.Slice(p, frames)
	}
	return views
}

//export ProcessReplacing
func ProcessReplacing(cplug uintptr, inputs **float32, outputs **float32, sampleFrames int32) {
	s, ok := bridges.get(cplug)
	if !ok {
		return
	}
	desc := s.p.Descriptor()
	s.in32 = channels(s.in32, inputs, int(desc.NumInputs), sampleFrames)
	s.out32 = channels(s.out32, outputs, int(desc.NumOutputs), sampleFrames)
	if err := s.p.ProcessFloat32(s.in32, s.out32); err != nil {
		s.logger.Error("ProcessReplacing", zap.Error(err))
	}
}

//export ProcessDoubleReplacing
func ProcessDoubleReplacing(cplug uintptr, inputs **float64, outputs **float64, sampleFrames int32) {
	s, ok := bridges.get(cplug)
	if !ok {
		return
	}
	desc := s.p.Descriptor()
	s.in64 = channels(s.in64, inputs, int(desc.NumInputs), sampleFrames)
	s.out64 = channels(s.out64, outputs, int(desc.NumOutputs), sampleFrames)
	if err := s.p.ProcessFloat64(s.in64, s.out64); err != nil {
		s.logger.Error("ProcessDoubleReplacing", zap.Error(err))
	}
}

func main() {}
