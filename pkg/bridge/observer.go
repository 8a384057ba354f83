package bridge

import (
	"time"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// Observer receives timing information about an instance. Implementations
// must be safe for concurrent use and cheap enough for the audio thread.
type Observer interface {
	ObserveEvent(dir wire.Direction, opcode int32, d time.Duration, cached bool)
	ObserveBlock(frames int32, doublePrecision bool, d time.Duration)
	ObservePriority(priority int32, ok bool)
}

type nopObserver struct{}

func (nopObserver) ObserveEvent(wire.Direction, int32, time.Duration, bool) {}
func (nopObserver) ObserveBlock(int32, bool, time.Duration)                 {}
func (nopObserver) ObservePriority(int32, bool)                             {}
