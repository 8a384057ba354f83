package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func TestEventLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewEventLogger(zap.New(core))
	require.True(t, l.Enabled())

	l.LogEvent(wire.Callback, &wire.Event{Opcode: wire.AudioMasterGetTime, Payload: wire.WantsTimeInfo{}})
	l.LogResult(wire.Callback, wire.AudioMasterGetTime, &wire.EventResult{Payload: wire.TimeInfo{Tempo: 120}}, true)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "audioMasterGetTime", entries[0].ContextMap()["opcode"])
	require.Equal(t, "wants-time-info", entries[0].ContextMap()["payload"])
	require.Equal(t, true, entries[1].ContextMap()["cached"])
}

func TestEventLoggerDisabled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewEventLogger(zap.New(core))
	require.False(t, l.Enabled())

	l.LogEvent(wire.Dispatch, &wire.Event{Opcode: wire.EffOpen})
	require.Zero(t, logs.Len())
}

func TestNewWritesToLogFile(t *testing.T) {
	path := t.TempDir() + "/bridge.log"
	logger, err := New(true, path)
	require.NoError(t, err)
	logger.Debug("hello")
	require.NoError(t, logger.Sync())
	require.FileExists(t, path)
}
