package endpoint

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func testingEventPair(t *testing.T) (*EventEndpoint, *EventEndpoint, func()) {
	t.Helper()

	logger := testingLogger(t)
	registry := wire.DefaultRegistry()
	path := filepath.Join(t.TempDir(), "dispatch.sock")

	server, err := ListenEvents(path, wire.Dispatch, registry, logger.Named("server"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialEvents(ctx, path, wire.Dispatch, registry, logger.Named("client"))
	require.NoError(t, err)

	cleanup := func() {
		require.NoError(t, client.Close())
		require.NoError(t, server.Close())
	}
	return server, client, cleanup
}

func TestAdhocConnectionWhenPrimaryBusy(t *testing.T) {
	server, client, cleanup := testingEventPair(t)
	defer cleanup()

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- server.ReceiveEvents(func(ev *wire.Event, onPrimary bool) *wire.EventResult {
			switch ev.Opcode {
			case wire.EffSetChunk:
				require.True(t, onPrimary)
				close(entered)
				<-release
				return &wire.EventResult{ReturnValue: 1}
			case wire.EffGetProgram:
				require.False(t, onPrimary)
				return &wire.EventResult{ReturnValue: 7}
			}
			return &wire.EventResult{}
		})
	}()

	setChunk := make(chan *wire.EventResult, 1)
	go func() {
		res, err := client.SendEvent(&wire.Event{Opcode: wire.EffSetChunk, Payload: wire.Chunk{1, 2, 3}})
		require.NoError(t, err)
		setChunk <- res
	}()
	<-entered

	// The primary connection is blocked inside effSetChunk.
	res, err := client.SendEvent(&wire.Event{Opcode: wire.EffGetProgram})
	require.NoError(t, err)
	require.Equal(t, int64(7), res.ReturnValue)

	close(release)
	require.Equal(t, int64(1), (<-setChunk).ReturnValue)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}

func TestSendEventRejectsMismatchedPayload(t *testing.T) {
	_, client, cleanup := testingEventPair(t)
	defer cleanup()

	require.PanicsWithError(t,
		(&wire.ProtocolError{Direction: wire.Dispatch, Opcode: wire.EffGetChunk, Got: wire.KindString, Want: wire.Kinds(wire.KindWantsChunk)}).Error(),
		func() {
			_, _ = client.SendEvent(&wire.Event{Opcode: wire.EffGetChunk, Payload: wire.String("oops")})
		})
}

func TestEventOrderOnPrimary(t *testing.T) {
	server, client, cleanup := testingEventPair(t)
	defer cleanup()

	var mu sync.Mutex
	var seen []int32
	go func() {
		_ = server.ReceiveEvents(func(ev *wire.Event, onPrimary bool) *wire.EventResult {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Index)
			return &wire.EventResult{ReturnValue: int64(ev.Index)}
		})
	}()

	for i := int32(0); i < 50; i++ {
		res, err := client.SendEvent(&wire.Event{Opcode: wire.EffSetProgram, Index: i})
		require.NoError(t, err)
		require.Equal(t, int64(i), res.ReturnValue)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, idx := range seen {
		require.Equal(t, int32(i), idx)
	}
}

func TestSetConnect(t *testing.T) {
	logger := testingLogger(t)
	registry := wire.DefaultRegistry()
	dir := filepath.Join(t.TempDir(), "instance")

	host := NewSet(dir, Host, registry, logger)
	surrogate := NewSet(dir, Surrogate, registry, logger)
	require.NoError(t, host.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connected := make(chan error, 1)
	go func() { connected <- surrogate.Connect(ctx) }()
	require.NoError(t, <-connected)
	require.NoError(t, host.Connect(ctx))

	go func() {
		_ = host.Callback.ReceiveEvents(func(ev *wire.Event, _ bool) *wire.EventResult {
			return &wire.EventResult{ReturnValue: 2400}
		})
	}()
	res, err := surrogate.Callback.SendEvent(&wire.Event{Opcode: wire.AudioMasterVersion})
	require.NoError(t, err)
	require.Equal(t, int64(2400), res.ReturnValue)

	require.NoError(t, surrogate.Control.Send(&wire.Ack{}))
	require.NoError(t, host.Control.Receive(&wire.Ack{}))

	require.NoError(t, surrogate.Close())
	require.NoError(t, host.Close())
	require.NoDirExists(t, dir)
}
