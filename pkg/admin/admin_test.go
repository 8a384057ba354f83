package admin

import (
	"context"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func testingLogger(t *testing.T) *zap.Logger {
	t.Helper()
	if os.Getenv("DEBUG") == "true" {
		logger, err := zap.NewDevelopment()
		require.NoError(t, err)
		return logger
	}
	return zap.NewNop()
}

func testingHealthClient(t *testing.T, baseDir string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("unix://"+SocketPath(baseDir), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := Listen(dir, testingLogger(t))
	require.NoError(t, err)

	client := testingHealthClient(t, dir)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, res.Status)

	s.SetServing()
	res, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, res.Status)

	require.NoError(t, s.Close())
	_, err = os.Stat(SocketPath(dir))
	require.True(t, os.IsNotExist(err))
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(SocketPath(dir), nil, 0600))
	s, err := Listen(dir, testingLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(wire.Dispatch, wire.EffOpen, time.Millisecond, false)
	m.ObserveEvent(wire.Callback, wire.AudioMasterGetTime, 0, true)
	m.ObserveEvent(wire.Callback, wire.AudioMasterGetTime, 0, true)
	m.ObserveBlock(128, false, time.Millisecond)
	m.ObserveBlock(64, true, time.Millisecond)
	m.ObservePriority(30, true)
	m.ObservePriority(99, false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.cachedAnswers.WithLabelValues("audioMasterGetTime")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.blocks.WithLabelValues("single")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.blocks.WithLabelValues("double")))
	require.Equal(t, 64.0, testutil.ToFloat64(m.blockFrames))
	require.Equal(t, 30.0, testutil.ToFloat64(m.priority))
	require.Equal(t, 1.0, testutil.ToFloat64(m.priorityFails))
	require.Equal(t, 1, testutil.CollectAndCount(m.events))
}

func TestServeMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveBlock(32, false, time.Millisecond)
	s, err := ServeMetrics("127.0.0.1:0", m, testingLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	get := func(path string) string {
		res, err := http.Get("http://" + s.Addr() + path)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return string(body)
	}
	require.Equal(t, "ok\n", get("/healthz"))
	require.Contains(t, get("/metrics"), "vst_bridge_audio_blocks_total")
}
