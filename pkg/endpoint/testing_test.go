package endpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testingLogger(t *testing.T) *zap.Logger {
	t.Helper()

	if os.Getenv("DEBUG") != "true" {
		return zap.NewNop()
	}
	conf := zap.NewDevelopmentConfig()
	if len(os.Getenv("LOGFILE")) > 0 {
		conf.OutputPaths = []string{os.Getenv("LOGFILE")}
	}
	logger, err := conf.Build()
	require.NoError(t, err)
	return logger
}

// testingEndpointPair returns a listening and a dialed endpoint connected to
// each other, and a function closing both.
func testingEndpointPair(t *testing.T, logger *zap.Logger) (*Endpoint, *Endpoint, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sock")
	server, err := Listen(path, logger.Named("server"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, path, logger.Named("client"))
	require.NoError(t, err)

	close := func() {
		require.NoError(t, client.Close())
		require.NoError(t, server.Close())
	}
	return server, client, close
}
