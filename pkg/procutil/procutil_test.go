package procutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPIDRunning(t *testing.T) {
	require.True(t, PIDRunning(os.Getpid()))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	require.False(t, PIDRunning(pid))
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv(NoWatchdogEnv, "")
	require.False(t, WatchdogDisabled())
	t.Setenv(NoWatchdogEnv, "true")
	require.False(t, WatchdogDisabled())
	t.Setenv(NoWatchdogEnv, "1")
	require.True(t, WatchdogDisabled())
}

func TestEndpointBaseDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	a, err := EndpointBaseDir("My Synth (x64)")
	require.NoError(t, err)
	b, err := EndpointBaseDir("My Synth (x64)")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Equal(t, "/run/user/1000", filepath.Dir(a))
	require.True(t, strings.HasPrefix(filepath.Base(a), "vst-bridge-My_Synth_x64_-"), a)
}
