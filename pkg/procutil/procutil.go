// Package procutil has the small process level helpers both sides of the
// bridge share.
package procutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// NoWatchdogEnv disables the watchdog when set to "1". This is needed when
// the surrogate runs in a different pid namespace than the host.
const NoWatchdogEnv = "VST_BRIDGE_NO_WATCHDOG"

// WatchdogDisabled reports whether NoWatchdogEnv is set.
func WatchdogDisabled() bool {
	return os.Getenv(NoWatchdogEnv) == "1"
}

// TemporaryDirectory returns $XDG_RUNTIME_DIR, or the OS temp directory when
// that is not set.
func TemporaryDirectory() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// EndpointBaseDir returns a fresh directory path for the sockets of one
// bridge instance. The directory is not created.
func EndpointBaseDir(pluginName string) (string, error) {
	var id [4]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", fmt.Errorf("failed to generate endpoint id: %w", err)
	}
	name := unsafeChars.ReplaceAllString(pluginName, "_")
	return filepath.Join(TemporaryDirectory(), fmt.Sprintf("vst-bridge-%s-%s", name, hex.EncodeToString(id[:]))), nil
}
