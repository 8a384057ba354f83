package procutil

import (
	"path/filepath"
	"strconv"
)

// PIDRunning reports whether pid belongs to a live process. A zombie still
// answers to signals, but its /proc/<pid>/exe link no longer resolves.
func PIDRunning(pid int) bool {
	_, err := filepath.EvalSymlinks(filepath.Join("/proc", strconv.Itoa(pid), "exe"))
	return err == nil
}
