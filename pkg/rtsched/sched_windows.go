package rtsched

import "golang.org/x/sys/windows"

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procGetThreadPriority = kernel32.NewProc("GetThreadPriority")
	procSetThreadPriority = kernel32.NewProc("SetThreadPriority")
)

const (
	threadPriorityNormal       = 0
	threadPriorityTimeCritical = 15
)

// CurrentPriority maps THREAD_PRIORITY_TIME_CRITICAL to DefaultPriority.
// Windows has no numeric realtime levels to mirror.
func CurrentPriority() (int, bool) {
	prio, _, _ := procGetThreadPriority.Call(uintptr(windows.CurrentThread()))
	if int32(prio) != threadPriorityTimeCritical {
		return 0, false
	}
	return DefaultPriority, true
}

// SetPriority makes the calling thread time critical, or normal again.
func SetPriority(fifo bool, priority int) bool {
	prio := threadPriorityNormal
	if fifo {
		prio = threadPriorityTimeCritical
	}
	ok, _, _ := procSetThreadPriority.Call(uintptr(windows.CurrentThread()), uintptr(prio))
	return ok != 0
}

// RTTimeLimit is not available on Windows.
func RTTimeLimit() (uint64, bool) {
	return 0, false
}
