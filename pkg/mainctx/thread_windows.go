package mainctx

import (
	"github.com/JamesHovious/w32"
	"golang.org/x/sys/windows"
)

func threadID() int {
	return int(windows.GetCurrentThreadId())
}

// pumpMessages dispatches the pending window messages of the GUI thread
// without blocking the work queue.
func pumpMessages() {
	var msg w32.MSG
	for w32.PeekMessage(&msg, 0, 0, 0, w32.PM_REMOVE) {
		w32.TranslateMessage(&msg)
		w32.DispatchMessage(&msg)
	}
}
