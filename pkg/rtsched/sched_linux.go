package rtsched

import "golang.org/x/sys/unix"

// rlimitRTTime is RLIMIT_RTTIME.
const rlimitRTTime = 15

// CurrentPriority returns the SCHED_FIFO or SCHED_RR priority of the calling
// thread. The second value is false for non-realtime threads.
func CurrentPriority() (int, bool) {
	attr, err := unix.SchedGetAttr(0, 0)
	if err != nil || attr.Priority == 0 {
		return 0, false
	}
	return int(attr.Priority), true
}

// SetPriority switches the calling thread to SCHED_FIFO with the given
// priority, or back to SCHED_OTHER. Missing privileges are not an error;
// the result only reports success.
func SetPriority(fifo bool, priority int) bool {
	attr := unix.SchedAttr{Size: unix.SizeofSchedAttr, Policy: unix.SCHED_NORMAL}
	if fifo {
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = uint32(priority)
	}
	return unix.SchedSetAttr(0, &attr, 0) == nil
}

// RTTimeLimit returns the soft RLIMIT_RTTIME in microseconds.
func RTTimeLimit() (uint64, bool) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(rlimitRTTime, &lim); err != nil {
		return 0, false
	}
	return lim.Cur, true
}
