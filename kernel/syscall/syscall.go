// Package syscall implements the system call dispatcher.
package syscall

import (
	"samepage/kernel/klog"
	"samepage/kernel/ksm"
	"samepage/kernel/proc"
)

// Number identifies a system call.
type Number uintptr

// SysKSM runs a samepage merging sweep.
const SysKSM Number = 22

// errReturn is returned to user space by failed system calls.
const errReturn = -1

// FreeFrameCounter reports the number of unallocated physical frames.
type FreeFrameCounter interface {
	FreeFrames() uint32
}

// Services bundles the subsystems reachable from system calls.
type Services struct {
	Procs  *proc.Table
	KSM    *ksm.KSM
	Frames FreeFrameCounter
}

type handler func(s *Services, caller *proc.Process, args []uintptr) int64

var handlers = map[Number]handler{
	SysKSM: sysKSM,
}

// Dispatch executes system call num on behalf of the process with the given
// pid and returns the value handed back to user space. Unknown calls and
// calls from processes that are not resident return -1.
func Dispatch(s *Services, pid int, num Number, args ...uintptr) int64 {
	caller := s.Procs.Lookup(pid)
	if caller == nil || !caller.State.Resident() {
		klog.For("syscall").Warn("system call from unknown process", "pid", pid, "num", uintptr(num))
		return errReturn
	}

	h, ok := handlers[num]
	if !ok {
		klog.For("syscall").Warn("unknown system call", "pid", pid, "num", uintptr(num))
		return errReturn
	}

	return h(s, caller, args)
}

// argAddr returns the n-th argument as a user address.
func argAddr(args []uintptr, n int) uintptr {
	if n >= len(args) {
		return 0
	}
	return args[n]
}
