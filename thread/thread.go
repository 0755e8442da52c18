package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

// Realtime locks the calling goroutine to its own kernel thread and elevates
// that thread's priority to realtime. It sets the round-robin scheduling
// policy and priority level 10 (lower-middle of the range) — used by the
// sx1276 actor goroutine, whose reset pulse widths and TX-done poll cadence
// are timing sensitive.
func Realtime() error {
	// First pin goroutine to its own kernel thread.
	runtime.LockOSThread()
	// Get the ID of the thread.
	tid := syscall.Gettid()
	// Give this thread realtime priority.
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

type schedParam struct {
	Priority int
}
