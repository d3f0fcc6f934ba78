// hioload-talk/internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for dispatcher threads.

package concurrency

import (
	"runtime"

	"github.com/momentics/hioload-talk/affinity"
)

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpuID modulo the CPU count. The lock is kept even if
// pinning fails.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	return affinity.SetAffinity(cpuID % NumCPUs())
}

// UnpinCurrentThread clears the CPU binding and releases the thread lock.
func UnpinCurrentThread() {
	_ = affinity.ClearAffinity()
	runtime.UnlockOSThread()
}
