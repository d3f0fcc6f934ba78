//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
)

func setThreadMask(mask uintptr) error {
	ret, _, err := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	if ret == 0 {
		return fmt.Errorf("affinity: SetThreadAffinityMask: %w", err)
	}
	return nil
}

func setAffinityPlatform(cpuID int) error {
	return setThreadMask(uintptr(1) << uint(cpuID))
}

func clearAffinityPlatform() error {
	n := runtime.NumCPU()
	if n >= 64 {
		return setThreadMask(^uintptr(0))
	}
	return setThreadMask(uintptr(1)<<uint(n) - 1)
}
