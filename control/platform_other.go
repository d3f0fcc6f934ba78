//go:build !linux && !windows

package control

import "runtime"

// RegisterPlatformProbes adds the CPU count.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
