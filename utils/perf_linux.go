//go:build linux

package utils

import (
	"runtime"

	perf "github.com/hodgesds/perf-utils"
)

// CountInstructions runs f and reports the retired CPU instructions. If the
// counter cannot be opened, f is still run and counted is false.
func CountInstructions(f func() error) (instructions uint64, counted bool, err error) {
	var (
		ran bool
		pv  *perf.ProfileValue
	)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pv, err = perf.CPUInstructions(func() error {
		ran = true
		return f()
	})
	if !ran {
		return 0, false, f()
	}
	if err != nil {
		return
	}
	instructions, counted = pv.Value, true
	return
}
