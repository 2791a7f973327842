package vm

import (
	"os"
	"runtime/debug"
	"strconv"
)

// RunWithGCDisabled runs v to completion the same way Run does, but
// turns the garbage collector off for the duration of execution and
// restores whatever GOGC was set to (100 if unset) afterward. Bytecode
// execution is a tight loop with no large allocations of its own (the
// call stack is sized up front and the heap grows only on ALOC);
// letting the collector run during it only adds pause latency for no
// benefit. Callers running
// many short-lived VMs back to back should prefer plain Run, since
// disabling and restoring the collector around every single one adds
// more overhead than it saves.
func RunWithGCDisabled(v *VM) []VMEvent {
	restore := 100
	if key, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(key); err == nil {
			restore = n
		}
	}

	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(restore)

	return v.Run()
}
