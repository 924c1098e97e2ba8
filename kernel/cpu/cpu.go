// Package cpu contains the processor control primitives used by the kernel.
package cpu

import "os"

// haltExitCode is the host process exit status reported when the simulated
// processor halts after a kernel panic.
const haltExitCode = 2

// exitFn is used by tests to intercept Halt.
var exitFn = os.Exit

// Halt stops instruction execution. On the hosted simulator this terminates
// the process. Halt never returns.
func Halt() {
	exitFn(haltExitCode)
}
