// Package kfmt implements the kernel's unrecoverable error path.
package kfmt

import (
	"fmt"
	"io"
	"os"

	"samepage/kernel"
	"samepage/kernel/cpu"
	"samepage/kernel/klog"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	// outputSink receives the panic banner.
	outputSink io.Writer = os.Stderr

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetOutputSink redirects the panic banner to w.
func SetOutputSink(w io.Writer) {
	outputSink = w
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	fmt.Fprintf(outputSink, "\n-----------------------------------\n")
	if err != nil {
		fmt.Fprintf(outputSink, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
		klog.For(err.Module).Error("unrecoverable error", "err", err.Message)
	}
	fmt.Fprintf(outputSink, "*** kernel panic: system halted ***")
	fmt.Fprintf(outputSink, "\n-----------------------------------\n")

	cpuHaltFn()
}
