package kfmt

import (
	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

const panicRule = "\n-----------------------------------\n"

// Panic reports an unrecoverable error and halts the CPU. It is used when the
// memory manager detects a state it cannot continue from, such as a failure
// to seed the frame allocator at boot. Panic accepts a *kernel.Error, a Go
// error, a string or nil. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	}

	Printf(panicRule)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicRule)

	cpuHaltFn()
}
