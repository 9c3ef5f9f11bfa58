package exec

import (
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel/mm"
)

// ProgramStackSize is the size of the stack that programs run on. A
// program that needs more stack than this overruns it.
const ProgramStackSize = 64 * mm.Kb

// programStack is shared by all programs; they run to completion one at a
// time.
var programStack [ProgramStackSize]byte

// callEntry switches to the stack that ends at stackTop and invokes the
// function at entry using the System V calling convention for
// int main(int argc, char **argv). It returns the result of the call.
func callEntry(entry uintptr, argc int, argv unsafe.Pointer, stackTop uintptr) int

// callFlat switches to the stack that ends at stackTop and invokes the
// parameterless function at entry.
func callFlat(entry, stackTop uintptr)

// programStackTop returns the address just past the end of programStack.
func programStackTop() uintptr {
	return uintptr(unsafe.Pointer(&programStack[0])) + uintptr(len(programStack))
}

// runEntry calls the program entry point at entry on the program stack and
// passes it the argc entries of the NULL-terminated C array at argv.
func runEntry(entry uintptr, argc int, argv unsafe.Pointer) int {
	return callEntry(entry, argc, argv, programStackTop())
}

// runFlat calls a flat binary image at entry on the program stack.
func runFlat(entry uintptr) {
	callFlat(entry, programStackTop())
}
