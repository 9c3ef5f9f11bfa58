// Package cpu exposes the privileged amd64 instructions used by the memory
// manager. All functions are implemented in assembly and fault if invoked
// outside ring 0; callers route them through package-level hooks so they can
// be replaced by tests.
package cpu

// SaveFlagsAndDisableInterrupts returns the current RFLAGS value and then
// disables interrupt handling.
func SaveFlagsAndDisableInterrupts() uintptr

// RestoreFlags loads the supplied value into RFLAGS. It re-enables interrupts
// only if they were enabled when the flags were saved.
func RestoreFlags(flags uintptr)

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
