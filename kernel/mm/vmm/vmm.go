// Package vmm manages the 4-level amd64 page table hierarchy: it builds the
// boot identity map and populates and tears down the page tables that back
// the address ranges of loaded programs.
package vmm

import (
	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/cpu"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	switchPDTFn     = cpu.SwitchPDT
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePageInPath is returned when a page table walk that needs to
	// descend into a lower level table encounters a huge page entry.
	ErrHugePageInPath = &kernel.Error{Module: "vmm", Message: "huge page entry in page table path"}

	// ErrAddressSpaceExhausted is returned by Map when the requested range
	// runs past the last entry of the PML4.
	ErrAddressSpaceExhausted = &kernel.Error{Module: "vmm", Message: "mapping runs past the end of the address space"}
)
